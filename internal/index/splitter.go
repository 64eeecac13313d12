package index

import "strings"

// Default chunking geometry, in characters.
const (
	DefaultChunkSize    = 700
	DefaultChunkOverlap = 120
)

// Chunk is one indexable piece of a document.
type Chunk struct {
	SourceID string
	Text     string
	Location string
	Page     *int
	Ordinal  int // 1-based, counted per document
}

// SplitDocument chunks a document and labels each chunk with a
// human-readable location. Form feeds separate pages; when a document
// has them the location reads "page N, chunk M", otherwise "chunk M".
// The chunk counter runs across the whole document.
func SplitDocument(doc Document, size, overlap int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}

	pages := strings.Split(doc.Text, "\f")
	paged := len(pages) > 1

	var chunks []Chunk
	ordinal := 0
	for pageIdx, pageText := range pages {
		for _, text := range splitText(pageText, size, overlap) {
			ordinal++
			c := Chunk{
				SourceID: doc.SourceID,
				Text:     text,
				Ordinal:  ordinal,
			}
			if paged {
				page := pageIdx + 1
				c.Page = &page
				c.Location = locationLabel(&page, ordinal)
			} else {
				c.Location = locationLabel(nil, ordinal)
			}
			chunks = append(chunks, c)
		}
	}
	return chunks
}

func locationLabel(page *int, ordinal int) string {
	if page != nil {
		return "page " + itoa(*page) + ", chunk " + itoa(ordinal)
	}
	return "chunk " + itoa(ordinal)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// splitText cuts text into chunks of at most size runes with the given
// overlap, breaking at the strongest separator available inside each
// window: paragraph break, then line break, then sentence end, then
// word boundary, then a hard cut.
func splitText(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= size {
		return []string{string(runes)}
	}

	var out []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			if chunk := strings.TrimSpace(string(runes[start:])); chunk != "" {
				out = append(out, chunk)
			}
			break
		}

		cut := bestCut(runes[start:end])
		if chunk := strings.TrimSpace(string(runes[start : start+cut])); chunk != "" {
			out = append(out, chunk)
		}

		next := start + cut - overlap
		if next <= start {
			next = start + cut
		}
		start = next
	}
	return out
}

// bestCut returns the cut position just after the last occurrence of
// the strongest separator in the window, or the window length when no
// separator exists.
func bestCut(window []rune) int {
	if i := lastPair(window, '\n', '\n'); i > 0 {
		return i + 2
	}
	if i := lastRune(window, '\n'); i > 0 {
		return i + 1
	}
	if i := lastPair(window, '.', ' '); i > 0 {
		return i + 2
	}
	if i := lastRune(window, ' '); i > 0 {
		return i + 1
	}
	return len(window)
}

func lastRune(window []rune, r rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == r {
			return i
		}
	}
	return -1
}

func lastPair(window []rune, a, b rune) int {
	for i := len(window) - 2; i >= 0; i-- {
		if window[i] == a && window[i+1] == b {
			return i
		}
	}
	return -1
}
