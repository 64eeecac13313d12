package eval

import (
	"fmt"
	"regexp"
	"strings"
)

// wordPattern counts words the same way the scoring report defines them:
// maximal runs of letters, digits, and underscores.
var wordPattern = regexp.MustCompile(`\w+`)

// Checks holds the assertions applied to a single case's output. All
// fields are optional; absent fields are skipped. Phrase matching is
// case-insensitive.
type Checks struct {
	// MustInclude lists phrases that must all appear in the output.
	MustInclude []string `json:"must_include,omitempty" yaml:"must_include,omitempty"`

	// MustNotInclude lists phrases that must not appear in the output.
	MustNotInclude []string `json:"must_not_include,omitempty" yaml:"must_not_include,omitempty"`

	// MustIncludeAny requires at least one of the listed phrases.
	MustIncludeAny []string `json:"must_include_any,omitempty" yaml:"must_include_any,omitempty"`

	// MaxWords caps the output length in words. Nil means unlimited.
	MaxWords *int `json:"max_words,omitempty" yaml:"max_words,omitempty"`

	// MustReturnNotFound expects the run to have refused with the
	// standard not-found response rather than answering the task.
	MustReturnNotFound bool `json:"must_return_not_found,omitempty" yaml:"must_return_not_found,omitempty"`
}

// Evaluate applies every configured check to output and returns one
// failure description per violated check. An empty slice means the
// case passed.
func (c Checks) Evaluate(output string) []string {
	var failures []string
	lowered := strings.ToLower(output)

	for _, phrase := range c.MustInclude {
		if !strings.Contains(lowered, strings.ToLower(phrase)) {
			failures = append(failures, fmt.Sprintf("Missing required phrase: '%s'", phrase))
		}
	}

	for _, phrase := range c.MustNotInclude {
		if strings.Contains(lowered, strings.ToLower(phrase)) {
			failures = append(failures, fmt.Sprintf("Contains forbidden phrase: '%s'", phrase))
		}
	}

	// A present-but-empty list is unsatisfiable on purpose; only a nil
	// slice (field absent) skips the check.
	if c.MustIncludeAny != nil && !containsAny(lowered, c.MustIncludeAny) {
		failures = append(failures, fmt.Sprintf("Must include at least one of: %s", formatPhraseList(c.MustIncludeAny)))
	}

	if c.MaxWords != nil {
		if wc := WordCount(output); wc > *c.MaxWords {
			failures = append(failures, fmt.Sprintf("Word count exceeded: %d > %d", wc, *c.MaxWords))
		}
	}

	if c.MustReturnNotFound && !looksLikeNotFound(lowered) {
		failures = append(failures, "Expected 'Not found in sources' behavior.")
	}

	return failures
}

// WordCount returns the number of word tokens in text.
func WordCount(text string) int {
	return len(wordPattern.FindAllString(text, -1))
}

func containsAny(lowered string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(lowered, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// looksLikeNotFound accepts minor phrasing drift around the canonical
// refusal so a model that writes "not documented" still scores as a
// correct refusal.
func looksLikeNotFound(lowered string) bool {
	return strings.Contains(lowered, "not found in sources") ||
		strings.Contains(lowered, "not documented")
}

func formatPhraseList(phrases []string) string {
	quoted := make([]string, len(phrases))
	for i, phrase := range phrases {
		quoted[i] = fmt.Sprintf("'%s'", phrase)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
