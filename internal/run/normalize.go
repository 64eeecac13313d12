package run

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnexpectedStateType is returned by Normalize when the input cannot
// be interpreted as a run state.
var ErrUnexpectedStateType = errors.New("unexpected run state type")

// Normalize coerces a stored or transported representation of a run
// state back into the canonical *State. It accepts the canonical type
// itself, a generic key/value map, or raw JSON; anything else fails
// fast with a descriptive error. The orchestrator never needs this
// (its entry point both takes and returns the canonical type); it
// exists for the serialization boundary, where archived runs come back
// as maps or bytes.
func Normalize(v any) (*State, error) {
	switch t := v.(type) {
	case *State:
		if t == nil {
			return nil, fmt.Errorf("%w: nil state", ErrUnexpectedStateType)
		}
		return t, validate(t)
	case State:
		st := t
		return &st, validate(&st)
	case map[string]any:
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("failed to re-encode state map: %w", err)
		}
		return decodeState(raw)
	case json.RawMessage:
		return decodeState(t)
	case []byte:
		return decodeState(t)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedStateType, v)
	}
}

func decodeState(raw []byte) (*State, error) {
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedStateType, err)
	}
	return &st, validate(&st)
}

func validate(st *State) error {
	if st.Task == "" {
		return fmt.Errorf("%w: missing task", ErrUnexpectedStateType)
	}
	if st.RetryCount < 0 || st.MaxRetries < 0 {
		return fmt.Errorf("%w: negative retry counters", ErrUnexpectedStateType)
	}
	return nil
}
