package normalize

import "fmt"

// Kind classifies why a provider response could not become metadata.
type Kind int

const (
	NotJSON Kind = iota
	InvalidJSON
	SchemaViolation
)

func (k Kind) String() string {
	switch k {
	case InvalidJSON:
		return "invalid_json"
	case SchemaViolation:
		return "schema_violation"
	default:
		return "not_json"
	}
}

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("normalize: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
