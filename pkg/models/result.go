package models

import "fmt"

// Status is the lifecycle state of one slot in a batch.
type Status int

const (
	// StatusPending means the request has not finished.
	StatusPending Status = iota
	// StatusSucceeded means Output holds a usable value.
	StatusSucceeded
	// StatusFailed means the request ran and Err holds the reason.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pending":
		*s = StatusPending
	case "succeeded":
		*s = StatusSucceeded
	case "failed":
		*s = StatusFailed
	default:
		return fmt.Errorf("unknown status %q", text)
	}
	return nil
}

// OutputKind tells which field of Output is populated.
type OutputKind int

const (
	OutputNone OutputKind = iota
	OutputText
	OutputStructured
	OutputToolCall
)

func (k OutputKind) String() string {
	switch k {
	case OutputText:
		return "text"
	case OutputStructured:
		return "structured"
	case OutputToolCall:
		return "tool_call"
	default:
		return "none"
	}
}

// Output is the content of a successful response.
type Output struct {
	Kind OutputKind
	// Text is the cleaned message content for OutputText.
	Text string
	// Value is the decoded record for OutputStructured.
	Value any
	// Choice is the raw choice for OutputToolCall.
	Choice *Choice
}

// Result is the outcome of one request, paired with its spec by Index.
type Result struct {
	Index    int
	Status   Status
	Output   Output
	Model    string
	Usage    Usage
	Cost     float64
	Attempts int
	// Repaired is set when truncated JSON was fixed locally; no usage is known.
	Repaired bool
	// Cached is set when the output came from the response cache.
	Cached bool
	Err    error
}

// BatchResult holds the ordered results of one executor call.
type BatchResult struct {
	ID        string
	Caller    string
	Results   []Result
	TotalCost float64
}

// Failed returns how many requests in the batch failed.
func (b *BatchResult) Failed() int {
	n := 0
	for _, r := range b.Results {
		if r.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Outputs returns the plain values of the batch in request order: the text,
// the decoded record or the tool-call choice. Failed slots are nil.
func (b *BatchResult) Outputs() []any {
	out := make([]any, len(b.Results))
	for i, r := range b.Results {
		if r.Status != StatusSucceeded {
			continue
		}
		switch r.Output.Kind {
		case OutputText:
			out[i] = r.Output.Text
		case OutputStructured:
			out[i] = r.Output.Value
		case OutputToolCall:
			out[i] = r.Output.Choice
		}
	}
	return out
}
