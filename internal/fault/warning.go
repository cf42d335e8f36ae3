package fault

import "fmt"

// WarningKind categorizes a non-fatal condition.
type WarningKind string

// WarnPartialMatch is recorded when a survey file matches no store row.
const WarnPartialMatch WarningKind = "partial_match"

// Warning is a non-fatal condition reported at the end of a run.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Path    string      `json:"path,omitempty"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	if w.Path != "" {
		return fmt.Sprintf("%s: %s (%s)", w.Kind, w.Message, w.Path)
	}
	return fmt.Sprintf("%s: %s", w.Kind, w.Message)
}
