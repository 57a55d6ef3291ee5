package chat

type OutcomeKind string

const (
	OutcomeOK      OutcomeKind = "ok"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// Outcome reports what happened to the remote half of a write. The local
// half has always been applied by the time an Outcome is returned.
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
	Err    error       `json:"-"`
}

func outcomeOK() Outcome { return Outcome{Kind: OutcomeOK} }

func outcomeSkipped(reason string) Outcome { return Outcome{Kind: OutcomeSkipped, Reason: reason} }

func outcomeFailed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: err.Error(), Err: err}
}

func (o Outcome) OK() bool { return o.Kind == OutcomeOK }
