package harness

// TraceEvent records one flow step and its observable effects.
type TraceEvent struct {
	Seq         int64  `json:"seq"`
	Op          string `json:"op"`
	Table       string `json:"table,omitempty"`
	Description string `json:"description,omitempty"`

	// Error is the step's error code, empty on success.
	Error string `json:"error,omitempty"`

	// Notifications lists the push notifications the step produced, as
	// "change table/id".
	Notifications []string `json:"notifications"`

	// Events holds the view events each named view emitted during the step.
	Events map[string][]string `json:"events,omitempty"`

	// Notices holds the messages the undo manager reported during the step.
	Notices []string `json:"notices,omitempty"`

	// Views holds each open view's row ids after the step.
	Views map[string][]int64 `json:"views"`

	UndoCount int `json:"undo_count"`
	RedoCount int `json:"redo_count"`
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
