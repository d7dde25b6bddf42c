package task

// Outcome is a worker's report for a leased task: either a result blob or
// a structured failure, never both.
type Outcome struct {
	Result  []byte
	Failure *ErrorPayload
}

// Failed reports whether the outcome carries a failure.
func (o Outcome) Failed() bool {
	return o.Failure != nil
}
