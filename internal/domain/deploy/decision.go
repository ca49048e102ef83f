package deploy

// Decision is the outcome of an operator gate in front of a stage.
type Decision int

const (
	// Proceed runs the stage.
	Proceed Decision = iota
	// Skip bypasses the stage and continues with the next one.
	Skip
	// Abort ends the whole run successfully without running further stages.
	Abort
)

// String returns the lowercase decision name used in logs.
func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case Skip:
		return "skip"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}
