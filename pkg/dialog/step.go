package dialog

// Step is the explicit dialogue state. Transitions happen only through
// the controller's handlers, so an unexpected (step, event) pair is a
// visible no-op rather than a silent string-switch fallthrough.
type Step int

const (
	StepIdle Step = iota

	// Creation path.
	StepAskMedicine
	StepAskStart
	StepAskEnd
	StepAskTimes

	// Edit path.
	StepEditMedicine
	StepEditField
	StepEditStart
	StepEditEnd
	StepEditTimes
)

func (s Step) String() string {
	switch s {
	case StepIdle:
		return "idle"
	case StepAskMedicine:
		return "ask_medicine"
	case StepAskStart:
		return "ask_start"
	case StepAskEnd:
		return "ask_end"
	case StepAskTimes:
		return "ask_times"
	case StepEditMedicine:
		return "edit_medicine"
	case StepEditField:
		return "edit_field"
	case StepEditStart:
		return "edit_start_date"
	case StepEditEnd:
		return "edit_end_date"
	case StepEditTimes:
		return "edit_times"
	default:
		return "unknown"
	}
}
