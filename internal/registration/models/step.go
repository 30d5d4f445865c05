package models

import "fmt"

// Step is a wizard position, 1 through 4.
type Step int

const (
	StepPersonal  Step = 1
	StepCompany   Step = 2
	StepDocuments Step = 3
	StepReview    Step = 4
)

func (s Step) IsValid() bool {
	return s >= StepPersonal && s <= StepReview
}

func (s Step) IsLast() bool {
	return s == StepReview
}

// Next returns the following step, saturating at StepReview.
func (s Step) Next() Step {
	if s >= StepReview {
		return StepReview
	}
	return s + 1
}

// Prev returns the preceding step, saturating at StepPersonal.
func (s Step) Prev() Step {
	if s <= StepPersonal {
		return StepPersonal
	}
	return s - 1
}

func (s Step) String() string {
	switch s {
	case StepPersonal:
		return "personal"
	case StepCompany:
		return "company"
	case StepDocuments:
		return "documents"
	case StepReview:
		return "review"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}
