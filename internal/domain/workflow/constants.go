package workflow

import "fmt"

type Timeline string

const (
	TimelineQuarterly  Timeline = "quarterly"
	TimelineHalfYearly Timeline = "half-yearly"
	TimelineAnnual     Timeline = "annual"
)

func ParseTimeline(value string) (Timeline, error) {
	switch t := Timeline(value); t {
	case TimelineQuarterly, TimelineHalfYearly, TimelineAnnual:
		return t, nil
	}
	return "", invalidInput(fmt.Sprintf("unknown timeline %q", value))
}

const (
	ReviewStatusPending = "pending"
	ReviewStatusFinal   = "final"
)

const (
	CycleStatusOpen   = "open"
	CycleStatusClosed = "closed"
)

const (
	MinRating = 1
	MaxRating = 5
)

var ratingLabels = map[int]string{
	5: "Excellent",
	4: "Good",
	3: "Satisfactory",
	2: "Needs Improvement",
	1: "Unsatisfactory",
}

// RatingLabel names a whole rating. Out of range values have no label.
func RatingLabel(rating int) string {
	return ratingLabels[rating]
}

const submissionSeparator = "\n\n--- Submission comments ---\n"
