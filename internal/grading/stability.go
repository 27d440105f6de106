package grading

// Status is the stability of a batch derived from its error rate.
type Status string

const (
	StatusStable   Status = "Stable"
	StatusModerate Status = "Moderate"
	StatusCritical Status = "Critical"
)

const (
	moderateAbove = 10.0
	criticalAbove = 15.0
)

// ClassifyStability maps an error rate (percent) to a stability status.
func ClassifyStability(errorRate float64) Status {
	switch {
	case errorRate > criticalAbove:
		return StatusCritical
	case errorRate > moderateAbove:
		return StatusModerate
	default:
		return StatusStable
	}
}

// Color returns the display colour of the status.
func (s Status) Color() string {
	switch s {
	case StatusModerate:
		return "#FFC107"
	case StatusCritical:
		return "#F44336"
	default:
		return "#4CAF50"
	}
}
