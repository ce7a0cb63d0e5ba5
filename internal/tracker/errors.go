package tracker

var (
	ErrInvalidWindow      = &TrackerError{"invalid window"}
	ErrInvalidState       = &TrackerError{"invalid state: current window not found"}
	ErrInvalidMeasurement = &TrackerError{"invalid measurement"}
	ErrInvalidThresholds  = &TrackerError{"invalid range thresholds"}
)

// TrackerError represents a tracker error
type TrackerError struct {
	msg string
}

func (e *TrackerError) Error() string {
	return e.msg
}
