package monitor

import "time"

// ErrorThreshold is the consecutive-failure count that moves a monitor to StatusError.
const ErrorThreshold = 3

// IsDue reports whether the monitor should be checked at now.
// Only active monitors are ever due.
func (t Task) IsDue(now time.Time) bool {
	if t.Status != StatusActive {
		return false
	}
	if t.LastCheckAt == nil {
		return true
	}
	next := t.LastCheckAt.Add(time.Duration(t.CheckIntervalMinutes) * time.Minute)
	return !now.Before(next)
}

// RecordSuccess stamps a successful check and clears the failure state.
func (t *Task) RecordSuccess(at time.Time) {
	t.LastCheckAt = &at
	t.ErrorCount = 0
	t.LastError = nil
	t.UpdatedAt = at
}

// RecordFailure stamps a failed check and escalates an active monitor to
// StatusError at the threshold. A monitor paused mid-check stays paused.
func (t *Task) RecordFailure(at time.Time, message string) {
	t.LastCheckAt = &at
	t.ErrorCount++
	t.LastError = &message
	if t.Status == StatusActive && t.ErrorCount >= ErrorThreshold {
		t.Status = StatusError
	}
	t.UpdatedAt = at
}

// Pause stops the scheduler from selecting the monitor.
func (t *Task) Pause(at time.Time) {
	t.Status = StatusPaused
	t.UpdatedAt = at
}

// Resume reactivates the monitor with a clean failure history.
func (t *Task) Resume(at time.Time) {
	t.Status = StatusActive
	t.ErrorCount = 0
	t.LastError = nil
	t.UpdatedAt = at
}
