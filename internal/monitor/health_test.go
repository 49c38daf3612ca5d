package monitor

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTask_IsDue(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-30 * time.Minute)
	old := now.Add(-60 * time.Minute)

	tests := []struct {
		name string
		task Task
		want bool
	}{
		{"never checked", Task{Status: StatusActive, CheckIntervalMinutes: 60}, true},
		{"interval not elapsed", Task{Status: StatusActive, CheckIntervalMinutes: 60, LastCheckAt: &recent}, false},
		{"interval exactly elapsed", Task{Status: StatusActive, CheckIntervalMinutes: 60, LastCheckAt: &old}, true},
		{"paused never due", Task{Status: StatusPaused, CheckIntervalMinutes: 60}, false},
		{"error never due", Task{Status: StatusError, CheckIntervalMinutes: 60, LastCheckAt: &old}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, tc.task.IsDue(now))
		})
	}
}

func TestTask_ThreeFailuresEscalateToError(t *testing.T) {
	t.Parallel()

	at := time.Unix(100, 0).UTC()
	task := Task{Status: StatusActive}

	task.RecordFailure(at, "timeout")
	task.RecordFailure(at, "timeout")
	require.Equal(t, StatusActive, task.Status)
	require.Equal(t, 2, task.ErrorCount)

	task.RecordFailure(at, "http status 500")
	require.Equal(t, StatusError, task.Status)
	require.Equal(t, 3, task.ErrorCount)
	require.Equal(t, "http status 500", *task.LastError)
	require.Equal(t, at, *task.LastCheckAt)
}

func TestTask_FailureKeepsPausedMonitorPaused(t *testing.T) {
	t.Parallel()

	at := time.Unix(150, 0).UTC()
	task := Task{Status: StatusPaused, ErrorCount: 2}

	task.RecordFailure(at, "timeout")
	require.Equal(t, StatusPaused, task.Status)
	require.Equal(t, 3, task.ErrorCount)
	require.Equal(t, "timeout", *task.LastError)
}

func TestTask_SuccessResetsCounter(t *testing.T) {
	t.Parallel()

	at := time.Unix(200, 0).UTC()
	task := Task{Status: StatusActive}

	task.RecordFailure(at, "boom")
	task.RecordFailure(at, "boom")
	task.RecordSuccess(at)
	require.Zero(t, task.ErrorCount)
	require.Nil(t, task.LastError)

	task.RecordFailure(at, "boom")
	task.RecordFailure(at, "boom")
	require.Equal(t, StatusActive, task.Status)
}

func TestTask_PauseResume(t *testing.T) {
	t.Parallel()

	at := time.Unix(300, 0).UTC()
	msg := "decode failed"
	task := Task{Status: StatusError, ErrorCount: 4, LastError: &msg}

	task.Pause(at)
	require.Equal(t, StatusPaused, task.Status)
	require.Equal(t, 4, task.ErrorCount)

	task.Resume(at)
	require.Equal(t, StatusActive, task.Status)
	require.Zero(t, task.ErrorCount)
	require.Nil(t, task.LastError)
}

func TestError_KindMatching(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("get monitor: %w", Errorf(KindNotFound, "monitor %s not found", "m1"))
	require.ErrorIs(t, wrapped, ErrNotFound)
	require.NotErrorIs(t, wrapped, ErrConflict)
	require.Equal(t, KindNotFound, KindOf(wrapped))
	require.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))

	netErr := Wrap(KindNetwork, "request failed", errors.New("connection refused"))
	require.Equal(t, "request failed: connection refused", netErr.Error())
}

func TestDiff_HasChanges(t *testing.T) {
	t.Parallel()

	require.False(t, Diff{}.HasChanges())
	require.True(t, Diff{Modified: []Modification{{URL: "https://example.com/a"}}}.HasChanges())
}
