package entity

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to JobState
		want     bool
	}{
		{StatePending, StateSubmitted, true},
		{StatePending, StateCancelled, true},
		{StatePending, StateInProgress, false},
		{StateSubmitted, StateInProgress, true},
		{StateSubmitted, StateSucceeded, false},
		{StateInProgress, StateInProgress, true},
		{StateInProgress, StateSucceeded, true},
		{StateInProgress, StateCancelled, true},
		{StateFailed, StatePending, true},
		{StateTimedOut, StatePending, true},
		{StateFailed, StateSubmitted, false},
		{StateSucceeded, StatePending, false},
		{StateCancelled, StatePending, false},
		{StateSucceeded, StateCancelled, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	terminal := []JobState{StateSucceeded, StateFailed, StateTimedOut, StateCancelled}
	for _, s := range terminal {
		if !s.Terminal() || s.Active() {
			t.Errorf("%s must be terminal", s)
		}
	}
	active := []JobState{StatePending, StateSubmitted, StateInProgress}
	for _, s := range active {
		if s.Terminal() || !s.Active() {
			t.Errorf("%s must be active", s)
		}
	}
}

func TestFormatsRoundTrip(t *testing.T) {
	job := TranslationJob{RequestedFormats: JoinFormats([]string{"svf2", "obj", "gltf"})}
	got := job.Formats()
	if len(got) != 3 || got[0] != "svf2" || got[1] != "obj" || got[2] != "gltf" {
		t.Fatalf("unexpected formats %v", got)
	}

	empty := TranslationJob{}
	if empty.Formats() != nil {
		t.Fatalf("empty formats must be nil, got %v", empty.Formats())
	}
}

func TestStallReference(t *testing.T) {
	created := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	submitted := created.Add(time.Minute)
	checked := created.Add(5 * time.Minute)

	job := TranslationJob{CreatedAt: created}
	if got := job.StallReference(); !got.Equal(created) {
		t.Fatalf("expected created_at, got %v", got)
	}

	job.SubmittedAt = &submitted
	if got := job.StallReference(); !got.Equal(submitted) {
		t.Fatalf("expected submitted_at, got %v", got)
	}

	job.LastCheckedAt = &checked
	if got := job.StallReference(); !got.Equal(checked) {
		t.Fatalf("expected last_checked_at, got %v", got)
	}
}
