package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from JobStatus
		to   JobStatus
		want bool
	}{
		{JobStatusPending, JobStatusRunning, true},
		{JobStatusPending, JobStatusFailed, true},
		{JobStatusPending, JobStatusSucceeded, false},
		{JobStatusRunning, JobStatusSucceeded, true},
		{JobStatusRunning, JobStatusFailed, true},
		{JobStatusRunning, JobStatusPending, false},
		{JobStatusSucceeded, JobStatusFailed, false},
		{JobStatusSucceeded, JobStatusRunning, false},
		{JobStatusFailed, JobStatusRunning, false},
		{JobStatusFailed, JobStatusSucceeded, false},
	}
	for _, tc := range tests {
		if got := ValidTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	if JobStatusPending.IsTerminal() || JobStatusRunning.IsTerminal() {
		t.Fatal("pending/running must not be terminal")
	}
	if !JobStatusSucceeded.IsTerminal() || !JobStatusFailed.IsTerminal() {
		t.Fatal("succeeded/failed must be terminal")
	}
}

func TestParseJobStatus(t *testing.T) {
	for _, raw := range []string{"pending", "running", "succeeded", "failed"} {
		if _, ok := ParseJobStatus(raw); !ok {
			t.Errorf("ParseJobStatus(%q) rejected a valid status", raw)
		}
	}
	for _, raw := range []string{"", "done", "PENDING", "cancelled"} {
		if _, ok := ParseJobStatus(raw); ok {
			t.Errorf("ParseJobStatus(%q) accepted an invalid status", raw)
		}
	}
}

func TestArtifactKey(t *testing.T) {
	a := Artifact{JobID: "abc", Name: "output.mp4"}
	if got := a.Key(); got != "abc/output.mp4" {
		t.Fatalf("Key() = %q, want %q", got, "abc/output.mp4")
	}
}

func TestCodeForError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{nil, ErrorCodeNone},
		{ErrInvalidInput, ErrorCodeInvalidInput},
		{fmt.Errorf("wrapped: %w", ErrInvalidInput), ErrorCodeInvalidInput},
		{ErrTimeout, ErrorCodeTimeout},
		{ErrCancelled, ErrorCodeCancelled},
		{ErrResourceExhausted, ErrorCodeResourceExhausted},
		{ErrEngineFailure, ErrorCodeEngineFailure},
		{errors.New("anything else"), ErrorCodeEngineFailure},
	}
	for _, tc := range tests {
		if got := CodeForError(tc.err); got != tc.want {
			t.Errorf("CodeForError(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
