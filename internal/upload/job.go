package upload

import (
	"fmt"
	"strings"
)

// Phase is the position of an upload job in the initiate, upload, track protocol.
type Phase int

const (
	PhaseInitiated Phase = iota
	PhaseUploading
	PhaseTracking
	PhaseSucceeded
	PhaseFailed
	PhaseTimedOut
)

func (p Phase) String() string {
	switch p {
	case PhaseInitiated:
		return "Initiated"
	case PhaseUploading:
		return "Uploading"
	case PhaseTracking:
		return "Tracking"
	case PhaseSucceeded:
		return "Succeeded"
	case PhaseFailed:
		return "Failed"
	case PhaseTimedOut:
		return "TimedOut"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Terminal reports whether p ends the job.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed || p == PhaseTimedOut
}

// Job tracks one artifact through the upload protocol. It reaches exactly one terminal phase.
type Job struct {
	Artifact      string
	TrackingID    string
	UploadURL     string
	Phase         Phase
	Attempts      int
	ProcessStatus string
	ImportStatus  string
	Reason        string
}

var allowedTransitions = map[Phase][]Phase{
	PhaseInitiated: {PhaseUploading, PhaseFailed},
	PhaseUploading: {PhaseTracking, PhaseFailed},
	PhaseTracking:  {PhaseSucceeded, PhaseFailed, PhaseTimedOut},
}

// advance moves the job to next. Transitions out of a terminal phase are rejected.
func (j *Job) advance(next Phase) error {
	for _, p := range allowedTransitions[j.Phase] {
		if p == next {
			j.Phase = next
			return nil
		}
	}
	return fmt.Errorf("invalid upload job transition %s -> %s", j.Phase, next)
}

func (j *Job) fail(reason string) {
	if j.Phase.Terminal() {
		return
	}
	j.Phase = PhaseFailed
	j.Reason = reason
}

// trackVerdict classifies one poll response.
func trackVerdict(processStatus, importStatus string) Phase {
	ps := strings.ToUpper(strings.TrimSpace(processStatus))
	is := strings.ToUpper(strings.TrimSpace(importStatus))
	if ps == "SUCCESS" && is == "SUCCESS" {
		return PhaseSucceeded
	}
	if ps == "FAILED" || is == "FAILED" || ps == "ERROR" || is == "ERROR" {
		return PhaseFailed
	}
	return PhaseTracking
}
