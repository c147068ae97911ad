package model

import (
	"time"
)

// JobStatus is the lifecycle state of a processing job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status is final. Terminal jobs are never
// retried or resubmitted automatically.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ValidJobTransition enforces the allowed job state machine edges.
func ValidJobTransition(from, to JobStatus) bool {
	switch from {
	case JobQueued:
		return to == JobProcessing
	case JobProcessing:
		return to == JobCompleted || to == JobFailed
	default:
		return false
	}
}

// JobMetadata holds pipeline-specific results. Music jobs fill key, BPM,
// duration and lyrics; speech jobs fill duration and transcript.
type JobMetadata struct {
	Key        string      `json:"key,omitempty"`
	BPM        int         `json:"bpm,omitempty"`
	Duration   string      `json:"duration,omitempty"`
	SampleRate int         `json:"sample_rate,omitempty"`
	Lyrics     *Transcript `json:"lyrics,omitempty"`
	Transcript *Transcript `json:"transcript,omitempty"`
}

// Job is one unit of asynchronous pipeline execution. Its mutable fields are
// owned by the worker executing it; everything else sees snapshot copies.
type Job struct {
	JobID       string            `json:"job_id"`
	FileID      string            `json:"file_id"`
	Filename    string            `json:"filename,omitempty"`
	SourceKey   string            `json:"source_key,omitempty"`
	ContentType ContentType       `json:"content_type"`
	Status      JobStatus         `json:"status"`
	Progress    int               `json:"progress"`
	Metadata    JobMetadata       `json:"metadata"`
	Artifacts   map[string]string `json:"artifacts"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt time.Time         `json:"completed_at,omitempty"`
}

// Clone returns a deep copy safe to hand to readers while the worker keeps
// mutating the original.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Artifacts = make(map[string]string, len(j.Artifacts))
	for k, v := range j.Artifacts {
		cp.Artifacts[k] = v
	}
	if j.Metadata.Lyrics != nil {
		cp.Metadata.Lyrics = j.Metadata.Lyrics.Clone()
	}
	if j.Metadata.Transcript != nil {
		cp.Metadata.Transcript = j.Metadata.Transcript.Clone()
	}
	return &cp
}

// StemNames is the fixed set of stems the separation stage produces.
var StemNames = []string{"vocals", "drums", "bass", "other", "guitar", "piano"}
