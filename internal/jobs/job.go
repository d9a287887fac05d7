package jobs

import "time"

// Status is the lifecycle state of an ingestion job
type Status string

const (
	StatusPending     Status = "pending"
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusParsing     Status = "parsing"
	StatusIndexing    Status = "indexing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"

	// StatusUnknown is reported for ids the manager doesn't track
	StatusUnknown Status = "unknown"
)

// Terminal reports whether no further transitions follow
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Running reports whether the job occupies a concurrency slot
func (s Status) Running() bool {
	switch s {
	case StatusPending, StatusDownloading, StatusParsing, StatusIndexing:
		return true
	}
	return false
}

// Progress milestones
const (
	ProgressDownloading = 10
	ProgressParsing     = 40
	ProgressIndexing    = 70
	ProgressCompleted   = 100
)

// Job is a snapshot of one ingestion job
type Job struct {
	PaperID   string    `json:"paper_id"`
	Status    Status    `json:"status"`
	Step      string    `json:"step,omitempty"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	StartTime time.Time `json:"start_time"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Update is a partial change to a job. Empty fields keep the current value
// and progress never moves backwards.
type Update struct {
	Status   Status
	Step     string
	Progress int
	Error    string
}

func (j *Job) apply(u Update, now time.Time) {
	if u.Status != "" {
		j.Status = u.Status
	}
	if u.Step != "" {
		j.Step = u.Step
	}
	if u.Progress > j.Progress {
		j.Progress = u.Progress
	}
	if u.Progress > ProgressCompleted {
		j.Progress = ProgressCompleted
	}
	if u.Error != "" {
		j.Error = u.Error
	}
	j.UpdatedAt = now
}
