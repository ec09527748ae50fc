package domain

// Status represents the lifecycle state of a download job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// String returns the string representation of Status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Job is the mutable state of one download task. Fields are only written
// by the job's own worker or the cancellation path, always under the
// registry lock; everyone else reads Snapshot copies.
type Job struct {
	ID        string
	URL       string
	Selector  string
	TargetDir string

	Status          Status
	ProgressPercent float64
	BytesDownloaded int64
	TotalBytes      int64 // 0 when unknown
	FilePath        string
	HostFilePath    string
	Error           string
}

// Snapshot is a stable copy of a job's state for API responses.
type Snapshot struct {
	JobID           string  `json:"jobId"`
	Status          Status  `json:"status"`
	ProgressPercent float64 `json:"progressPercent"`
	BytesDownloaded int64   `json:"bytesDownloaded"`
	TotalBytes      *int64  `json:"totalBytes,omitempty"`
	FilePath        string  `json:"filePath,omitempty"`
	HostFilePath    string  `json:"hostFilePath,omitempty"`
	Error           string  `json:"error,omitempty"`
}

func (j *Job) snapshot() Snapshot {
	snap := Snapshot{
		JobID:           j.ID,
		Status:          j.Status,
		ProgressPercent: j.ProgressPercent,
		BytesDownloaded: j.BytesDownloaded,
		FilePath:        j.FilePath,
		HostFilePath:    j.HostFilePath,
		Error:           j.Error,
	}
	if j.TotalBytes > 0 {
		total := j.TotalBytes
		snap.TotalBytes = &total
	}
	return snap
}
