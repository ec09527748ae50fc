package domain

// Event is a tagged progress-stream message. Each variant carries a fixed
// schema and a "type" discriminator on the wire.
type Event interface {
	eventKind() string
}

// StatusEvent announces a status transition.
type StatusEvent struct {
	Type   string `json:"type"`
	Status Status `json:"status"`
}

// ProgressEvent carries byte-level download progress.
type ProgressEvent struct {
	Type            string  `json:"type"`
	ProgressPercent float64 `json:"progressPercent"`
	BytesDownloaded int64   `json:"bytesDownloaded"`
	TotalBytes      *int64  `json:"totalBytes,omitempty"`
	Speed           string  `json:"speed,omitempty"`
}

// CompleteEvent announces successful completion with the produced file.
type CompleteEvent struct {
	Type            string  `json:"type"`
	FilePath        string  `json:"filePath"`
	HostFilePath    string  `json:"hostFilePath,omitempty"`
	ProgressPercent float64 `json:"progressPercent"`
}

// ErrorEvent announces a failed job, retaining the last known percent.
type ErrorEvent struct {
	Type            string  `json:"type"`
	Error           string  `json:"error"`
	ProgressPercent float64 `json:"progressPercent"`
}

// SnapshotEvent carries a full job snapshot. It opens the progress stream
// and, with the "final" tag, closes it after a terminal state.
type SnapshotEvent struct {
	Type string `json:"type"`
	Snapshot
}

func (StatusEvent) eventKind() string   { return "status" }
func (ProgressEvent) eventKind() string { return "progress" }
func (CompleteEvent) eventKind() string { return "complete" }
func (ErrorEvent) eventKind() string    { return "error" }
func (SnapshotEvent) eventKind() string { return "snapshot" }

// NewStatusEvent builds a status transition event.
func NewStatusEvent(s Status) StatusEvent {
	return StatusEvent{Type: "status", Status: s}
}

// NewProgressEvent builds a progress event.
func NewProgressEvent(percent float64, downloaded, total int64, speed string) ProgressEvent {
	ev := ProgressEvent{
		Type:            "progress",
		ProgressPercent: percent,
		BytesDownloaded: downloaded,
		Speed:           speed,
	}
	if total > 0 {
		ev.TotalBytes = &total
	}
	return ev
}

// NewCompleteEvent builds a completion event.
func NewCompleteEvent(filePath, hostFilePath string) CompleteEvent {
	return CompleteEvent{
		Type:            "complete",
		FilePath:        filePath,
		HostFilePath:    hostFilePath,
		ProgressPercent: 100.0,
	}
}

// NewErrorEvent builds a failure event.
func NewErrorEvent(msg string, percent float64) ErrorEvent {
	return ErrorEvent{Type: "error", Error: msg, ProgressPercent: percent}
}

// NewSnapshotEvent builds the initial stream snapshot event.
func NewSnapshotEvent(snap Snapshot) SnapshotEvent {
	return SnapshotEvent{Type: "snapshot", Snapshot: snap}
}

// NewFinalEvent builds the terminal stream snapshot event.
func NewFinalEvent(snap Snapshot) SnapshotEvent {
	return SnapshotEvent{Type: "final", Snapshot: snap}
}
