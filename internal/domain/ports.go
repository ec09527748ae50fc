package domain

import "context"

// ProbeFormat describes one downloadable format reported by the engine.
// Codec fields preserve the engine's convention: the literal "none" means
// the stream lacks that track.
type ProbeFormat struct {
	ID         string  `json:"id"`
	Resolution string  `json:"resolution,omitempty"`
	FPS        float64 `json:"fps,omitempty"`
	Ext        string  `json:"ext,omitempty"`
	VideoCodec string  `json:"vcodec,omitempty"`
	AudioCodec string  `json:"acodec,omitempty"`
	Note       string  `json:"note,omitempty"`
}

// ProbeResult is the normalized metadata for a probed URL.
type ProbeResult struct {
	Title       string        `json:"title,omitempty"`
	DurationSec int           `json:"durationSec,omitempty"`
	Thumbnail   string        `json:"thumbnail,omitempty"`
	Formats     []ProbeFormat `json:"formats"`
}

// Progress phases reported by the engine.
const (
	PhaseDownloading = "downloading"
	PhaseFinished    = "finished"
)

// ProgressUpdate is one progress callback payload from the engine.
type ProgressUpdate struct {
	Phase           string // "downloading" or "finished"
	BytesDownloaded int64
	TotalBytes      int64 // 0 when the engine cannot determine size
	FragmentIndex   int
	FragmentCount   int
	Filename        string
}

// Engine is the driven port for the external extraction/download tool.
// Download blocks until the transfer completes, fails, or ctx is
// cancelled; onProgress may be invoked from a different goroutine than
// the caller's.
type Engine interface {
	Probe(ctx context.Context, url string) (*ProbeResult, error)
	RenderFilename(ctx context.Context, url, selector, template string) (string, error)
	Download(ctx context.Context, url, selector, outPath string, onProgress func(ProgressUpdate)) error
}

// Subscriber is the minimal observer capability for progress fan-out.
// Deliver errors are swallowed by the registry's broadcast; a dead
// subscriber is removed only by an explicit Unsubscribe.
type Subscriber interface {
	Deliver(ev Event) error
}
