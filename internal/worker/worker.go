package worker

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"vidfetchd/internal/domain"
	"vidfetchd/internal/fs"
)

// progressBuffer bounds the callback-to-worker handoff channel. Updates
// that would overflow it are dropped; the next one supersedes them.
const progressBuffer = 32

// Options configures path handling for workers.
type Options struct {
	// AllowedBaseDir sandboxes every produced file path.
	AllowedBaseDir string

	// HostDownloadsDir, when set, maps produced paths to host-visible
	// ones for display.
	HostDownloadsDir string
}

// Worker runs download jobs against the engine, one goroutine per job.
// All job mutations go through the registry; the engine's progress
// callback only enqueues updates for the job's own goroutine to apply.
type Worker struct {
	reg    *domain.Registry
	engine domain.Engine
	opts   Options
}

// New creates a worker bound to a registry and an engine.
func New(reg *domain.Registry, engine domain.Engine, opts Options) *Worker {
	return &Worker{reg: reg, engine: engine, opts: opts}
}

// Start schedules the background run for a created job and records its
// cancel handle in the registry.
func (w *Worker) Start(jobID string) {
	ctx, cancel := context.WithCancel(context.Background())
	w.reg.AttachCancel(jobID, cancel)
	go func() {
		defer cancel()
		w.run(ctx, jobID)
	}()
}

func (w *Worker) run(ctx context.Context, jobID string) {
	url, selector, targetDir, err := w.reg.Inputs(jobID)
	if err != nil {
		log.Printf("job %s: %v", jobID, err)
		return
	}

	if ctx.Err() != nil {
		if w.reg.MarkCancelled(jobID) {
			w.reg.Broadcast(jobID, domain.NewStatusEvent(domain.StatusCancelled))
		}
		return
	}

	if !w.reg.MarkRunning(jobID) {
		return
	}
	w.reg.Broadcast(jobID, domain.NewStatusEvent(domain.StatusRunning))

	selector = w.composeFormat(ctx, url, selector)

	outPath, err := w.resolveOutputPath(ctx, url, selector, targetDir)
	if err != nil {
		log.Printf("job %s: resolve output path: %v", jobID, err)
		w.fail(jobID, err)
		return
	}
	log.Printf("job %s: downloading %s -> %s (format %s)", jobID, url, outPath, selector)

	updates := make(chan domain.ProgressUpdate, progressBuffer)
	onProgress := func(u domain.ProgressUpdate) {
		if u.Phase == domain.PhaseFinished {
			// The terminal update must not be lost.
			select {
			case updates <- u:
			case <-ctx.Done():
			}
			return
		}
		select {
		case updates <- u:
		default:
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- w.engine.Download(ctx, url, selector, outPath, onProgress)
	}()

	var (
		finished  bool
		lastBytes int64
		lastTime  = time.Now()
	)
	for {
		select {
		case u := <-updates:
			w.apply(jobID, u, outPath, &finished, &lastBytes, &lastTime)
		case err := <-done:
			// Drain updates already enqueued by the callback.
			for {
				select {
				case u := <-updates:
					w.apply(jobID, u, outPath, &finished, &lastBytes, &lastTime)
					continue
				default:
				}
				break
			}
			w.finalize(ctx, jobID, outPath, finished, err)
			return
		}
	}
}

// apply folds one engine update into the job record and broadcasts.
func (w *Worker) apply(jobID string, u domain.ProgressUpdate, outPath string, finished *bool, lastBytes *int64, lastTime *time.Time) {
	switch u.Phase {
	case domain.PhaseDownloading:
		percent := safePercent(u.BytesDownloaded, u.TotalBytes)
		if u.TotalBytes <= 0 {
			if est := fragmentPercent(u.FragmentIndex, u.FragmentCount); est > percent {
				percent = est
			}
		}
		effective, ok := w.reg.UpdateProgress(jobID, u.BytesDownloaded, u.TotalBytes, percent)
		if !ok {
			return
		}
		speed := transferSpeed(u.BytesDownloaded, lastBytes, lastTime)
		w.reg.Broadcast(jobID, domain.NewProgressEvent(effective, u.BytesDownloaded, u.TotalBytes, speed))
	case domain.PhaseFinished:
		filePath := u.Filename
		if filePath == "" {
			filePath = outPath
		}
		hostPath := fs.ToHostDisplayPath(filePath, w.opts.AllowedBaseDir, w.opts.HostDownloadsDir)
		if w.reg.MarkSucceeded(jobID, filePath, hostPath) {
			*finished = true
			w.reg.Broadcast(jobID, domain.NewCompleteEvent(filePath, hostPath))
		}
	}
}

// finalize settles the terminal state after the blocking download call
// returns.
func (w *Worker) finalize(ctx context.Context, jobID, outPath string, finished bool, err error) {
	if err == nil {
		if finished {
			return
		}
		// Engine quirk: the call returned clean without a finished
		// callback. Finalize as succeeded anyway.
		hostPath := fs.ToHostDisplayPath(outPath, w.opts.AllowedBaseDir, w.opts.HostDownloadsDir)
		if w.reg.MarkSucceeded(jobID, outPath, hostPath) {
			w.reg.Broadcast(jobID, domain.NewCompleteEvent(outPath, hostPath))
		}
		return
	}

	if ctx.Err() == context.Canceled {
		log.Printf("job %s: cancelled", jobID)
		if w.reg.MarkCancelled(jobID) {
			w.reg.Broadcast(jobID, domain.NewStatusEvent(domain.StatusCancelled))
		}
		return
	}

	log.Printf("job %s: download failed: %v", jobID, err)
	w.fail(jobID, err)
}

func (w *Worker) fail(jobID string, err error) {
	if percent, ok := w.reg.MarkFailed(jobID, err.Error()); ok {
		w.reg.Broadcast(jobID, domain.NewErrorEvent(err.Error(), percent))
	}
}

// composeFormat probes the URL when needed to guarantee the selector
// yields audio. Probe failures degrade to a safe fallback selector and
// never fail the job.
func (w *Worker) composeFormat(ctx context.Context, url, selector string) string {
	if strings.ContainsAny(selector, "+/") {
		return selector
	}
	probe, err := w.engine.Probe(ctx, url)
	if err != nil {
		log.Printf("format probe for %s failed, using fallback selector: %v", url, err)
	}
	return composeSelector(selector, probe, err)
}

// resolveOutputPath fixes the final file location before the download
// starts so progress events can reference a stable path.
func (w *Worker) resolveOutputPath(ctx context.Context, url, selector, targetDir string) (string, error) {
	rendered, err := w.engine.RenderFilename(ctx, url, selector, outputTemplate(targetDir))
	if err != nil {
		return "", err
	}
	return fs.UniquePath(cleanupMissingTokens(rendered)), nil
}

// transferSpeed formats the rate since the previous update.
func transferSpeed(downloaded int64, lastBytes *int64, lastTime *time.Time) string {
	now := time.Now()
	elapsed := now.Sub(*lastTime).Seconds()
	delta := downloaded - *lastBytes
	*lastBytes = downloaded
	*lastTime = now
	if elapsed <= 0 || delta <= 0 {
		return ""
	}
	return humanize.Bytes(uint64(float64(delta)/elapsed)) + "/s"
}
