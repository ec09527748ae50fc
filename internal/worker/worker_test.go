package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"vidfetchd/internal/domain"
)

// stubEngine implements domain.Engine for testing.
type stubEngine struct {
	mu sync.Mutex

	probe    *domain.ProbeResult
	probeErr error

	rendered  string
	renderErr error

	download func(ctx context.Context, onProgress func(domain.ProgressUpdate)) error

	gotSelector string
	gotOutPath  string
}

func (e *stubEngine) Probe(ctx context.Context, url string) (*domain.ProbeResult, error) {
	return e.probe, e.probeErr
}

func (e *stubEngine) RenderFilename(ctx context.Context, url, selector, template string) (string, error) {
	if e.renderErr != nil {
		return "", e.renderErr
	}
	return e.rendered, nil
}

func (e *stubEngine) Download(ctx context.Context, url, selector, outPath string, onProgress func(domain.ProgressUpdate)) error {
	e.mu.Lock()
	e.gotSelector = selector
	e.gotOutPath = outPath
	e.mu.Unlock()
	if e.download == nil {
		return nil
	}
	return e.download(ctx, onProgress)
}

func (e *stubEngine) downloadArgs() (selector, outPath string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gotSelector, e.gotOutPath
}

// recordingSubscriber collects delivered events.
type recordingSubscriber struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingSubscriber) Deliver(ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSubscriber) delivered() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForTerminal(t *testing.T, reg *domain.Registry, jobID string) domain.Snapshot {
	t.Helper()
	var snap domain.Snapshot
	waitFor(t, "terminal state", func() bool {
		s, err := reg.GetJob(jobID)
		if err != nil {
			return false
		}
		snap = s
		return s.Status.IsTerminal()
	})
	return snap
}

func newTestJob(t *testing.T, reg *domain.Registry) domain.Snapshot {
	t.Helper()
	snap, err := reg.CreateJob("https://example.com/watch?v=abc", "22", t.TempDir())
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	return snap
}

func TestWorker_SuccessWithFinishedCallback(t *testing.T) {
	reg := domain.NewRegistry()
	job := newTestJob(t, reg)
	final := filepath.Join(t.TempDir(), "Title-abc-1080p-60fps.mp4")

	engine := &stubEngine{
		probe:    &domain.ProbeResult{Formats: []domain.ProbeFormat{{ID: "22", VideoCodec: "avc1", AudioCodec: "mp4a"}}},
		rendered: final,
		download: func(ctx context.Context, onProgress func(domain.ProgressUpdate)) error {
			onProgress(domain.ProgressUpdate{Phase: domain.PhaseDownloading, BytesDownloaded: 512, TotalBytes: 1024})
			onProgress(domain.ProgressUpdate{Phase: domain.PhaseFinished, Filename: final})
			return nil
		},
	}

	sub := &recordingSubscriber{}
	reg.Subscribe(job.JobID, sub)

	New(reg, engine, Options{}).Start(job.JobID)

	snap := waitForTerminal(t, reg, job.JobID)
	if snap.Status != domain.StatusSucceeded {
		t.Fatalf("Status = %q, want %q", snap.Status, domain.StatusSucceeded)
	}
	if snap.ProgressPercent != 100.0 {
		t.Errorf("ProgressPercent = %v, want exactly 100", snap.ProgressPercent)
	}
	if snap.FilePath != final {
		t.Errorf("FilePath = %q, want %q", snap.FilePath, final)
	}

	waitFor(t, "complete event", func() bool {
		events := sub.delivered()
		if len(events) == 0 {
			return false
		}
		_, ok := events[len(events)-1].(domain.CompleteEvent)
		return ok
	})

	events := sub.delivered()
	st, ok := events[0].(domain.StatusEvent)
	if !ok {
		t.Fatalf("first event = %T, want StatusEvent", events[0])
	}
	if st.Status != domain.StatusRunning {
		t.Errorf("first status = %q, want %q", st.Status, domain.StatusRunning)
	}
}

func TestWorker_SuccessWithoutFinishedCallback(t *testing.T) {
	reg := domain.NewRegistry()
	job := newTestJob(t, reg)
	rendered := filepath.Join(t.TempDir(), "Title-abc-NAp-NAfps.mp4")

	engine := &stubEngine{rendered: rendered}

	New(reg, engine, Options{}).Start(job.JobID)

	snap := waitForTerminal(t, reg, job.JobID)
	if snap.Status != domain.StatusSucceeded {
		t.Fatalf("Status = %q, want %q", snap.Status, domain.StatusSucceeded)
	}
	if snap.ProgressPercent != 100.0 {
		t.Errorf("ProgressPercent = %v, want exactly 100", snap.ProgressPercent)
	}
	want := cleanupMissingTokens(rendered)
	if snap.FilePath != want {
		t.Errorf("FilePath = %q, want %q", snap.FilePath, want)
	}
}

func TestWorker_DownloadFailure(t *testing.T) {
	reg := domain.NewRegistry()
	job := newTestJob(t, reg)

	engine := &stubEngine{
		rendered: filepath.Join(t.TempDir(), "v.mp4"),
		download: func(ctx context.Context, onProgress func(domain.ProgressUpdate)) error {
			onProgress(domain.ProgressUpdate{Phase: domain.PhaseDownloading, BytesDownloaded: 300, TotalBytes: 1000})
			return errors.New("network error")
		},
	}

	sub := &recordingSubscriber{}
	reg.Subscribe(job.JobID, sub)

	New(reg, engine, Options{}).Start(job.JobID)

	snap := waitForTerminal(t, reg, job.JobID)
	if snap.Status != domain.StatusFailed {
		t.Fatalf("Status = %q, want %q", snap.Status, domain.StatusFailed)
	}
	if snap.Error != "network error" {
		t.Errorf("Error = %q, want %q", snap.Error, "network error")
	}
	if snap.FilePath != "" {
		t.Errorf("FilePath = %q, want empty on failure", snap.FilePath)
	}
	if snap.ProgressPercent != 30 {
		t.Errorf("ProgressPercent = %v, want 30 retained", snap.ProgressPercent)
	}

	waitFor(t, "error event", func() bool {
		for _, ev := range sub.delivered() {
			if errEv, ok := ev.(domain.ErrorEvent); ok {
				return errEv.ProgressPercent == 30
			}
		}
		return false
	})
}

func TestWorker_Cancel(t *testing.T) {
	reg := domain.NewRegistry()
	job := newTestJob(t, reg)

	started := make(chan struct{})
	engine := &stubEngine{
		rendered: filepath.Join(t.TempDir(), "v.mp4"),
		download: func(ctx context.Context, onProgress func(domain.ProgressUpdate)) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}

	New(reg, engine, Options{}).Start(job.JobID)
	<-started

	if !reg.RequestCancel(job.JobID) {
		t.Fatal("RequestCancel() = false for a running job")
	}

	snap := waitForTerminal(t, reg, job.JobID)
	if snap.Status != domain.StatusCancelled {
		t.Fatalf("Status = %q, want %q", snap.Status, domain.StatusCancelled)
	}
	if snap.FilePath != "" || snap.Error != "" {
		t.Errorf("FilePath = %q, Error = %q; want neither on cancel", snap.FilePath, snap.Error)
	}
}

func TestWorker_RenderFailureFailsJob(t *testing.T) {
	reg := domain.NewRegistry()
	job := newTestJob(t, reg)

	engine := &stubEngine{renderErr: errors.New("no such video")}

	New(reg, engine, Options{}).Start(job.JobID)

	snap := waitForTerminal(t, reg, job.JobID)
	if snap.Status != domain.StatusFailed {
		t.Fatalf("Status = %q, want %q", snap.Status, domain.StatusFailed)
	}
	if snap.Error == "" {
		t.Error("Error is empty, want render failure message")
	}
}

func TestWorker_ComposesSelectorFromProbe(t *testing.T) {
	reg := domain.NewRegistry()
	snap, err := reg.CreateJob("https://example.com/watch?v=abc", "18", t.TempDir())
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	engine := &stubEngine{
		probe: &domain.ProbeResult{
			Formats: []domain.ProbeFormat{{ID: "18", VideoCodec: "avc1", AudioCodec: "none"}},
		},
		rendered: filepath.Join(t.TempDir(), "v.mp4"),
	}

	New(reg, engine, Options{}).Start(snap.JobID)
	waitForTerminal(t, reg, snap.JobID)

	selector, _ := engine.downloadArgs()
	if selector != "18+bestaudio/best" {
		t.Errorf("download selector = %q, want %q", selector, "18+bestaudio/best")
	}
}

func TestWorker_ProgressNeverRegresses(t *testing.T) {
	reg := domain.NewRegistry()
	job := newTestJob(t, reg)

	engine := &stubEngine{
		rendered: filepath.Join(t.TempDir(), "v.mp4"),
		download: func(ctx context.Context, onProgress func(domain.ProgressUpdate)) error {
			for _, downloaded := range []int64{500, 400, 600} {
				onProgress(domain.ProgressUpdate{Phase: domain.PhaseDownloading, BytesDownloaded: downloaded, TotalBytes: 1000})
			}
			onProgress(domain.ProgressUpdate{Phase: domain.PhaseFinished})
			return nil
		},
	}

	sub := &recordingSubscriber{}
	reg.Subscribe(job.JobID, sub)

	New(reg, engine, Options{}).Start(job.JobID)
	waitForTerminal(t, reg, job.JobID)

	last := -1.0
	for _, ev := range sub.delivered() {
		p, ok := ev.(domain.ProgressEvent)
		if !ok {
			continue
		}
		if p.ProgressPercent < last {
			t.Errorf("progress regressed: %v after %v", p.ProgressPercent, last)
		}
		last = p.ProgressPercent
	}
}

func TestWorker_HostDisplayPath(t *testing.T) {
	base := t.TempDir()
	reg := domain.NewRegistry()
	snap, err := reg.CreateJob("https://example.com/watch?v=abc", "22", base)
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	final := filepath.Join(base, "v.mp4")

	engine := &stubEngine{
		probe:    &domain.ProbeResult{Formats: []domain.ProbeFormat{{ID: "22", VideoCodec: "avc1", AudioCodec: "mp4a"}}},
		rendered: final,
		download: func(ctx context.Context, onProgress func(domain.ProgressUpdate)) error {
			onProgress(domain.ProgressUpdate{Phase: domain.PhaseFinished, Filename: final})
			return nil
		},
	}

	New(reg, engine, Options{AllowedBaseDir: base, HostDownloadsDir: "/host/Downloads"}).Start(snap.JobID)

	got := waitForTerminal(t, reg, snap.JobID)
	want := filepath.Join("/host/Downloads", "v.mp4")
	if got.HostFilePath != want {
		t.Errorf("HostFilePath = %q, want %q", got.HostFilePath, want)
	}
}
