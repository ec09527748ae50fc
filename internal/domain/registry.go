package domain

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrInvalidURL  = errors.New("invalid URL")
	ErrJobNotFound = errors.New("job not found")
)

// runningPercentCap keeps in-flight progress strictly below 100; only a
// successful completion records exactly 100.0.
const runningPercentCap = 99.9

// Registry is the single source of truth for all jobs. One mutex guards
// the job, cancel-handle, and subscriber maps; it is never held across
// engine I/O or event delivery.
type Registry struct {
	mu          sync.Mutex
	jobs        map[string]*Job
	cancels     map[string]context.CancelFunc
	subscribers map[string]map[Subscriber]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs:        make(map[string]*Job),
		cancels:     make(map[string]context.CancelFunc),
		subscribers: make(map[string]map[Subscriber]struct{}),
	}
}

// ValidateURL rejects anything that is not an http(s) URL with a host.
func ValidateURL(rawURL string) error {
	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return ErrInvalidURL
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

// CreateJob validates the URL, registers a new queued job and initializes
// its subscriber set. The returned snapshot carries the generated id.
func (r *Registry) CreateJob(rawURL, selector, targetDir string) (Snapshot, error) {
	if err := ValidateURL(rawURL); err != nil {
		return Snapshot{}, err
	}

	job := &Job{
		ID:        uuid.NewString(),
		URL:       rawURL,
		Selector:  selector,
		TargetDir: targetDir,
		Status:    StatusQueued,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
	r.subscribers[job.ID] = make(map[Subscriber]struct{})
	return job.snapshot(), nil
}

// GetJob returns a point-in-time snapshot of a job.
func (r *Registry) GetJob(id string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return Snapshot{}, ErrJobNotFound
	}
	return job.snapshot(), nil
}

// Inputs returns the immutable creation inputs of a job for its worker.
func (r *Registry) Inputs(id string) (rawURL, selector, targetDir string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return "", "", "", ErrJobNotFound
	}
	return job.URL, job.Selector, job.TargetDir, nil
}

// AttachCancel records the handle used to cancel the job's background
// work. Safe to call concurrently with lookups.
func (r *Registry) AttachCancel(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; ok {
		r.cancels[id] = cancel
	}
}

// RequestCancel signals cooperative cancellation. It returns true iff a
// non-terminal job with a recorded handle was found; the worker may take
// time to honor the request.
func (r *Registry) RequestCancel(id string) bool {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok || job.Status.IsTerminal() {
		r.mu.Unlock()
		return false
	}
	cancel, ok := r.cancels[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Subscribe adds an observer to the job's set, lazily creating the set.
func (r *Registry) Subscribe(id string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subscribers[id]
	if !ok {
		set = make(map[Subscriber]struct{})
		r.subscribers[id] = set
	}
	set[sub] = struct{}{}
}

// Unsubscribe removes an observer; no-op if absent.
func (r *Registry) Unsubscribe(id string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.subscribers[id]; ok {
		delete(set, sub)
	}
}

// Broadcast delivers an event to every subscriber of a job. The set is
// snapshotted under the lock and delivery happens outside it; a failed
// delivery is swallowed and does not affect the others.
func (r *Registry) Broadcast(id string, ev Event) {
	r.mu.Lock()
	set := r.subscribers[id]
	subs := make([]Subscriber, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		// Best effort: a missed update is superseded by the next one.
		_ = sub.Deliver(ev)
	}
}

// MarkRunning transitions a job to running, resetting progress counters
// and clearing stale error/result fields. Returns false if the job is
// unknown or already terminal.
func (r *Registry) MarkRunning(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status.IsTerminal() {
		return false
	}
	job.Status = StatusRunning
	job.ProgressPercent = 0
	job.BytesDownloaded = 0
	job.TotalBytes = 0
	job.FilePath = ""
	job.HostFilePath = ""
	job.Error = ""
	return true
}

// UpdateProgress records byte counters and a candidate percent, enforcing
// monotonicity and the running cap. It returns the effective percent, or
// false if the job is unknown or terminal.
func (r *Registry) UpdateProgress(id string, downloaded, total int64, percent float64) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status.IsTerminal() {
		return 0, false
	}
	job.BytesDownloaded = downloaded
	if total > 0 {
		job.TotalBytes = total
	}
	if percent > runningPercentCap {
		percent = runningPercentCap
	}
	if percent > job.ProgressPercent {
		job.ProgressPercent = percent
	}
	return job.ProgressPercent, true
}

// MarkSucceeded finalizes a job at exactly 100 percent with the produced
// file path. Returns false if the job is unknown or already terminal.
func (r *Registry) MarkSucceeded(id, filePath, hostFilePath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status.IsTerminal() {
		return false
	}
	job.Status = StatusSucceeded
	job.ProgressPercent = 100.0
	if filePath != "" {
		job.FilePath = filePath
	}
	job.HostFilePath = hostFilePath
	job.Error = ""
	return true
}

// MarkFailed finalizes a job with an error message, retaining the last
// known percent. Returns the retained percent and whether the transition
// happened.
func (r *Registry) MarkFailed(id, msg string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status.IsTerminal() {
		return 0, false
	}
	job.Status = StatusFailed
	job.Error = msg
	job.FilePath = ""
	job.HostFilePath = ""
	return job.ProgressPercent, true
}

// MarkCancelled finalizes a cancelled job. Partial output may remain on
// disk; it is not cleaned up. Returns false if already terminal.
func (r *Registry) MarkCancelled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status.IsTerminal() {
		return false
	}
	job.Status = StatusCancelled
	return true
}
