// Package exportpoll drives an async roster export: start the task, poll its
// status every two seconds, surface exactly one toast per outcome, hand the
// finished artifact to a download sink.
package exportpoll

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"merchantcard/client"
	"merchantcard/domain"
	"merchantcard/obs"
)

const DefaultPollInterval = 2000 * time.Millisecond

type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Job is the poller's externally visible state.
type Job struct {
	TaskID      string
	Status      Status
	Progress    int
	Processed   int
	Total       int
	DownloadRef string
	Filename    string
}

// API is the slice of the REST client the poller needs.
type API interface {
	StartExport(ctx context.Context, filters domain.ExportFilters) (string, error)
	ExportStatus(ctx context.Context, taskID string) (map[string]interface{}, error)
	DownloadExport(ctx context.Context, taskID string) (*client.ExportDownload, error)
}

// Notifier receives the one-shot outcome toasts.
type Notifier interface {
	Success(title, message string)
	Error(title, message string)
}

// Sink receives the decoded artifact (the browser anchor-click analogue).
type Sink interface {
	Deliver(filename, contentType string, data []byte) error
}

// Ticker abstracts time.Ticker so tests can drive polls by hand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type TickerFactory func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker { return realTicker{t: time.NewTicker(d)} }

type Poller struct {
	api      API
	notifier Notifier
	sink     Sink

	interval  time.Duration
	newTicker TickerFactory

	mu             sync.Mutex
	job            Job
	ticker         Ticker
	stop           chan struct{}
	gen            uint64
	notifiedOK     bool
	notifiedFailed bool
}

func NewPoller(api API, notifier Notifier, sink Sink) *Poller {
	return &Poller{
		api:       api,
		notifier:  notifier,
		sink:      sink,
		interval:  DefaultPollInterval,
		newTicker: newRealTicker,
		job:       Job{Status: StatusIdle, Filename: DefaultFilename},
	}
}

func (p *Poller) SetInterval(d time.Duration) {
	if d > 0 {
		p.interval = d
	}
}

func (p *Poller) SetTickerFactory(f TickerFactory) {
	if f != nil {
		p.newTicker = f
	}
}

// Snapshot returns a copy of the current job state.
func (p *Poller) Snapshot() Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.job
}

// StartExport begins a new export. Toast flags reset here and only here, so
// each run gets at most one success or one error notification. Any previous
// poll loop is cancelled first.
func (p *Poller) StartExport(ctx context.Context, filters domain.ExportFilters) {
	stripEmptyFilters(&filters)

	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.notifiedOK = false
	p.notifiedFailed = false
	p.stopTickerLocked()
	p.job = Job{Status: StatusIdle, Filename: DefaultFilename}
	p.mu.Unlock()

	taskID, err := p.api.StartExport(ctx, filters)

	p.mu.Lock()
	defer p.mu.Unlock()
	// A Cancel (or a newer StartExport) that landed while the request was in
	// flight wins; this run must not resurrect the poll loop.
	if p.gen != gen {
		return
	}
	if err != nil {
		p.job.Status = StatusError
		p.notifyErrorLocked("Export", "failed to start export: "+err.Error())
		return
	}
	p.job = Job{TaskID: taskID, Status: StatusProcessing, Filename: DefaultFilename}
	p.startTickerLocked(ctx, taskID)
}

// Cancel stops the active poll loop, if any. Safe to call repeatedly and
// with no export running.
func (p *Poller) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.stopTickerLocked()
}

func (p *Poller) startTickerLocked(ctx context.Context, taskID string) {
	t := p.newTicker(p.interval)
	stop := make(chan struct{})
	p.ticker = t
	p.stop = stop
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-t.C():
				p.pollOnce(ctx, taskID)
			}
		}
	}()
}

// stopTickerLocked is the single place the ticker dies: stop it if present,
// then drop the handle so a second call is a no-op.
func (p *Poller) stopTickerLocked() {
	if p.ticker != nil {
		p.ticker.Stop()
		p.ticker = nil
	}
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
}

func (p *Poller) pollOnce(ctx context.Context, taskID string) {
	raw, err := p.api.ExportStatus(ctx, taskID)

	p.mu.Lock()
	defer p.mu.Unlock()

	// A response for anything but the active task is stale: drop it.
	if p.job.TaskID != taskID {
		obs.RecordPollTick("stale")
		return
	}
	// An in-flight poll that raced the terminal transition must not undo it.
	if p.job.Status == StatusComplete || p.job.Status == StatusError {
		obs.RecordPollTick("stale")
		return
	}

	if err != nil {
		p.failLocked("export status check failed: " + err.Error())
		obs.RecordPollTick("error")
		return
	}

	snap := normalizeStatus(raw)
	if snap.TaskID != "" && snap.TaskID != taskID {
		obs.RecordPollTick("stale")
		return
	}

	if snap.terminalError() {
		msg := snap.ErrMessage
		if msg == "" {
			msg = "export failed on the server"
		}
		p.failLocked(msg)
		obs.RecordPollTick("error")
		return
	}

	if snap.complete() {
		// Ticker first: nothing may fire after the success toast.
		p.stopTickerLocked()
		p.job.Status = StatusComplete
		p.job.Progress = 100
		p.job.Processed = snap.Processed
		p.job.Total = snap.Total
		p.job.DownloadRef = snap.DownloadRef
		p.job.Filename = snap.Filename
		p.notifySuccessLocked("Export", "export ready: "+snap.Filename)
		obs.RecordPollTick("complete")
		return
	}

	p.job.Status = StatusProcessing
	p.job.Progress = snap.Progress
	p.job.Processed = snap.Processed
	p.job.Total = snap.Total
	p.job.DownloadRef = snap.DownloadRef
	p.job.Filename = snap.Filename
	obs.RecordPollTick("processing")
}

// failLocked is the single terminal-error path: ticker stops before anything
// else, the job lands on error/100 with no download ref, one toast fires.
func (p *Poller) failLocked(message string) {
	p.stopTickerLocked()
	p.job.Status = StatusError
	p.job.Progress = 100
	p.job.DownloadRef = ""
	p.notifyErrorLocked("Export", message)
}

// DownloadArtifact fetches the finished artifact and hands it to the sink.
// Failures only notify; the job state never changes here.
func (p *Poller) DownloadArtifact(ctx context.Context, taskID string) {
	dl, err := p.api.DownloadExport(ctx, taskID)
	if err != nil {
		p.notifyError("Download", "failed to fetch export file: "+err.Error())
		return
	}
	data, err := base64.StdEncoding.DecodeString(dl.FileContent)
	if err != nil {
		p.notifyError("Download", "export file is corrupted")
		return
	}
	filename := strings.TrimSpace(dl.Filename)
	if filename == "" {
		filename = DefaultFilename
	}
	if p.sink == nil {
		p.notifyError("Download", "no download target configured")
		return
	}
	if err := p.sink.Deliver(filename, dl.ContentType, data); err != nil {
		p.notifyError("Download", "failed to save export file: "+err.Error())
	}
}

func (p *Poller) notifySuccessLocked(title, message string) {
	if p.notifiedOK || p.notifier == nil {
		return
	}
	p.notifiedOK = true
	p.notifier.Success(title, message)
}

func (p *Poller) notifyErrorLocked(title, message string) {
	if p.notifiedFailed || p.notifier == nil {
		return
	}
	p.notifiedFailed = true
	p.notifier.Error(title, message)
}

// notifyError is for paths outside the job lifecycle (downloads): not
// one-shot, every failure surfaces.
func (p *Poller) notifyError(title, message string) {
	if p.notifier == nil {
		return
	}
	p.notifier.Error(title, message)
}

func stripEmptyFilters(f *domain.ExportFilters) {
	f.DateFrom = strings.TrimSpace(f.DateFrom)
	f.DateTo = strings.TrimSpace(f.DateTo)
	f.Active = strings.TrimSpace(f.Active)
	f.MembershipType = strings.TrimSpace(f.MembershipType)
	f.CardNumber = strings.TrimSpace(f.CardNumber)
	f.Address = strings.TrimSpace(f.Address)
	f.NationalityID = strings.TrimSpace(f.NationalityID)
}
