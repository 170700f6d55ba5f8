// Package orchestrator drives pending images through the compression
// backend one at a time.
package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"image-squeeze-go/internal/backend"
	"image-squeeze-go/internal/imagestore"
	"image-squeeze-go/internal/progress"
	"image-squeeze-go/internal/settings"
	"image-squeeze-go/internal/telemetry"
)

// ProgressHook observes per-image progress updates after they are stored.
type ProgressHook func(imageID string, percent int)

// NotifyHook surfaces user-facing notifications (level is "info" or
// "error").
type NotifyHook func(level, message string)

// Orchestrator owns the sequential compression job loop. The backend is
// a single non-reentrant worker, so images are submitted strictly one at
// a time; job N+1 starts only after job N's backend call has resolved.
type Orchestrator struct {
	store       *imagestore.Store
	settings    *settings.Store
	compressor  backend.Compressor
	estimator   *progress.Estimator
	recorder    telemetry.Recorder
	logger      *logrus.Logger
	outputDir   string
	toolVersion string

	progressHook ProgressHook
	notifyHook   NotifyHook

	running atomic.Bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithProgressHook forwards stored progress updates, e.g. to a websocket.
func WithProgressHook(hook ProgressHook) Option {
	return func(o *Orchestrator) { o.progressHook = hook }
}

// WithNotifyHook forwards user-facing notifications.
func WithNotifyHook(hook NotifyHook) Option {
	return func(o *Orchestrator) { o.notifyHook = hook }
}

// WithOutputDir sets the directory compressed files are written to.
func WithOutputDir(dir string) Option {
	return func(o *Orchestrator) { o.outputDir = dir }
}

// WithToolVersion sets the version string recorded with telemetry.
func WithToolVersion(v string) Option {
	return func(o *Orchestrator) { o.toolVersion = v }
}

// New returns an orchestrator over the given collaborators. Recorder may
// be nil, in which case telemetry recording is skipped entirely.
func New(
	store *imagestore.Store,
	settingsStore *settings.Store,
	compressor backend.Compressor,
	estimator *progress.Estimator,
	recorder telemetry.Recorder,
	logger *logrus.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	o := &Orchestrator{
		store:       store,
		settings:    settingsStore,
		compressor:  compressor,
		estimator:   estimator,
		recorder:    recorder,
		logger:      logger,
		toolVersion: "dev",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Running reports whether a run is currently in progress.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Run processes every image that is pending at the moment of invocation,
// strictly in intake order. Invoking Run while a run is already in
// progress is an idempotent no-op: it returns immediately without
// queuing. Images added after the snapshot is taken wait for the next
// run. A single image's failure never aborts the loop, and the running
// guard is cleared however the loop exits.
func (o *Orchestrator) Run(ctx context.Context) {
	if !o.running.CompareAndSwap(false, true) {
		o.logger.Debug("Compression run already in progress, ignoring")
		return
	}
	defer o.running.Store(false)

	snapshot := o.store.Pending()
	if len(snapshot) == 0 {
		o.logger.Info("No pending images to compress")
		return
	}

	o.logger.Infof("Starting compression run for %d images", len(snapshot))
	start := time.Now()

	for _, img := range snapshot {
		if ctx.Err() != nil {
			o.logger.Warnf("Compression run cancelled after %v", time.Since(start))
			return
		}
		o.processImage(ctx, img)
	}

	o.logger.Infof("Compression run completed in %v", time.Since(start))
}

// processImage runs one image through the full job: state transition,
// parameter resolution, simulated progress, backend call, reconciliation
// and telemetry. A panic anywhere in the job marks the image errored and
// lets the loop continue.
func (o *Orchestrator) processImage(ctx context.Context, img imagestore.Image) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Errorf("Unexpected failure compressing %s: %v", img.Name, r)
			o.estimator.Fail(img.ID, fmt.Sprint(r))
			o.store.MarkError(img.ID)
		}
	}()

	if err := o.store.MarkProcessing(img.ID, 0); err != nil {
		// The image was removed or already claimed since the snapshot.
		o.logger.Debugf("Skipping %s: %v", img.Name, err)
		return
	}

	// Settings are read fresh per image: a mid-run change applies from
	// the next image onward, never to one already in flight.
	current := o.settings.Get()
	params := settings.Resolve(current.OutputFormat, current.Level, img.Format)

	o.startSmartProgress(img, params)

	req := backend.Request{
		ImageID:   img.ID,
		ImageName: img.Name,
		Path:      img.Path,
		OutputDir: o.outputDir,
		Params:    params,
	}

	start := time.Now()
	result, err := o.compressor.Compress(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		o.estimator.Fail(img.ID, err.Error())
		o.store.MarkError(img.ID)
		o.logger.Errorf("Compression failed for %s: %v", img.Name, err)
		o.notify("error", fmt.Sprintf("Failed to compress %s: %v", img.Name, err))
		return
	}

	o.estimator.Complete(img.ID)
	if err := o.store.MarkCompleted(img.ID, result.CompressedSize, result.OutputPath); err != nil {
		// Removed mid-flight, or already driven to error by backend
		// events. The result is dropped on the floor.
		o.logger.Debugf("Discarding result for %s: %v", img.Name, err)
		return
	}

	o.logger.WithFields(logrus.Fields{
		"file":     img.Name,
		"original": img.OriginalSize,
		"result":   result.CompressedSize,
		"duration": elapsed,
	}).Info("Image compressed")

	o.recordTelemetry(ctx, img, params, result, elapsed)
}

// startSmartProgress begins the simulated progress ramp for one image.
// The ticks land in the same progress field the backend events write to;
// the store merges the two sources monotonically.
func (o *Orchestrator) startSmartProgress(img imagestore.Image, params backend.Params) {
	o.estimator.Start(img.ID, img.Format, params.Format, img.OriginalSize, params.Quality, progress.Callbacks{
		OnProgress: func(id string, percent int) {
			o.store.SetProgress(id, percent)
			if o.progressHook != nil {
				o.progressHook(id, percent)
			}
		},
		OnComplete: func(id string) {
			if o.progressHook != nil {
				o.progressHook(id, 100)
			}
		},
		OnError: func(id string, message string) {
			o.logger.Debugf("Progress session for %s ended with error: %s", id, message)
		},
	})
}

// recordTelemetry persists the outcome best-effort: a failed primary call
// falls back once to the timing-less call, and a failure of either is
// logged without ever touching the image's terminal state.
func (o *Orchestrator) recordTelemetry(ctx context.Context, img imagestore.Image, params backend.Params, result backend.Result, elapsed time.Duration) {
	if o.recorder == nil {
		return
	}

	outputFormat := string(params.Format)
	if params.Format == backend.WireAuto {
		outputFormat = imagestore.DetectFormat(result.OutputPath).String()
	}

	rec := telemetry.NewRecord(
		img.Format.String(), outputFormat,
		img.OriginalSize, result.CompressedSize,
		params.Quality, params.Lossy, o.toolVersion,
	)
	rec.CompressionTimeMs = elapsed.Milliseconds()

	if err := o.recorder.RecordWithTime(ctx, rec); err != nil {
		o.logger.Warnf("Telemetry recording with timing failed for %s: %v", img.Name, err)
		if err := o.recorder.Record(ctx, rec); err != nil {
			o.logger.Warnf("Fallback telemetry recording failed for %s: %v", img.Name, err)
		}
	}
}

func (o *Orchestrator) notify(level, message string) {
	if o.notifyHook != nil {
		o.notifyHook(level, message)
	}
}
