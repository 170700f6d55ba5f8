package backend

import (
	"context"
	"time"
)

// WireFormat is the output format carried across the command boundary to
// the compression backend. Auto means "keep the source container".
type WireFormat string

const (
	WireAuto WireFormat = "auto"
	WireWebP WireFormat = "webp"
	WireJPEG WireFormat = "jpeg"
	WirePNG  WireFormat = "png"
)

// Params are the wire parameters for a single compression call.
type Params struct {
	Quality int
	Format  WireFormat
	Lossy   bool
}

// Request identifies one image to compress and how.
type Request struct {
	ImageID   string
	ImageName string
	Path      string
	OutputDir string
	Params    Params
}

// Result is the payload of a successful compression call.
type Result struct {
	CompressedSize int64
	OutputPath     string
}

// Compressor is the external compression engine. It is treated as a
// single non-reentrant worker: callers must not issue concurrent calls,
// and an issued call cannot be cancelled beyond ctx best effort.
type Compressor interface {
	Compress(ctx context.Context, req Request) (Result, error)
}

// Stage is the processing stage reported by backend progress events.
type Stage string

const (
	StageLoading     Stage = "loading"
	StageCompressing Stage = "compressing"
	StageSaving      Stage = "saving"
	StageComplete    Stage = "complete"
	StageError       Stage = "error"
)

// ProgressEvent is one authoritative progress update from the backend.
// Progress is fractional in [0,1].
type ProgressEvent struct {
	ImageID   string
	ImageName string
	Stage     Stage
	Progress  float64
	ETA       time.Duration
	Message   string
}
