package telemetry

import (
	"context"
	"time"
)

// Record is one compression outcome persisted for later analysis.
type Record struct {
	ID                int64
	InputFormat       string
	OutputFormat      string
	InputSizeRange    string
	Quality           int
	Lossy             bool
	ReductionPercent  float64
	OriginalSize      int64
	CompressedSize    int64
	CompressionTimeMs int64
	ToolVersion       string
	Timestamp         time.Time
}

// NewRecord builds a record from a compression outcome. The reduction
// percent goes negative when the output is larger than the input.
func NewRecord(inputFormat, outputFormat string, originalSize, compressedSize int64, quality int, lossy bool, toolVersion string) Record {
	var reduction float64
	if originalSize > 0 {
		reduction = float64(originalSize-compressedSize) / float64(originalSize) * 100
	}
	return Record{
		InputFormat:      inputFormat,
		OutputFormat:     outputFormat,
		InputSizeRange:   SizeRange(originalSize),
		Quality:          quality,
		Lossy:            lossy,
		ReductionPercent: reduction,
		OriginalSize:     originalSize,
		CompressedSize:   compressedSize,
		ToolVersion:      toolVersion,
		Timestamp:        time.Now().UTC(),
	}
}

// Recorder persists compression outcomes. RecordWithTime is the primary
// call; Record is the timing-less fallback attempted once when the
// primary fails. Neither failure may affect compression job state.
type Recorder interface {
	RecordWithTime(ctx context.Context, rec Record) error
	Record(ctx context.Context, rec Record) error
}

// SizeRange buckets a file size into small (<1MB), medium (1-5MB) or
// large (>5MB).
func SizeRange(sizeBytes int64) string {
	switch {
	case sizeBytes <= 1_000_000:
		return "small"
	case sizeBytes <= 5_000_000:
		return "medium"
	default:
		return "large"
	}
}
