package imagestore

import (
	"path/filepath"
	"strings"
)

// Format identifies the source format of an image file.
type Format int

const (
	FormatOther Format = iota
	FormatJPEG
	FormatPNG
	FormatWebP
	FormatHEIC
)

// String returns the lowercase wire name of the format.
func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	case FormatWebP:
		return "webp"
	case FormatHEIC:
		return "heic"
	default:
		return "other"
	}
}

// DetectFormat determines the image format from the file extension.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return FormatJPEG
	case ".png":
		return FormatPNG
	case ".webp":
		return FormatWebP
	case ".heic", ".heif":
		return FormatHEIC
	default:
		return FormatOther
	}
}

// Status represents the lifecycle state of an image record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Image is a single image record tracked through the compression run.
// CompressedSize and OutputPath are set if and only if Status is completed.
type Image struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Path           string `json:"path"`
	OriginalSize   int64  `json:"original_size"`
	Format         Format `json:"-"`
	FormatName     string `json:"format"`
	Status         Status `json:"status"`
	Progress       int    `json:"progress"`
	CompressedSize int64  `json:"compressed_size,omitempty"`
	OutputPath     string `json:"output_path,omitempty"`
}

// Savings returns the fractional size reduction (0.5 means half the size).
// It is only meaningful once CompressedSize is set.
func (img Image) Savings() float64 {
	if img.OriginalSize <= 0 || img.CompressedSize <= 0 {
		return 0
	}
	return 1 - float64(img.CompressedSize)/float64(img.OriginalSize)
}
