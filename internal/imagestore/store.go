package imagestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned when no image with the given id exists.
	ErrNotFound = errors.New("image not found")
	// ErrNotPending is returned when a processing transition is attempted
	// on an image that is not pending.
	ErrNotPending = errors.New("image is not pending")
	// ErrNotProcessing is returned when a terminal transition is attempted
	// on an image that is not processing.
	ErrNotProcessing = errors.New("image is not processing")
)

// Store holds the image collection. Every mutation derives a fresh slice,
// so a snapshot handed out by List or Pending is never mutated afterwards.
type Store struct {
	mu     sync.RWMutex
	images []Image
	logger *logrus.Logger
}

// NewStore returns an empty image store.
func NewStore(logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{logger: logger}
}

// Add creates pending records for the given file paths and returns them.
// A failed size lookup is non-fatal: the record is created with size 0.
func (s *Store) Add(paths []string) []Image {
	added := make([]Image, 0, len(paths))
	for _, path := range paths {
		var size int64
		info, err := os.Stat(path)
		if err != nil {
			s.logger.Warnf("Could not read file info for %s: %v", path, err)
		} else {
			size = info.Size()
		}

		format := DetectFormat(path)
		added = append(added, Image{
			ID:           uuid.NewString(),
			Name:         filepath.Base(path),
			Path:         path,
			OriginalSize: size,
			Format:       format,
			FormatName:   format.String(),
			Status:       StatusPending,
		})
	}

	s.mu.Lock()
	next := make([]Image, 0, len(s.images)+len(added))
	next = append(next, s.images...)
	next = append(next, added...)
	s.images = next
	s.mu.Unlock()

	return added
}

// Remove deletes the image with the given id from the collection.
// Removal is permitted at any time, including mid-processing; subsequent
// events addressed to the id become no-ops. Returns false if id is unknown.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Image, 0, len(s.images))
	found := false
	for _, img := range s.images {
		if img.ID == id {
			found = true
			continue
		}
		next = append(next, img)
	}
	if found {
		s.images = next
	}
	return found
}

// Get returns a copy of the image with the given id.
func (s *Store) Get(id string) (Image, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, img := range s.images {
		if img.ID == id {
			return img, true
		}
	}
	return Image{}, false
}

// List returns a snapshot of the whole collection.
func (s *Store) List() []Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Image, len(s.images))
	copy(out, s.images)
	return out
}

// Pending returns a snapshot of all images currently pending, in intake order.
func (s *Store) Pending() []Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Image
	for _, img := range s.images {
		if img.Status == StatusPending {
			out = append(out, img)
		}
	}
	return out
}

// MarkProcessing transitions a pending image to processing with the given
// initial progress.
func (s *Store) MarkProcessing(id string, initialProgress int) error {
	return s.update(id, func(img *Image) error {
		if img.Status != StatusPending {
			return fmt.Errorf("%w: %s is %s", ErrNotPending, img.Name, img.Status)
		}
		img.Status = StatusProcessing
		img.Progress = clampPercent(initialProgress)
		return nil
	})
}

// MarkCompleted transitions a processing image to completed, recording the
// compressed size and output path and forcing progress to 100.
func (s *Store) MarkCompleted(id string, compressedSize int64, outputPath string) error {
	return s.update(id, func(img *Image) error {
		if img.Status != StatusProcessing {
			return fmt.Errorf("%w: %s is %s", ErrNotProcessing, img.Name, img.Status)
		}
		img.Status = StatusCompleted
		img.Progress = 100
		img.CompressedSize = compressedSize
		img.OutputPath = outputPath
		return nil
	})
}

// MarkError transitions a processing image to the error state. Two code
// paths race to report failures (the job loop and the backend event
// bridge); whichever arrives second finds the image no longer processing
// and the call reports false without touching the record.
func (s *Store) MarkError(id string) bool {
	err := s.update(id, func(img *Image) error {
		if img.Status != StatusProcessing {
			return ErrNotProcessing
		}
		img.Status = StatusError
		return nil
	})
	return err == nil
}

// Reset moves a processing image back to pending. This is a recovery
// operation, not part of the normal success or failure path.
func (s *Store) Reset(id string) error {
	return s.update(id, func(img *Image) error {
		if img.Status != StatusProcessing {
			return fmt.Errorf("%w: %s is %s", ErrNotProcessing, img.Name, img.Status)
		}
		img.Status = StatusPending
		img.Progress = 0
		img.CompressedSize = 0
		img.OutputPath = ""
		return nil
	})
}

// SetProgress records a progress value for a processing image. Values are
// clamped to [0,100] and merged monotonically: the simulated ramp and the
// backend events both write here, and a stale lower value never rolls the
// displayed progress back. No-op for unknown ids or non-processing images.
func (s *Store) SetProgress(id string, value int) {
	_ = s.update(id, func(img *Image) error {
		if img.Status != StatusProcessing {
			return ErrNotProcessing
		}
		v := clampPercent(value)
		if v > img.Progress {
			img.Progress = v
		}
		return nil
	})
}

// Summary is a derived aggregate view over the collection.
type Summary struct {
	Total           int     `json:"total"`
	Pending         int     `json:"pending"`
	Processing      int     `json:"processing"`
	Completed       int     `json:"completed"`
	Errored         int     `json:"errored"`
	OriginalBytes   int64   `json:"original_bytes"`
	CompressedBytes int64   `json:"compressed_bytes"`
	Savings         float64 `json:"savings"`
}

// Summarize recomputes the aggregate view from the current collection.
func (s *Store) Summarize() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum Summary
	sum.Total = len(s.images)
	for _, img := range s.images {
		switch img.Status {
		case StatusPending:
			sum.Pending++
		case StatusProcessing:
			sum.Processing++
		case StatusCompleted:
			sum.Completed++
			sum.OriginalBytes += img.OriginalSize
			sum.CompressedBytes += img.CompressedSize
		case StatusError:
			sum.Errored++
		}
	}
	if sum.OriginalBytes > 0 {
		sum.Savings = 1 - float64(sum.CompressedBytes)/float64(sum.OriginalBytes)
	}
	return sum
}

// update applies fn to a copy of the identified record and swaps in a new
// collection if fn succeeds. Unknown ids return ErrNotFound.
func (s *Store) update(id string, fn func(*Image) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, img := range s.images {
		if img.ID != id {
			continue
		}
		modified := img
		if err := fn(&modified); err != nil {
			return err
		}
		next := make([]Image, len(s.images))
		copy(next, s.images)
		next[i] = modified
		s.images = next
		return nil
	}
	return ErrNotFound
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
