package backend

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/webp"

	"image-squeeze-go/internal/imagestore"
)

// ImagingCompressor is the default local compression engine. JPEG and PNG
// are encoded in-process; WebP encoding and HEIC decoding shell out to
// cwebp and heif-convert.
type ImagingCompressor struct {
	emitter *Emitter
	logger  *logrus.Logger
}

// NewImagingCompressor returns a compressor that publishes progress events
// on the given emitter.
func NewImagingCompressor(emitter *Emitter, logger *logrus.Logger) *ImagingCompressor {
	if logger == nil {
		logger = logrus.New()
	}
	return &ImagingCompressor{emitter: emitter, logger: logger}
}

// Compress performs one image compression according to the wire parameters.
func (c *ImagingCompressor) Compress(ctx context.Context, req Request) (Result, error) {
	res, err := c.compress(ctx, req)
	if err != nil {
		c.publish(req, StageError, 0, err.Error())
		return Result{}, err
	}
	c.publish(req, StageComplete, 1, "")
	return res, nil
}

func (c *ImagingCompressor) compress(ctx context.Context, req Request) (Result, error) {
	if req.Params.Quality < 1 || req.Params.Quality > 100 {
		return Result{}, fmt.Errorf("invalid quality setting: %d", req.Params.Quality)
	}

	source := imagestore.DetectFormat(req.Path)
	target := effectiveFormat(req.Params.Format, source)

	c.publish(req, StageLoading, 0.05, "")

	// Marked JPEG files have been through this tool before; re-encoding
	// them again only degrades quality, so pass the bytes through.
	if source == imagestore.FormatJPEG && target == WireJPEG && hasSqueezeMark(req.Path) {
		return c.passThrough(req, target)
	}

	img, err := c.decode(ctx, req.Path, source)
	if err != nil {
		return Result{}, fmt.Errorf("decode %s: %w", req.ImageName, err)
	}

	c.publish(req, StageCompressing, 0.4, "")

	outPath := outputPath(req, target)
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}

	tmpPath := outPath + ".tmp"
	switch target {
	case WireJPEG:
		err = c.encodeJPEG(img, req, tmpPath, source)
	case WirePNG:
		err = imaging.Save(img, tmpPath+".png")
		if err == nil {
			err = os.Rename(tmpPath+".png", tmpPath)
		}
	case WireWebP:
		err = c.encodeWebP(ctx, img, req, tmpPath)
	default:
		err = fmt.Errorf("unsupported target format %q", target)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return Result{}, fmt.Errorf("encode %s: %w", req.ImageName, err)
	}

	c.publish(req, StageSaving, 0.85, "")

	info, err := os.Stat(tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return Result{}, fmt.Errorf("stat compressed file: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return Result{}, fmt.Errorf("move compressed file: %w", err)
	}

	return Result{CompressedSize: info.Size(), OutputPath: outPath}, nil
}

// passThrough copies an already-compressed file unchanged to the output path.
func (c *ImagingCompressor) passThrough(req Request, target WireFormat) (Result, error) {
	outPath := outputPath(req, target)
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}
	if outPath != req.Path {
		if err := copyFile(req.Path, outPath); err != nil {
			return Result{}, fmt.Errorf("copy original: %w", err)
		}
	}
	info, err := os.Stat(outPath)
	if err != nil {
		return Result{}, fmt.Errorf("stat output: %w", err)
	}
	c.logger.Debugf("Skipping re-encode of already compressed file: %s", req.Path)
	return Result{CompressedSize: info.Size(), OutputPath: outPath}, nil
}

func (c *ImagingCompressor) decode(ctx context.Context, path string, source imagestore.Format) (image.Image, error) {
	switch source {
	case imagestore.FormatWebP:
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return webp.Decode(f)
	case imagestore.FormatHEIC:
		return c.decodeHEIC(ctx, path)
	default:
		return imaging.Open(path, imaging.AutoOrientation(true))
	}
}

// decodeHEIC converts a HEIC file to a temporary PNG via heif-convert and
// decodes that.
func (c *ImagingCompressor) decodeHEIC(ctx context.Context, path string) (image.Image, error) {
	tmp, err := os.CreateTemp("", "image-squeeze-heic-*.png")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	cmd := exec.CommandContext(ctx, "heif-convert", path, tmpPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("heif-convert failed: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return imaging.Open(tmpPath)
}

func (c *ImagingCompressor) encodeJPEG(img image.Image, req Request, tmpPath string, source imagestore.Format) error {
	if err := imaging.Save(img, tmpPath+".jpg", imaging.JPEGQuality(req.Params.Quality)); err != nil {
		return err
	}
	if err := os.Rename(tmpPath+".jpg", tmpPath); err != nil {
		return err
	}
	// Best effort: carry EXIF over and stamp the software marker so a
	// second run recognizes the file. Failures only cost metadata.
	if source == imagestore.FormatJPEG {
		if err := copyExifAndMark(req.Path, tmpPath); err != nil {
			c.logger.Warnf("EXIF not copied for %s: %v", req.ImageName, err)
		}
	}
	return nil
}

func (c *ImagingCompressor) encodeWebP(ctx context.Context, img image.Image, req Request, tmpPath string) error {
	// cwebp consumes PNG input, so stage the decoded image first.
	stage, err := os.CreateTemp("", "image-squeeze-webp-*.png")
	if err != nil {
		return err
	}
	stagePath := stage.Name()
	_ = stage.Close()
	defer os.Remove(stagePath)

	if err := imaging.Save(img, stagePath); err != nil {
		return err
	}

	args := []string{"-quiet"}
	if req.Params.Lossy {
		args = append(args, "-q", strconv.Itoa(req.Params.Quality))
	} else {
		args = append(args, "-lossless")
	}
	args = append(args, stagePath, "-o", tmpPath)

	cmd := exec.CommandContext(ctx, "cwebp", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("cwebp failed: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (c *ImagingCompressor) publish(req Request, stage Stage, progress float64, message string) {
	if c.emitter == nil {
		return
	}
	c.emitter.Publish(ProgressEvent{
		ImageID:   req.ImageID,
		ImageName: req.ImageName,
		Stage:     stage,
		Progress:  progress,
		Message:   message,
	})
}

// effectiveFormat maps the auto wire format onto a concrete container.
func effectiveFormat(wire WireFormat, source imagestore.Format) WireFormat {
	if wire != WireAuto {
		return wire
	}
	switch source {
	case imagestore.FormatJPEG, imagestore.FormatHEIC:
		return WireJPEG
	case imagestore.FormatWebP:
		return WireWebP
	default:
		return WirePNG
	}
}

// outputPath derives the output file path: same stem as the input with the
// target extension, in the configured output directory or next to the
// input. A would-be self-overwrite gets a -min suffix instead.
func outputPath(req Request, target WireFormat) string {
	ext := map[WireFormat]string{WireJPEG: ".jpg", WirePNG: ".png", WireWebP: ".webp"}[target]
	stem := strings.TrimSuffix(filepath.Base(req.Path), filepath.Ext(req.Path))

	dir := req.OutputDir
	if dir == "" {
		dir = filepath.Dir(req.Path)
	}
	out := filepath.Join(dir, stem+ext)
	if out == req.Path {
		out = filepath.Join(dir, stem+"-min"+ext)
	}
	return out
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
