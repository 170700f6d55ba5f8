package settings

import (
	"image-squeeze-go/internal/backend"
	"image-squeeze-go/internal/imagestore"
)

// Resolve maps the user preset and the source image's format into the
// wire parameters sent to the compression backend.
//
// "keep" resolves to the auto wire format except for HEIC sources, which
// the backend cannot preserve and are forced to JPEG.
func Resolve(format OutputFormat, level Level, source imagestore.Format) backend.Params {
	effective := format
	if format == FormatKeep {
		if source == imagestore.FormatHEIC {
			effective = FormatJPEG
		} else {
			return resolveAuto(level, source)
		}
	}

	switch effective {
	case FormatWebP:
		return webpParams(level)
	case FormatJPEG:
		return jpegParams(level)
	default: // FormatPNG: always lossless, the level has no effect
		return backend.Params{Quality: 100, Format: backend.WirePNG, Lossy: false}
	}
}

// resolveAuto handles keep for non-HEIC sources: the container is
// preserved and the quality follows the matching format branch.
func resolveAuto(level Level, source imagestore.Format) backend.Params {
	var p backend.Params
	switch source {
	case imagestore.FormatWebP:
		p = webpParams(level)
	case imagestore.FormatJPEG:
		p = jpegParams(level)
	default: // PNG and unrecognized sources stay lossless
		p = backend.Params{Quality: 100, Lossy: false}
	}
	p.Format = backend.WireAuto
	return p
}

func webpParams(level Level) backend.Params {
	quality := map[Level]int{LevelLight: 100, LevelBalanced: 80, LevelAggressive: 60}[level]
	return backend.Params{Quality: quality, Format: backend.WireWebP, Lossy: level != LevelLight}
}

func jpegParams(level Level) backend.Params {
	quality := map[Level]int{LevelLight: 92, LevelBalanced: 80, LevelAggressive: 60}[level]
	return backend.Params{Quality: quality, Format: backend.WireJPEG, Lossy: true}
}
