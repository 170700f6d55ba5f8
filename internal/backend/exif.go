package backend

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/barasher/go-exiftool"
	"github.com/rwcarlsen/goexif/exif"
)

// squeezeMark is the Software tag value stamped on re-encoded JPEG files.
const squeezeMark = "ImageSqueeze Compressed"

// hasSqueezeMark reports whether a JPEG file carries the software marker.
// It tries a cheap in-process EXIF decode first and falls back to an
// exiftool session for files goexif cannot parse.
func hasSqueezeMark(path string) bool {
	if marked, err := quickMarkCheck(path); err == nil {
		return marked
	}
	marked, err := exiftoolMarkCheck(path)
	return err == nil && marked
}

func quickMarkCheck(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return false, err
	}
	tag, err := x.Get(exif.Software)
	if err != nil {
		return false, err
	}
	val, err := tag.StringVal()
	if err != nil {
		return false, err
	}
	return strings.Contains(val, squeezeMark), nil
}

func exiftoolMarkCheck(path string) (bool, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return false, err
	}
	defer et.Close()

	files := et.ExtractMetadata(path)
	if len(files) == 0 || files[0].Err != nil {
		return false, fmt.Errorf("exiftool metadata extraction failed")
	}
	if sw, ok := files[0].Fields["Software"].(string); ok {
		return strings.Contains(sw, squeezeMark), nil
	}
	return false, nil
}

// copyExifAndMark copies EXIF from src to dst and stamps the software
// marker, both via the exiftool binary.
func copyExifAndMark(src, dst string) error {
	if err := exec.Command("exiftool", "-TagsFromFile", src, "-overwrite_original", dst).Run(); err != nil {
		return fmt.Errorf("exiftool copy failed: %v", err)
	}
	if err := exec.Command("exiftool", "-overwrite_original", "-Software="+squeezeMark, dst).Run(); err != nil {
		return fmt.Errorf("exiftool set Software failed: %v", err)
	}
	return nil
}
