package utils

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"github.com/h2non/filetype"
	_ "golang.org/x/image/webp"
)

var ErrUnsupportedImage = errors.New("utils: unsupported image format")

// Formats ReadImage can decode, by sniffed extension.
var decodable = map[string]bool{"png": true, "jpg": true, "webp": true}

// ReadImage decodes a PNG, JPEG or WebP file. The format is sniffed from the
// file header rather than the extension.
func ReadImage(path string) (image.Image, error) {
	if err := checkImageType(path); err != nil {
		return nil, err
	}
	return imgio.Open(path)
}

func checkImageType(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// filetype needs at most 262 bytes to recognize any type.
	head := make([]byte, 262)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%s: %w", path, err)
	}
	kind, err := filetype.Match(head[:n])
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if kind == filetype.Unknown || !decodable[kind.Extension] {
		return fmt.Errorf("%w: %s (%s)", ErrUnsupportedImage, path, kind.MIME.Value)
	}
	return nil
}

// SaveImage encodes img as PNG, creating the parent directory if needed.
func SaveImage(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}
	return imgio.Save(filename, img, imgio.PNGEncoder())
}

// ScaleToWidth resizes img to the given width keeping the aspect ratio. A
// non-positive width returns img unchanged.
func ScaleToWidth(img image.Image, width int) image.Image {
	size := img.Bounds().Size()
	if width <= 0 || size.X == 0 || width == size.X {
		return img
	}
	height := max(1, int(float64(size.Y)*float64(width)/float64(size.X)+0.5))
	return transform.Resize(img, width, height, transform.Lanczos)
}
