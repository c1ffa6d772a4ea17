package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"

	// Register the formats the engine accepts as sources
	_ "image/gif"
	_ "image/png"
)

// Decode parses image bytes into a pixel buffer. Failure means corrupt
// bytes or an unsupported format, never a crash.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image, %w", err)
	}

	return img, nil
}

// DecodeFile reads and decodes the image at path.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s, %w", path, err)
	}
	defer f.Close()

	return Decode(f)
}

// EncodeJPEG renders img as JPEG bytes. Derived images always come out
// this way no matter what format went in.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	buf := &bytes.Buffer{}

	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg, %w", err)
	}

	return buf.Bytes(), nil
}
