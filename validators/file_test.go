package validators

import (
	"bytes"
	"image"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupValidator(t *testing.T) {
	t.Helper()

	viper.Set("upload.max_name_length", 255)
	viper.Set("upload.max_size", int64(10<<20))
	viper.Set("upload.allowed_types", []string{"image/jpeg", "image/png"})
}

func pngBytes(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))

	return buf.Bytes()
}

func TestFileValidatorAcceptsMatchingFile(t *testing.T) {
	setupValidator(t)

	data := pngBytes(t)
	r := bytes.NewReader(data)

	require.NoError(t, FileValidator("pic.png", int64(len(data)), "image/png", r))

	// The sniffed bytes must be readable again by whoever comes next
	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, rest)
}

func TestFileValidatorCatchesLyingClients(t *testing.T) {
	setupValidator(t)

	data := pngBytes(t)

	err := FileValidator("pic.jpg", int64(len(data)), "image/jpeg", bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrFileTypeMismatch)
}

func TestFileValidatorRejectsLongNames(t *testing.T) {
	setupValidator(t)

	name := strings.Repeat("a", 256) + ".png"

	err := FileValidator(name, 10, "image/png", bytes.NewReader(pngBytes(t)))
	assert.ErrorIs(t, err, ErrFileNameTooLong)
}

func TestFileValidatorRejectsOversizedFiles(t *testing.T) {
	setupValidator(t)

	err := FileValidator("pic.png", 11<<20, "image/png", bytes.NewReader(pngBytes(t)))
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestFileValidatorRejectsUnsupportedTypes(t *testing.T) {
	setupValidator(t)

	err := FileValidator("doc.pdf", 10, "application/pdf", bytes.NewReader([]byte("%PDF-1.4")))
	assert.ErrorIs(t, err, ErrFileTypeUnsupported)
}

func TestFileValidatorAllowsAnythingWithoutAllowList(t *testing.T) {
	setupValidator(t)
	viper.Set("upload.allowed_types", []string{})

	data := []byte("plain text payload")

	err := FileValidator("notes.txt", int64(len(data)), "text/plain", bytes.NewReader(data))
	assert.NoError(t, err)
}

func TestFileValidatorRequiresAFile(t *testing.T) {
	setupValidator(t)

	err := FileValidator("pic.png", 10, "image/png", nil)
	assert.ErrorIs(t, err, ErrNoFile)
}
