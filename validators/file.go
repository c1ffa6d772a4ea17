// Package validators contains validators found throughout the application
// that have been abstracted away from the main code
package validators

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/viper"
)

var (
	ErrFileTooLarge        = errors.New("file too large")
	ErrFileNameTooLong     = errors.New("file name is too long")
	ErrFileTypeUnsupported = errors.New("unsupported file type")
	ErrFileTypeMismatch    = errors.New("file contents don't match the declared type")
	ErrNoFile              = errors.New("no file provided")
)

// FileValidator checks an upload before it's handed to intake. The
// declared metadata goes first since it's cheap, then the leading bytes
// are sniffed to catch clients lying about the content type. r is wound
// back to the start before returning.
func FileValidator(name string, size int64, declared string, r io.ReadSeeker) error {
	if r == nil {
		return ErrNoFile
	}

	if len(name) > viper.GetInt("upload.max_name_length") {
		return ErrFileNameTooLong
	}

	if size > viper.GetInt64("upload.max_size") {
		return ErrFileTooLarge
	}

	allowed := viper.GetStringSlice("upload.allowed_types")
	if len(allowed) > 0 && !slices.Contains(allowed, declared) {
		return ErrFileTypeUnsupported
	}

	// And now do the checks on the actual file to avoid
	// malicious clients
	mime, err := mimetype.DetectReader(r)
	if err != nil {
		return fmt.Errorf("failed to sniff file type, %w", err)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind file, %w", err)
	}

	if !mime.Is(declared) {
		return ErrFileTypeMismatch
	}

	return nil
}
