// Package model defines database models
package model

import (
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/viper"
)

const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Exact allow-lists instead of prefix matching. The question isn't whether
// the MIME family sounds right but whether the engine can actually do
// something useful with the type
var (
	imageTypes = []string{"image/gif", "image/jpeg", "image/png"}
	videoTypes = []string{"video/mpeg", "video/webm", "video/x-flv"}
	audioTypes = []string{"audio/mpeg", "audio/x-wav"}
)

type StoredFile struct {
	ID string `gorm:"primaryKey" json:"id"`

	// Identifier driving path generation, not an integrity checksum.
	// Stays fixed once the file has been written under it
	Hash string `gorm:"index" json:"hash"`

	// Metadata as the client declared it. None of it is trustworthy
	OriginalFilename string `json:"name"`
	Size             int64  `json:"size"`
	MimeType         string `json:"mime_type"`

	// Only set when the file was probed successfully
	Width    *int     `json:"width,omitempty"`
	Height   *int     `json:"height,omitempty"`
	Duration *float64 `json:"duration,omitempty"`

	// Storage-relative path built from the hash. Recorded explicitly so
	// that changing the split settings later doesn't orphan old files
	GeneratedFilename string `json:"generated_filename"`

	// nil = never checked, false = failed a write or a decode, true = fine
	IsValid *bool `json:"is_valid"`

	RemoteStatus RemoteStatus `json:"remote_status"`

	// Both set on derived files only
	DerivationType *string `gorm:"index" json:"derivation_type,omitempty"`
	DerivedFrom    *string `gorm:"index" json:"derived_from,omitempty"`

	DateCreated time.Time  `gorm:"not null" json:"date_created"`
	DateStored  *time.Time `json:"date_stored,omitzero"`
	DateExpires *time.Time `json:"date_expires,omitzero"`
}

// NewStoredFile builds a record for a fresh upload from the client-supplied
// metadata. Nothing is persisted and no bytes are touched yet.
func NewStoredFile(originalFilename string, size int64, mimeType string) (*StoredFile, error) {
	id, err := gonanoid.Generate(charset, 16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate file ID, %w", err)
	}

	now := time.Now().UTC()

	return &StoredFile{
		ID:               id,
		OriginalFilename: originalFilename,
		Size:             size,
		MimeType:         mimeType,
		RemoteStatus:     LocalIncomplete,
		DateCreated:      now,
		DateExpires:      DefaultDateExpires(now),
	}, nil
}

// DefaultRemoteStatus is where a successfully written file lands: LocalOnly
// when no remote store is configured, LocalReady when the mirror should
// pick it up.
func DefaultRemoteStatus() RemoteStatus {
	if viper.GetString("storage.remote_mode") == "local" {
		return LocalOnly
	}

	return LocalReady
}

// DefaultDateExpires returns when an unclaimed upload gets swept, or nil
// when auto-expiry is disabled.
func DefaultDateExpires(now time.Time) *time.Time {
	days := viper.GetFloat64("upload.auto_expire_days")
	if days <= 0 {
		return nil
	}

	t := now.Add(time.Duration(days * 24 * float64(time.Hour)))
	return &t
}

// IsReady reports whether the file is complete somewhere and confirmed
// valid. Files mid-write or queued for the mirror aren't ready.
func (f *StoredFile) IsReady() bool {
	return f.IsValid != nil && *f.IsValid &&
		(f.RemoteStatus == LocalOnly || f.RemoteStatus == RemoteOnly)
}

func (f *StoredFile) IsImage() bool {
	return slices.Contains(imageTypes, f.MimeType)
}

func (f *StoredFile) IsVideo() bool {
	return slices.Contains(videoTypes, f.MimeType)
}

func (f *StoredFile) IsAudio() bool {
	return slices.Contains(audioTypes, f.MimeType)
}

// LocalPath is where the file should be on the local disk, whether or not
// it's actually there.
func (f *StoredFile) LocalPath() string {
	return filepath.Join(viper.GetString("storage.local_dir"), f.GeneratedFilename)
}

// InternalURL addresses the file through the host web server, e.g. for
// nginx internal redirects on protected files.
func (f *StoredFile) InternalURL() string {
	return viper.GetString("storage.internal_url") + filepath.ToSlash(f.GeneratedFilename)
}

// ExternalURL is the address handed out to end users.
func (f *StoredFile) ExternalURL() string {
	return viper.GetString("storage.external_url") + filepath.ToSlash(f.GeneratedFilename)
}

// ShortHash is for log output only.
func (f *StoredFile) ShortHash() string {
	if len(f.Hash) < 8 {
		return "-"
	}

	return f.Hash[:8]
}

func (f *StoredFile) String() string {
	w, h := "-", "-"
	if f.Width != nil {
		w = strconv.Itoa(*f.Width)
	}
	if f.Height != nil {
		h = strconv.Itoa(*f.Height)
	}

	return fmt.Sprintf("[StoredFile:%s] %s %d %sx%s %s %s", f.ID, f.ShortHash(), f.Size, w, h, f.MimeType, f.RemoteStatus)
}

// Pointer helpers for the nullable columns
func Bool(v bool) *bool { return &v }
func Int(v int) *int    { return &v }
