package service

import (
	"bitwise74/media-store/imaging"
	"bitwise74/media-store/model"
	"bitwise74/media-store/storage"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrUnknownDerivation = errors.New("unknown derivation rule")
	ErrDerivedSource     = errors.New("derivations can't be derived from")
)

const (
	derivationCacheSize = 4096
	derivationCacheTTL  = time.Hour
)

// Files ties the database, the disk store and the derivation rules
// together. One instance is shared by everything that touches stored
// files.
type Files struct {
	DB    *gorm.DB
	Store *storage.Store
	Rules []DerivationRule

	// Defaults to imaging.Apply
	Transform func(src image.Image, ops []imaging.Operation) (image.Image, error)

	// Read-through memo over the derivation lookup. A nil value is a
	// known miss: the rule was resolved before and nothing came of it
	cache *expirable.LRU[string, *model.StoredFile]
}

func NewFiles(db *gorm.DB, store *storage.Store, rules []DerivationRule) *Files {
	return &Files{
		DB:        db,
		Store:     store,
		Rules:     rules,
		Transform: imaging.Apply,
		cache:     expirable.NewLRU[string, *model.StoredFile](derivationCacheSize, nil, derivationCacheTTL),
	}
}

func cacheKey(fileID, ruleID string) string {
	return fileID + "\x00" + ruleID
}

func (s *Files) rule(ruleID string) (*DerivationRule, error) {
	for i := range s.Rules {
		if s.Rules[i].ID == ruleID {
			return &s.Rules[i], nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownDerivation, ruleID)
}

// WriteToDisk streams data into the file's hashed location, resolving the
// hash and path first if the record doesn't have them yet. A failed write
// comes back as state, not as an error: the record is marked corrupt and
// the call still returns nil. Only a directory that can't be created is a
// real error, since that means the deployment is broken.
func (s *Files) WriteToDisk(f *model.StoredFile, data io.Reader, save bool) error {
	updated := make([]string, 0, 3)

	if f.Hash == "" {
		if err := f.GenerateHash(); err != nil {
			return err
		}

		updated = append(updated, "hash")
	}

	if f.GeneratedFilename == "" {
		f.GeneratedFilename = storage.GeneratePath(
			f.Hash,
			f.OriginalFilename,
			viper.GetInt("storage.split_levels"),
			viper.GetInt("storage.split_chars"),
		)

		updated = append(updated, "generated_filename")
	}

	if err := s.Store.EnsureDir(f.GeneratedFilename); err != nil {
		return err
	}

	if _, err := s.Store.Write(f.GeneratedFilename, data); err != nil {
		zap.L().Error("Failed to write stored file",
			zap.String("file_id", f.ID),
			zap.String("path", f.GeneratedFilename),
			zap.Error(err),
		)

		f.IsValid = model.Bool(false)
		f.RemoteStatus = model.LocalCorrupt

		if save {
			err := s.DB.Model(f).Select("is_valid", "remote_status").Updates(map[string]any{
				"is_valid":      false,
				"remote_status": model.LocalCorrupt,
			}).Error
			if err != nil {
				return fmt.Errorf("failed to record corrupt state, %w", err)
			}
		}

		return nil
	}

	f.RemoteStatus = model.DefaultRemoteStatus()
	updated = append(updated, "remote_status")

	if save {
		if err := s.DB.Model(f).Select(updated).Updates(*f).Error; err != nil {
			return fmt.Errorf("failed to persist file record, %w", err)
		}
	}

	return nil
}

// Delete removes f's derivations, its local bytes and finally its own
// record. Children go first, one at a time, so each runs its own cleanup.
// Records removed through the database directly skip all of this and
// leave their files on disk for an out-of-band reconciliation.
func (s *Files) Delete(f *model.StoredFile) error {
	var children []model.StoredFile

	err := s.DB.Where("derived_from = ?", f.ID).Find(&children).Error
	if err != nil {
		return fmt.Errorf("failed to list derivations, %w", err)
	}

	for i := range children {
		if err := s.Delete(&children[i]); err != nil {
			return err
		}
	}

	if f.GeneratedFilename != "" {
		if err := s.Store.Remove(f.GeneratedFilename); err != nil {
			return err
		}
	}

	if err := s.DB.Delete(f).Error; err != nil {
		return fmt.Errorf("failed to delete file record, %w", err)
	}

	if f.DerivedFrom != nil && f.DerivationType != nil {
		s.cache.Remove(cacheKey(*f.DerivedFrom, *f.DerivationType))
	}

	return nil
}

// Keep pins a file that some workflow decided to hold on to. Called on a
// derivation it walks up to the parent first; the resolved target and
// every derivation it has lose their expiry together, including ones
// generated later, since those copy the parent's now-empty expiry.
func (s *Files) Keep(f *model.StoredFile) error {
	target := f

	if f.DerivationType != nil && f.DerivedFrom != nil {
		var parent model.StoredFile

		if err := s.DB.First(&parent, "id = ?", *f.DerivedFrom).Error; err != nil {
			return fmt.Errorf("failed to load parent file, %w", err)
		}

		target = &parent
	}

	target.DateExpires = nil

	if err := s.DB.Model(target).Update("date_expires", nil).Error; err != nil {
		return fmt.Errorf("failed to clear expiry, %w", err)
	}

	err := s.DB.Model(model.StoredFile{}).
		Where("derived_from = ?", target.ID).
		Update("date_expires", nil).
		Error
	if err != nil {
		return fmt.Errorf("failed to clear derivation expiries, %w", err)
	}

	return nil
}

// MarkInProgress flags f as claimed by the remote sync worker. No bytes
// move here, the worker owns the transfer itself.
func (s *Files) MarkInProgress(f *model.StoredFile) error {
	f.RemoteStatus = model.InProgress
	return s.saveStatus(f)
}

// MarkRemoteComplete records a finished mirror upload.
func (s *Files) MarkRemoteComplete(f *model.StoredFile) error {
	now := time.Now().UTC()

	f.RemoteStatus = model.RemoteOnly
	f.DateStored = &now

	err := s.DB.Model(f).Select("remote_status", "date_stored").Updates(*f).Error
	if err != nil {
		return fmt.Errorf("failed to update remote status, %w", err)
	}

	return nil
}

// MarkLocalReady puts f back into the mirror queue, typically after a
// failed transfer.
func (s *Files) MarkLocalReady(f *model.StoredFile) error {
	f.RemoteStatus = model.LocalReady
	return s.saveStatus(f)
}

func (s *Files) saveStatus(f *model.StoredFile) error {
	if err := s.DB.Model(f).Update("remote_status", f.RemoteStatus).Error; err != nil {
		return fmt.Errorf("failed to update remote status, %w", err)
	}

	return nil
}
