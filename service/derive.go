package service

import (
	"bitwise74/media-store/imaging"
	"bitwise74/media-store/model"
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Derived files always come out of the JPEG encoder, whatever went in
const derivedFilename = "_auto_generated.jpg"
const derivedMimeType = "image/jpeg"

// dump traces derivation decisions when debug.dump_derivations is on.
// Way too noisy for regular debug logging.
func dump(msg string, fields ...zap.Field) {
	if viper.GetBool("debug.dump_derivations") {
		zap.L().Debug(msg, fields...)
	}
}

// Fetch returns the derivation of f for the given rule, or nil when none
// is available. A missing derivation whose rule is Lazy or Immediate is
// generated on the spot unless allowLazy says no. Outcomes, including
// "there is none", are memoized per (file, rule): a cached miss is not
// retried until a call passes forceReload.
func (s *Files) Fetch(f *model.StoredFile, ruleID string, allowLazy, forceReload bool) (*model.StoredFile, error) {
	rule, err := s.rule(ruleID)
	if err != nil {
		return nil, err
	}

	key := cacheKey(f.ID, ruleID)

	derived, cached := s.cache.Get(key)

	// Generation is only fair game on a fresh answer from the database.
	// Retrying on every cache hit would hammer rules that keep failing
	fresh := false

	if !cached || forceReload {
		var found []model.StoredFile

		err := s.DB.
			Where("derived_from = ? AND derivation_type = ?", f.ID, ruleID).
			Limit(1).
			Find(&found).
			Error
		if err != nil {
			return nil, fmt.Errorf("failed to look up derivation, %w", err)
		}

		derived = nil
		if len(found) > 0 {
			derived = &found[0]
		}

		s.cache.Add(key, derived)
		fresh = true
	}

	dump("Derivation fetch",
		zap.String("rule", ruleID),
		zap.String("file_id", f.ID),
		zap.Bool("found", derived != nil),
		zap.Bool("fresh", fresh),
	)

	if derived != nil {
		// Corrupt derivations count as missing and are never redone
		// here, that only happens through an explicit Generate call
		if derived.RemoteStatus == model.LocalCorrupt {
			return nil, nil
		}

		return derived, nil
	}

	if fresh && allowLazy && (rule.Mode == Lazy || rule.Mode == Immediate) {
		return s.Generate(f, ruleID, nil)
	}

	return nil, nil
}

// Generate produces the derived file for ruleID right now and returns it.
// srcImg, when non-nil, is used instead of decoding the source from disk,
// which is how immediate rules share one decode across the whole table.
//
// Asking for a rule that doesn't exist or deriving from a derivation is a
// hard error. Everything else that can go wrong is soft: logged, memoized
// as a miss for this (file, rule) pair, and returned as plain nil.
func (s *Files) Generate(f *model.StoredFile, ruleID string, srcImg image.Image) (*model.StoredFile, error) {
	rule, err := s.rule(ruleID)
	if err != nil {
		return nil, err
	}

	if f.DerivationType != nil {
		return nil, fmt.Errorf("%w: %s", ErrDerivedSource, f.ID)
	}

	key := cacheKey(f.ID, ruleID)

	if f.RemoteStatus == model.LocalCorrupt || f.IsValid == nil || !*f.IsValid {
		dump("Derivation skipped, source unusable",
			zap.String("rule", ruleID),
			zap.String("file_id", f.ID),
			zap.Stringer("remote_status", f.RemoteStatus),
		)

		s.cache.Add(key, nil)
		return nil, nil
	}

	if srcImg == nil {
		srcImg, err = imaging.DecodeFile(s.Store.FullPath(f.GeneratedFilename))
		if err != nil {
			zap.L().Error("Failed to decode derivation source",
				zap.String("rule", ruleID),
				zap.String("file_id", f.ID),
				zap.Error(err),
			)

			s.cache.Add(key, nil)
			return nil, nil
		}
	}

	derived, err := s.materialize(f, rule, srcImg)
	if err != nil {
		zap.L().Error("Failed to generate derivation",
			zap.String("rule", ruleID),
			zap.String("file_id", f.ID),
			zap.Error(err),
		)

		s.cache.Add(key, nil)
		return nil, nil
	}

	dump("Derivation generated",
		zap.String("rule", ruleID),
		zap.String("file_id", f.ID),
		zap.String("derived_id", derived.ID),
	)

	s.cache.Add(key, derived)
	return derived, nil
}

// materialize runs the rule's operations and lands the result on disk as
// a two-phase create: the child record exists first as LocalIncomplete so
// it has an identity and a path, and only gets promoted once its bytes
// are safely written.
func (s *Files) materialize(f *model.StoredFile, rule *DerivationRule, srcImg image.Image) (*model.StoredFile, error) {
	img, err := s.Transform(srcImg, rule.Operations)
	if err != nil {
		return nil, err
	}

	encoded, err := imaging.EncodeJPEG(img, viper.GetInt("derive.jpeg_quality"))
	if err != nil {
		return nil, err
	}

	derived, err := model.NewStoredFile(derivedFilename, int64(len(encoded)), derivedMimeType)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()

	derived.Width = model.Int(b.Dx())
	derived.Height = model.Int(b.Dy())
	derived.IsValid = model.Bool(true)
	derived.DerivationType = &rule.ID
	derived.DerivedFrom = &f.ID

	// The source's expiry at this instant, not the default window. A
	// derivation never outlives its parent's claim
	derived.DateExpires = f.DateExpires

	if err := s.DB.Create(derived).Error; err != nil {
		return nil, fmt.Errorf("failed to create derivation record, %w", err)
	}

	if err := s.WriteToDisk(derived, bytes.NewReader(encoded), true); err != nil {
		return nil, err
	}

	if derived.RemoteStatus == model.LocalCorrupt {
		// The bad write is already recorded on the child. The orphaned
		// record stays behind for the sweep to find
		return nil, errors.New("failed to write derivation to disk")
	}

	return derived, nil
}

// GenerateImmediate makes every rule marked Immediate, reusing one
// decoded source image across the whole table so the original is only
// read once.
func (s *Files) GenerateImmediate(f *model.StoredFile, srcImg image.Image) {
	if f.IsValid == nil || !*f.IsValid {
		return
	}

	if srcImg == nil {
		var err error

		srcImg, err = imaging.DecodeFile(s.Store.FullPath(f.GeneratedFilename))
		if err != nil {
			zap.L().Error("Failed to decode derivation source",
				zap.String("file_id", f.ID),
				zap.Error(err),
			)
			return
		}
	}

	for _, rule := range s.Rules {
		if rule.Mode != Immediate {
			continue
		}

		// Errors here mean a broken rule table, not bad data
		if _, err := s.Generate(f, rule.ID, srcImg); err != nil {
			zap.L().Error("Failed to generate immediate derivation",
				zap.String("rule", rule.ID),
				zap.String("file_id", f.ID),
				zap.Error(err),
			)
		}
	}
}
