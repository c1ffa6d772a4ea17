package service

import (
	"bitwise74/media-store/model"
	"context"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RemoteRemover deletes the mirrored copy of a file. Optional: without
// one, remote objects of swept files stay behind for an out-of-band
// reconciliation to find.
type RemoteRemover interface {
	Remove(ctx context.Context, f *model.StoredFile) error
}

// Sweep periodically deletes stored files whose expiry passed without
// anyone claiming them. Every expired record goes through Files.Delete,
// so derivations and on-disk bytes go with it.
type Sweep struct {
	Files  *Files
	Remote RemoteRemover

	interval time.Duration
	batch    int

	mu   sync.Mutex
	stop chan struct{}
}

func NewSweep(files *Files, remote RemoteRemover) *Sweep {
	return &Sweep{
		Files:    files,
		Remote:   remote,
		interval: viper.GetDuration("sweep.interval"),
		batch:    viper.GetInt("sweep.batch_size"),
		stop:     make(chan struct{}),
	}
}

// Start attaches the background sweep loop.
func (s *Sweep) Start() {
	ticker := time.NewTicker(s.interval)

	zap.L().Debug("Expiry sweep attached", zap.Duration("tick_every", s.interval))

	go func() {
		for {
			select {
			case <-ticker.C:
				s.RunOnce()
			case <-s.stop:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop detaches the background loop. Call it once.
func (s *Sweep) Stop() {
	close(s.stop)
}

// RunOnce does a single sweep pass and returns how many records went
// away.
func (s *Sweep) RunOnce() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []model.StoredFile

	err := s.Files.DB.
		Where("date_expires IS NOT NULL AND date_expires < ?", time.Now().UTC()).
		Limit(s.batch).
		Find(&expired).
		Error
	if err != nil {
		zap.L().Error("Failed to query expired files", zap.Error(err))
		return 0
	}

	deleted := 0

	for i := range expired {
		f := &expired[i]

		if s.Remote != nil && (f.RemoteStatus == model.RemoteOnly || f.RemoteStatus == model.InProgress) {
			if err := s.Remote.Remove(context.Background(), f); err != nil {
				// The local cleanup still runs, the remote object gets
				// picked up by reconciliation later
				zap.L().Error("Failed to delete remote copy",
					zap.String("file_id", f.ID),
					zap.Error(err),
				)
			}
		}

		if err := s.Files.Delete(f); err != nil {
			zap.L().Error("Failed to delete expired file",
				zap.String("file_id", f.ID),
				zap.Error(err),
			)
			continue
		}

		deleted++
	}

	if deleted > 0 {
		zap.L().Debug("Expiry sweep finished", zap.Int("deleted", deleted))
	}

	return deleted
}
