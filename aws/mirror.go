package aws

import (
	"bitwise74/media-store/model"
	"bitwise74/media-store/service"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const minMultipartSize = 12 << 20

// Mirror pushes local files to the remote store in the background. It
// owns the LOCAL_READY -> IN_PROGRESS -> REMOTE_ONLY walk; the file
// engine only ever sees the status hooks.
type Mirror struct {
	S3    *S3Client
	Files *service.Files

	limiter     *rate.Limiter
	interval    time.Duration
	batch       int
	bucketDir   string
	removeLocal bool
	stop        chan struct{}
}

func NewMirror(s3c *S3Client, files *service.Files) *Mirror {
	return &Mirror{
		S3:          s3c,
		Files:       files,
		limiter:     rate.NewLimiter(rate.Limit(viper.GetFloat64("aws.rate_limit")), 1),
		interval:    viper.GetDuration("aws.sync_interval"),
		batch:       viper.GetInt("aws.sync_batch"),
		bucketDir:   viper.GetString("aws.bucket_dir"),
		removeLocal: viper.GetBool("aws.remove_local"),
		stop:        make(chan struct{}),
	}
}

// Start attaches the background sync loop.
func (m *Mirror) Start() {
	ticker := time.NewTicker(m.interval)

	zap.L().Debug("S3 mirror attached", zap.Duration("tick_every", m.interval))

	go func() {
		for {
			select {
			case <-ticker.C:
				m.RunOnce()
			case <-m.stop:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop detaches the background loop. Call it once.
func (m *Mirror) Stop() {
	close(m.stop)
}

// RunOnce claims one batch of LOCAL_READY files, oldest first, and pushes
// them out. A failed transfer puts the file back into the queue for a
// later pass.
func (m *Mirror) RunOnce() int {
	var ready []model.StoredFile

	err := m.Files.DB.
		Where("remote_status = ?", model.LocalReady).
		Order("date_created").
		Limit(m.batch).
		Find(&ready).
		Error
	if err != nil {
		zap.L().Error("Failed to query files ready for upload", zap.Error(err))
		return 0
	}

	uploaded := 0

	for i := range ready {
		f := &ready[i]

		if err := m.Files.MarkInProgress(f); err != nil {
			zap.L().Error("Failed to claim file for upload", zap.String("file_id", f.ID), zap.Error(err))
			continue
		}

		if err := m.upload(f); err != nil {
			zap.L().Error("Failed to upload file", zap.String("file_id", f.ID), zap.Error(err))

			if err := m.Files.MarkLocalReady(f); err != nil {
				zap.L().Error("Failed to release claimed file", zap.String("file_id", f.ID), zap.Error(err))
			}
			continue
		}

		if err := m.Files.MarkRemoteComplete(f); err != nil {
			zap.L().Error("Failed to record finished upload", zap.String("file_id", f.ID), zap.Error(err))
			continue
		}

		if m.removeLocal {
			if err := m.Files.Store.Remove(f.GeneratedFilename); err != nil {
				zap.L().Error("Failed to remove local copy", zap.String("file_id", f.ID), zap.Error(err))
			}
		}

		uploaded++
	}

	if uploaded > 0 {
		zap.L().Debug("Mirror pass finished", zap.Int("uploaded", uploaded))
	}

	return uploaded
}

func (m *Mirror) upload(f *model.StoredFile) error {
	if err := m.limiter.Wait(context.Background()); err != nil {
		return err
	}

	src, err := os.Open(m.Files.Store.FullPath(f.GeneratedFilename))
	if err != nil {
		return fmt.Errorf("failed to open local file, %w", err)
	}
	defer src.Close()

	stat, err := src.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat local file, %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	objectInput := &s3.PutObjectInput{
		Bucket:        m.S3.Bucket,
		Key:           aws.String(m.Key(f)),
		Body:          src,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(f.MimeType),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	}

	if stat.Size() > minMultipartSize {
		uploader := manager.NewUploader(m.S3.C, func(u *manager.Uploader) {
			u.Concurrency = 5
			u.PartSize = 6 << 20
		})

		_, err = uploader.Upload(ctx, objectInput)
	} else {
		_, err = m.S3.C.PutObject(ctx, objectInput)
	}
	if err != nil {
		return fmt.Errorf("failed to upload to S3, %w", err)
	}

	return nil
}

// Key returns the object key for f inside the bucket.
func (m *Mirror) Key(f *model.StoredFile) string {
	return path.Join(m.bucketDir, filepath.ToSlash(f.GeneratedFilename))
}

// Remove deletes the remote copy of f. Satisfies service.RemoteRemover so
// the expiry sweep can clean up mirrored files too.
func (m *Mirror) Remove(ctx context.Context, f *model.StoredFile) error {
	_, err := m.S3.C.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: m.S3.Bucket,
		Key:    aws.String(m.Key(f)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete remote copy, %w", err)
	}

	return nil
}
