package service

import (
	"bitwise74/media-store/imaging"
	"bitwise74/media-store/model"
	"bitwise74/media-store/storage"
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestFiles(t *testing.T, rules []DerivationRule) *Files {
	t.Helper()

	viper.Set("hash.secret", "test-secret")
	viper.Set("storage.local_dir", t.TempDir())
	viper.Set("storage.split_levels", 2)
	viper.Set("storage.split_chars", 1)
	viper.Set("storage.remote_mode", "local")
	viper.Set("upload.auto_expire_days", 1.0)
	viper.Set("upload.check_images", true)
	viper.Set("derive.jpeg_quality", 90)
	viper.Set("debug.dump_derivations", false)

	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(model.StoredFile{}))

	store, err := storage.New(viper.GetString("storage.local_dir"))
	require.NoError(t, err)

	return NewFiles(conn, store, rules)
}

// makeJPEG renders a w by h image and returns it as encoded bytes.
func makeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	data, err := imaging.EncodeJPEG(img, 90)
	require.NoError(t, err)

	return data
}

func reload(t *testing.T, s *Files, id string) *model.StoredFile {
	t.Helper()

	var got model.StoredFile
	require.NoError(t, s.DB.First(&got, "id = ?", id).Error)

	return &got
}

func TestWriteToDiskResolvesHashAndPath(t *testing.T) {
	s := newTestFiles(t, nil)

	f, err := model.NewStoredFile("photo.jpg", 4, "image/jpeg")
	require.NoError(t, err)

	require.NoError(t, s.WriteToDisk(f, strings.NewReader("data"), false))

	assert.Len(t, f.Hash, 64)
	assert.NotEmpty(t, f.GeneratedFilename)
	assert.True(t, strings.HasSuffix(f.GeneratedFilename, ".jpg"))
	assert.Equal(t, model.LocalOnly, f.RemoteStatus)
	assert.True(t, s.Store.Exists(f.GeneratedFilename))

	// Two directory levels of one character each
	parts := strings.Split(filepath.ToSlash(f.GeneratedFilename), "/")
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 1)
	assert.Len(t, parts[1], 1)
}

func TestWriteToDiskFailureIsRecordedNotThrown(t *testing.T) {
	s := newTestFiles(t, nil)

	f, err := model.NewStoredFile("photo.jpg", 4, "image/jpeg")
	require.NoError(t, err)
	require.NoError(t, f.GenerateHash())
	f.GeneratedFilename = storage.GeneratePath(f.Hash, f.OriginalFilename, 2, 1)

	require.NoError(t, s.DB.Create(f).Error)

	// Plant a directory where the file should go so the write fails
	require.NoError(t, os.MkdirAll(s.Store.FullPath(f.GeneratedFilename), 0o755))

	require.NoError(t, s.WriteToDisk(f, strings.NewReader("data"), true))

	require.NotNil(t, f.IsValid)
	assert.False(t, *f.IsValid)
	assert.Equal(t, model.LocalCorrupt, f.RemoteStatus)

	got := reload(t, s, f.ID)
	require.NotNil(t, got.IsValid)
	assert.False(t, *got.IsValid)
	assert.Equal(t, model.LocalCorrupt, got.RemoteStatus)
}

func TestWriteToDiskPersistsOnSuccess(t *testing.T) {
	s := newTestFiles(t, nil)

	f, err := model.NewStoredFile("photo.jpg", 4, "image/jpeg")
	require.NoError(t, err)
	require.NoError(t, s.DB.Create(f).Error)

	require.NoError(t, s.WriteToDisk(f, strings.NewReader("data"), true))

	got := reload(t, s, f.ID)
	assert.Equal(t, f.Hash, got.Hash)
	assert.Equal(t, f.GeneratedFilename, got.GeneratedFilename)
	assert.Equal(t, model.LocalOnly, got.RemoteStatus)
}

func TestDeleteCascadesThroughDerivations(t *testing.T) {
	s := newTestFiles(t, DefaultRules())

	f, err := s.Ingest(IngestParams{
		Reader:           bytes.NewReader(makeJPEG(t, 400, 300)),
		OriginalFilename: "photo.jpg",
		Size:             1,
		MimeType:         "image/jpeg",
	})
	require.NoError(t, err)

	child, err := s.Fetch(f, "THUMBNAIL", false, false)
	require.NoError(t, err)
	require.NotNil(t, child)

	parentPath := s.Store.FullPath(f.GeneratedFilename)
	childPath := s.Store.FullPath(child.GeneratedFilename)

	require.FileExists(t, parentPath)
	require.FileExists(t, childPath)

	require.NoError(t, s.Delete(f))

	var count int64
	require.NoError(t, s.DB.Model(model.StoredFile{}).Count(&count).Error)
	assert.Zero(t, count)

	assert.NoFileExists(t, parentPath)
	assert.NoFileExists(t, childPath)
}

func TestDeleteToleratesMissingFile(t *testing.T) {
	s := newTestFiles(t, nil)

	f, err := model.NewStoredFile("gone.jpg", 1, "image/jpeg")
	require.NoError(t, err)
	f.GeneratedFilename = filepath.Join("a", "b", "gone.jpg")
	require.NoError(t, s.DB.Create(f).Error)

	assert.NoError(t, s.Delete(f))
}

func TestKeepClearsExpiryOnParentAndAllDerivations(t *testing.T) {
	rules := append(DefaultRules(), DerivationRule{
		ID:         "PREVIEW",
		Label:      "Preview",
		Mode:       Immediate,
		Operations: DefaultRules()[0].Operations,
	})

	s := newTestFiles(t, rules)

	f, err := s.Ingest(IngestParams{
		Reader:           bytes.NewReader(makeJPEG(t, 400, 300)),
		OriginalFilename: "photo.jpg",
		Size:             1,
		MimeType:         "image/jpeg",
	})
	require.NoError(t, err)
	require.NotNil(t, f.DateExpires)

	thumb, err := s.Fetch(f, "THUMBNAIL", false, false)
	require.NoError(t, err)
	require.NotNil(t, thumb)
	require.NotNil(t, thumb.DateExpires)

	preview, err := s.Fetch(f, "PREVIEW", false, false)
	require.NoError(t, err)
	require.NotNil(t, preview)

	// Keep called on one derivation has to walk up to the parent and
	// take the whole family with it
	require.NoError(t, s.Keep(thumb))

	assert.Nil(t, reload(t, s, f.ID).DateExpires)
	assert.Nil(t, reload(t, s, thumb.ID).DateExpires)
	assert.Nil(t, reload(t, s, preview.ID).DateExpires)
}

func TestMirrorHooks(t *testing.T) {
	s := newTestFiles(t, nil)

	f, err := model.NewStoredFile("photo.jpg", 1, "image/jpeg")
	require.NoError(t, err)
	f.RemoteStatus = model.LocalReady
	require.NoError(t, s.DB.Create(f).Error)

	require.NoError(t, s.MarkInProgress(f))
	assert.Equal(t, model.InProgress, reload(t, s, f.ID).RemoteStatus)

	require.NoError(t, s.MarkRemoteComplete(f))
	got := reload(t, s, f.ID)
	assert.Equal(t, model.RemoteOnly, got.RemoteStatus)
	require.NotNil(t, got.DateStored)
	assert.WithinDuration(t, time.Now().UTC(), *got.DateStored, time.Minute)

	require.NoError(t, s.MarkLocalReady(f))
	assert.Equal(t, model.LocalReady, reload(t, s, f.ID).RemoteStatus)
}
