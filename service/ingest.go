package service

import (
	"bitwise74/media-store/imaging"
	"bitwise74/media-store/model"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// IngestParams carries everything needed to store one new file.
type IngestParams struct {
	// Raw bytes. Streamed straight to disk, never buffered whole
	Reader io.Reader

	// Metadata as the client declared it
	OriginalFilename string
	Size             int64
	MimeType         string

	// Overrides the default expiry window when set
	DateExpires *time.Time
}

// Ingest runs the full intake sequence for one file: record creation,
// hash and path resolution, the disk write, image probing and whatever
// immediate derivations the rule table asks for. The returned record is
// persisted even when the bytes turned out to be garbage, since a broken
// upload is recorded on the record rather than thrown.
func (s *Files) Ingest(p IngestParams) (*model.StoredFile, error) {
	f, err := model.NewStoredFile(p.OriginalFilename, p.Size, p.MimeType)
	if err != nil {
		return nil, err
	}

	if p.DateExpires != nil {
		f.DateExpires = p.DateExpires
	}

	if err := s.WriteToDisk(f, p.Reader, false); err != nil {
		return nil, err
	}

	// Probe image files for their dimensions while we have them fresh.
	// A file that doesn't decode is recorded invalid but still saved
	var img image.Image

	if viper.GetBool("upload.check_images") && f.IsImage() && f.RemoteStatus != model.LocalCorrupt {
		img, err = imaging.DecodeFile(s.Store.FullPath(f.GeneratedFilename))
		if err != nil {
			f.IsValid = model.Bool(false)
		} else {
			b := img.Bounds()

			f.Width = model.Int(b.Dx())
			f.Height = model.Int(b.Dy())
			f.IsValid = model.Bool(true)
		}
	}

	if err := s.DB.Create(f).Error; err != nil {
		return nil, fmt.Errorf("failed to save file record, %w", err)
	}

	if img != nil && f.IsValid != nil && *f.IsValid {
		s.GenerateImmediate(f, img)
	}

	return f, nil
}

// IngestHTTPResponse stores the body of an already-performed HTTP
// request, pulling the metadata out of the response: the name from the
// requested URL's path, size and type from the headers.
func (s *Files) IngestHTTPResponse(resp *http.Response) (*model.StoredFile, error) {
	name := "_unknown_"
	if resp.Request != nil && resp.Request.URL != nil {
		name = filenameFromURL(resp.Request.URL)
	}

	mimeType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	size := resp.ContentLength
	if size < 0 {
		size = 0
	}

	return s.Ingest(IngestParams{
		Reader:           resp.Body,
		OriginalFilename: name,
		Size:             size,
		MimeType:         mimeType,
	})
}

// IngestURL fetches rawURL and stores the response body. Unlike the rest
// of the intake path a failed request here is a plain error, there's
// nothing to record yet.
func (s *Files) IngestURL(rawURL string) (*model.StoredFile, error) {
	resp, err := http.Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s, %w", rawURL, err)
	}
	defer resp.Body.Close()

	return s.IngestHTTPResponse(resp)
}

// filenameFromURL digs a usable file name out of a URL path: the base
// name, then the last directory for paths ending in a slash, then a
// placeholder for bare roots.
func filenameFromURL(u *url.URL) string {
	base := path.Base(u.Path)
	if base == "/" || base == "." || base == "" {
		return "_unknown_"
	}

	return base
}
