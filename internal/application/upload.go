package application

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ObjectStorage is the durable remote store for uploaded media. The GCS
// client satisfies it in production; tests substitute a fake.
type ObjectStorage interface {
	Upload(ctx context.Context, objectPath, contentType string, r io.Reader) (string, error)
}

// StagedFile is an upload already written to local transient storage by
// the request layer, waiting to be committed to remote storage.
type StagedFile struct {
	Path        string
	ContentType string
}

// Discard removes the local staged copy without attempting an upload.
// Used for files that never reach commitUpload, e.g. an optional cover
// image abandoned after the mandatory avatar failed.
func (f *StagedFile) Discard() {
	if f == nil {
		return
	}
	_ = os.Remove(f.Path)
}

// commitUpload transmits a staged file to remote storage under the given
// folder and returns its public URL. The local staged copy is removed
// exactly once after the attempt concludes, on success and on failure.
func (s *Service) commitUpload(ctx context.Context, f *StagedFile, folder string) (string, error) {
	defer func() {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) && s.Logger != nil {
			s.Logger.WithError(err).WithField("path", f.Path).Warn("staged file cleanup failed")
		}
	}()

	src, err := os.Open(f.Path)
	if err != nil {
		return "", fmt.Errorf("staged file unreadable: %w", err)
	}
	defer func() { _ = src.Close() }()

	object := path.Join(folder, uuid.NewString()+strings.ToLower(filepath.Ext(f.Path)))
	url, err := s.Storage.Upload(ctx, object, f.ContentType, src)
	if err != nil {
		return "", fmt.Errorf("remote upload: %w", err)
	}
	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{"object": object}).Debug("file uploaded to remote storage")
	}
	return url, nil
}
