package filesystem

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"workflow-preview/core"

	"github.com/sirupsen/logrus"
)

const backendName = "filesystem"

type fsStore struct {
	basePath      string
	publicBaseURL string
}

// NewStore creates a filesystem-based object store rooted at basePath. Objects resolve to
// publicBaseURL/key, or to file:// URLs when no public base URL is configured.
func NewStore(basePath, publicBaseURL string) (*fsStore, error) {
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if err := os.MkdirAll(absBase, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &fsStore{
		basePath:      absBase,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

func (s *fsStore) Backend() string { return backendName }

// BasePath is the directory objects are written under.
func (s *fsStore) BasePath() string { return s.basePath }

// objectPath maps a key to a file below basePath, refusing keys that escape it.
func (s *fsStore) objectPath(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("invalid key: must not be empty")
	}
	filePath := filepath.Join(s.basePath, filepath.FromSlash(key))
	if !strings.HasPrefix(filePath, s.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: access denied")
	}
	return filePath, nil
}

func (s *fsStore) URL(key string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(s.basePath, filepath.FromSlash(key)))}
	return u.String()
}

func (s *fsStore) Put(ctx context.Context, key string, body []byte, opts core.PutOptions) (string, error) {
	log := logrus.WithFields(logrus.Fields{"key": key, "backend": backendName})

	filePath, err := s.objectPath(key)
	if err != nil {
		return "", core.UploadError(backendName, key, err)
	}
	if err := ctx.Err(); err != nil {
		return "", core.UploadError(backendName, key, err)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		log.WithError(err).Error("Failed to create object directory")
		return "", core.UploadError(backendName, key, err)
	}

	// Write to a sibling temp file first so readers never see a partial image.
	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".upload-*")
	if err != nil {
		log.WithError(err).Error("Failed to create temporary object file")
		return "", core.UploadError(backendName, key, err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		log.WithError(err).Error("Failed to write object")
		return "", core.UploadError(backendName, key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", core.UploadError(backendName, key, err)
	}
	mode := os.FileMode(0600)
	if opts.PublicRead {
		mode = 0644
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		os.Remove(tmp.Name())
		return "", core.UploadError(backendName, key, err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		os.Remove(tmp.Name())
		log.WithError(err).Error("Failed to move object into place")
		return "", core.UploadError(backendName, key, err)
	}

	log.WithField("size", len(body)).Info("Object stored")
	return s.URL(key), nil
}

// Read returns the stored bytes of key.
func (s *fsStore) Read(ctx context.Context, key string) ([]byte, error) {
	filePath, err := s.objectPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s: %w", key, core.ErrObjectNotFound)
		}
		return nil, err
	}
	return data, nil
}

func (s *fsStore) Delete(ctx context.Context, key string) error {
	log := logrus.WithFields(logrus.Fields{"key": key, "backend": backendName})

	filePath, err := s.objectPath(key)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			log.Warn("Object not found for deletion")
			return fmt.Errorf("object %s: %w", key, core.ErrObjectNotFound)
		}
		log.WithError(err).Error("Failed to delete object")
		return err
	}

	// Drop the workflow directory once its last preview is gone.
	if dir := filepath.Dir(filePath); dir != s.basePath {
		if err := os.Remove(dir); err != nil {
			log.WithError(err).WithField("dir", dir).Debug("Workflow directory kept")
		}
	}

	log.Info("Object deleted")
	return nil
}
