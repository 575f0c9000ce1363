package detect

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"easytalking/internal/logging"
)

// ModelStore downloads the SavedModel archive once and keeps it in the
// layout TensorFlow Serving expects: <dir>/<name>/<version>/saved_model.pb
type ModelStore struct {
	url    string
	dir    string
	name   string
	client *http.Client
}

// NewModelStore creates a store caching name under dir
func NewModelStore(url, dir, name string) *ModelStore {
	return &ModelStore{url: url, dir: dir, name: name, client: http.DefaultClient}
}

// ModelDir is the directory mounted into the serving container
func (s *ModelStore) ModelDir() string {
	return filepath.Join(s.dir, s.name)
}

func (s *ModelStore) versionDir() string {
	return filepath.Join(s.ModelDir(), "1")
}

// Cached reports whether a previous fetch completed
func (s *ModelStore) Cached() bool {
	_, err := os.Stat(filepath.Join(s.versionDir(), "saved_model.pb"))
	return err == nil
}

// Fetch downloads and unpacks the model unless it is already cached.
// It returns the version directory.
func (s *ModelStore) Fetch(ctx context.Context) (string, error) {
	if s.Cached() {
		logging.Debug("Model already cached", "path", s.versionDir())
		return s.versionDir(), nil
	}

	if err := os.MkdirAll(s.ModelDir(), 0755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", fmt.Errorf("build model request: %w", err)
	}
	logging.Info("Downloading model", "url", s.url)
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download model: unexpected status %s", resp.Status)
	}

	// unpack next to the final location, then swap it in
	tmp, err := os.MkdirTemp(s.ModelDir(), ".fetch-")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	n, err := extractTarGz(resp.Body, tmp)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(tmp, "saved_model.pb")); err != nil {
		return "", fmt.Errorf("model archive has no saved_model.pb")
	}

	os.RemoveAll(s.versionDir())
	if err := os.Rename(tmp, s.versionDir()); err != nil {
		return "", fmt.Errorf("install model: %w", err)
	}
	logging.Info("Model cached", "path", s.versionDir(), "files", n)
	return s.versionDir(), nil
}

// extractTarGz unpacks regular files and directories under dest and returns
// the number of files written
func extractTarGz(r io.Reader, dest string) (int, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("open model archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	files := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return files, nil
		}
		if err != nil {
			return files, fmt.Errorf("read model archive: %w", err)
		}

		name := filepath.Clean(strings.TrimPrefix(hdr.Name, "./"))
		if name == "." {
			continue
		}
		target := filepath.Join(dest, name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return files, fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return files, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return files, err
			}
			if err := writeFile(target, tr); err != nil {
				return files, err
			}
			files++
		default:
			logging.Debug("Skipping archive entry", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}
}

func writeFile(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
