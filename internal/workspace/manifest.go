package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"paramspace/pkg/statepoint"
)

// DefaultManifestName is the manifest file name inside each job directory.
const DefaultManifestName = "statepoint.json"

// ManifestCodec reads and writes the per-job statepoint record.
type ManifestCodec interface {
	ReadManifest(dir string) (statepoint.Object, error)
	WriteManifest(dir string, sp statepoint.Object) error
}

// JSONManifest stores the statepoint as a canonical JSON object in a file
// named Name.
type JSONManifest struct {
	Name string
}

func (m JSONManifest) path(dir string) string {
	name := m.Name
	if name == "" {
		name = DefaultManifestName
	}
	return filepath.Join(dir, name)
}

// ReadManifest parses the manifest in dir. A missing file is reported with an
// error wrapping fs.ErrNotExist.
func (m JSONManifest) ReadManifest(dir string) (statepoint.Object, error) {
	b, err := os.ReadFile(m.path(dir))
	if err != nil {
		return nil, err
	}
	sp, err := statepoint.ParseObject(b)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", m.path(dir), err)
	}
	return sp, nil
}

// WriteManifest writes sp through a temp file and rename so readers never see
// a partial manifest. Concurrent writers of the same statepoint produce the
// same bytes, so the last rename wins harmlessly.
func (m JSONManifest) WriteManifest(dir string, sp statepoint.Object) error {
	b, err := statepoint.Canonicalize(sp)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), m.path(dir))
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
