package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"paramspace/internal/config"
)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	fsStore, err := Open(ctx, config.BlobConfig{FSRoot: filepath.Join(t.TempDir(), "blobs")})
	if err != nil || fsStore.Driver() != DriverFilesystem {
		t.Fatalf("default driver: %v %v", fsStore, err)
	}
	mem, err := Open(ctx, config.BlobConfig{Driver: "memory"})
	if err != nil || mem.Driver() != DriverMemory {
		t.Fatalf("memory driver: %v %v", mem, err)
	}
	if _, err := Open(ctx, config.BlobConfig{Driver: "s3"}); err == nil {
		t.Fatalf("s3 without bucket must fail")
	}
	if _, err := Open(ctx, config.BlobConfig{Driver: "gcs"}); err == nil {
		t.Fatalf("unknown driver must fail")
	}
}

// Every driver honours the same contract.
func TestStoreContract(t *testing.T) {
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("fs: %v", err)
	}
	stores := map[string]Store{
		"fs":     fsStore,
		"memory": NewMemory(),
		"s3":     NewMockS3ForTests(),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.Put(ctx, "docs/a.json", bytes.NewReader([]byte(`{}`)), PutOptions{ContentType: "application/json"}); err != nil {
				t.Fatalf("put: %v", err)
			}
			if _, err := s.Put(ctx, "docs/a.json", bytes.NewReader([]byte(`[]`)), PutOptions{}); !errors.Is(err, ErrExists) {
				t.Fatalf("expected ErrExists, got %v", err)
			}
			_, rc, err := s.Get(ctx, "docs/a.json")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			body, _ := io.ReadAll(rc)
			_ = rc.Close()
			if string(body) != `{}` {
				t.Fatalf("unexpected body %q", body)
			}
			if _, err := s.Head(ctx, "docs/missing.json"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			overwrite := PutOptions{Metadata: map[string]string{"entries": "2"}, Overwrite: true}
			if _, err := s.Put(ctx, "docs/a.json", bytes.NewReader([]byte(`[1,2]`)), overwrite); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			info, err := s.Head(ctx, "docs/a.json")
			if err != nil || info.Size != 5 || info.Metadata["entries"] != "2" {
				t.Fatalf("head after overwrite: %v %+v", err, info)
			}
			if ok, err := s.Delete(ctx, "docs/a.json"); err != nil || !ok {
				t.Fatalf("delete: %v %v", ok, err)
			}
			if _, _, err := s.Get(ctx, "docs/a.json"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}
