// Package registry stores a JSON document that maps job IDs to statepoints,
// so statepoints can be recovered without scanning the workspace.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"paramspace/internal/blob"
	"paramspace/pkg/statepoint"
)

// DefaultKey is the blob key of the registry document.
const DefaultKey = "statepoints.json"

// entriesMeta is the blob metadata key holding the entry count.
const entriesMeta = "entries"

var (
	// ErrNotFound is returned when the document or a requested entry is absent.
	ErrNotFound = errors.New("registry: not found")
	// ErrCorrupt is returned when the document cannot be trusted.
	ErrCorrupt = errors.New("registry: corrupt document")
)

// Registry reads and writes the statepoint document in a blob store.
type Registry struct {
	store   blob.Store
	key     string
	encoder statepoint.Encoder
	mu      sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithKey overrides DefaultKey.
func WithKey(key string) Option {
	return func(r *Registry) {
		if key != "" {
			r.key = key
		}
	}
}

// WithMaxDepth bounds statepoint nesting when computing IDs.
func WithMaxDepth(depth int) Option {
	return func(r *Registry) { r.encoder.MaxDepth = depth }
}

// New returns a Registry on store.
func New(store blob.Store, opts ...Option) *Registry {
	r := &Registry{store: store, key: DefaultKey}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Key returns the blob key of the document.
func (r *Registry) Key() string { return r.key }

// Dump maps each statepoint to its ID.
func (r *Registry) Dump(sps []statepoint.Object) (map[statepoint.ID]statepoint.Object, error) {
	out := make(map[statepoint.ID]statepoint.Object, len(sps))
	for _, sp := range sps {
		id, err := r.encoder.Identity(sp)
		if err != nil {
			return nil, err
		}
		out[id] = sp
	}
	return out, nil
}

// Write merges sps into the stored document and returns the resulting number
// of entries. The document is replaced in a single overwrite, so readers see
// either the previous or the merged document. Writers in other processes are
// not serialized; the last one wins.
func (r *Registry) Write(ctx context.Context, sps []statepoint.Object) (int, error) {
	add, err := r.Dump(sps)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	merged, err := r.read(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		merged = make(map[statepoint.ID]statepoint.Object, len(add))
	case err != nil:
		return 0, err
	}
	for id, sp := range add {
		merged[id] = sp
	}
	doc := make(map[string]statepoint.Object, len(merged))
	for id, sp := range merged {
		doc[id.String()] = sp
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode registry: %w", err)
	}
	opts := blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{entriesMeta: strconv.Itoa(len(doc))},
		Overwrite:   true,
	}
	if _, err := r.store.Put(ctx, r.key, bytes.NewReader(payload), opts); err != nil {
		return 0, fmt.Errorf("write registry %s: %w", r.key, err)
	}
	return len(doc), nil
}

// Read returns the stored mapping. Every entry is checked against its ID.
func (r *Registry) Read(ctx context.Context) (map[statepoint.ID]statepoint.Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read(ctx)
}

// Reset removes the document. Write only ever adds entries, so Reset followed
// by Write regenerates a registry that has drifted from the workspace. It
// reports whether a document existed.
func (r *Registry) Reset(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok, err := r.store.Delete(ctx, r.key)
	if err != nil {
		return false, fmt.Errorf("reset registry %s: %w", r.key, err)
	}
	return ok, nil
}

// Stat describes the stored document without reading it.
type Stat struct {
	Key          string
	Driver       blob.Driver
	Entries      int
	Size         int64
	ETag         string
	LastModified time.Time
}

// Stat returns the document's metadata. Entries is -1 when the document was
// not written by Write.
func (r *Registry) Stat(ctx context.Context) (Stat, error) {
	info, err := r.store.Head(ctx, r.key)
	if errors.Is(err, blob.ErrNotFound) {
		return Stat{}, fmt.Errorf("registry %s: %w", r.key, ErrNotFound)
	}
	if err != nil {
		return Stat{}, err
	}
	st := Stat{
		Key:          r.key,
		Driver:       r.store.Driver(),
		Entries:      -1,
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}
	if v, ok := info.Metadata[entriesMeta]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Stat{}, fmt.Errorf("%w: %s: entries metadata %q", ErrCorrupt, r.key, v)
		}
		st.Entries = n
	}
	return st, nil
}

// Get returns the statepoint registered under id.
func (r *Registry) Get(ctx context.Context, id statepoint.ID) (statepoint.Object, error) {
	all, err := r.Read(ctx)
	if err != nil {
		return nil, err
	}
	sp, ok := all[id]
	if !ok {
		return nil, fmt.Errorf("statepoint %s: %w", id, ErrNotFound)
	}
	return sp, nil
}

func (r *Registry) read(ctx context.Context) (map[statepoint.ID]statepoint.Object, error) {
	_, rc, err := r.store.Get(ctx, r.key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("registry %s: %w", r.key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", r.key, err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, r.key, err)
	}
	out := make(map[statepoint.ID]statepoint.Object, len(doc))
	for key, msg := range doc {
		id, err := statepoint.ParseID(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, r.key, err)
		}
		sp, err := statepoint.ParseObject(msg)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %s: %v", ErrCorrupt, id, err)
		}
		got, err := r.encoder.Identity(sp)
		if err != nil {
			return nil, err
		}
		if got != id {
			return nil, fmt.Errorf("%w: entry %s holds statepoint %s", ErrCorrupt, id, got)
		}
		out[id] = sp
	}
	return out, nil
}
