package kit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"uniquekits.dev/internal/persistence/kv"
)

// FileSource loads and saves definitions from a kits.yml file.
type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource { return &FileSource{Path: path} }

// Load reads the file. A missing file is an empty set, not an error.
func (s *FileSource) Load(ctx context.Context) ([]Definition, []Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read kits file: %w", err)
	}
	return ParseDocument(b)
}

// Store rewrites the whole file through a temp file and rename.
func (s *FileSource) Store(ctx context.Context, defs []Definition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := EncodeDocument(defs)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write kits file: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write kits file: %w", err)
	}
	return nil
}

const orderKey = "kits.order"

// KVSource keeps one YAML section per kit in the kits bucket plus an order
// list in the meta bucket.
type KVSource struct {
	KV kv.Store
}

func NewKVSource(st kv.Store) *KVSource { return &KVSource{KV: st} }

func (s *KVSource) Load(ctx context.Context) ([]Definition, []Issue, error) {
	sections := map[string][]byte{}
	var keys []string
	err := s.KV.ForEach(ctx, kv.BucketKits, func(k string, v []byte) error {
		sections[k] = v
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load kits: %w", err)
	}

	var order []string
	raw, err := s.KV.Get(ctx, kv.BucketMeta, orderKey)
	switch {
	case errors.Is(err, kv.ErrNotFound):
	case err != nil:
		return nil, nil, fmt.Errorf("load kit order: %w", err)
	default:
		if err := json.Unmarshal(raw, &order); err != nil {
			return nil, nil, fmt.Errorf("load kit order: %w", err)
		}
	}

	// Ordered ids first, then anything the order list missed in key order.
	var (
		defs   []Definition
		issues []Issue
		done   = map[string]bool{}
	)
	add := func(id string) {
		b, ok := sections[id]
		if !ok || done[id] {
			return
		}
		done[id] = true
		d, is := DecodeBytes(id, b)
		defs = append(defs, d)
		issues = append(issues, is...)
	}
	for _, id := range order {
		add(id)
	}
	for _, id := range keys {
		add(id)
	}
	return defs, issues, nil
}

func (s *KVSource) Store(ctx context.Context, defs []Definition) error {
	keep := make(map[string]bool, len(defs))
	order := make([]string, 0, len(defs))
	for _, d := range defs {
		b, err := EncodeSection(d)
		if err != nil {
			return fmt.Errorf("encode kit %s: %w", d.ID, err)
		}
		if err := s.KV.Put(ctx, kv.BucketKits, d.ID, b); err != nil {
			return fmt.Errorf("store kit %s: %w", d.ID, err)
		}
		keep[d.ID] = true
		order = append(order, d.ID)
	}

	var stale []string
	err := s.KV.ForEach(ctx, kv.BucketKits, func(k string, _ []byte) error {
		if !keep[k] {
			stale = append(stale, k)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range stale {
		if err := s.KV.Delete(ctx, kv.BucketKits, k); err != nil {
			return fmt.Errorf("delete kit %s: %w", k, err)
		}
	}

	b, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return s.KV.Put(ctx, kv.BucketMeta, orderKey, b)
}
