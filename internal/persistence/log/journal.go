// Package log keeps the append-only grant journal.
package log

import (
	"encoding/json"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"uniquekits.dev/internal/grant"
)

// Journal records every grant attempt as a JSON line. It implements
// grant.Recorder; write failures are logged and the attempt is not retried.
type Journal struct {
	w   *JSONLZstdWriter
	dir string
	log *zap.Logger
}

func NewJournal(dir string, log *zap.Logger) *Journal {
	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{w: NewJSONLZstdWriter(dir, "grants"), dir: dir, log: log.Named("journal")}
}

func (j *Journal) RecordGrant(e grant.Event) {
	if err := j.w.Write(e.At, e); err != nil {
		j.log.Warn("journal write dropped",
			zap.String("user", e.User.String()),
			zap.String("kit", e.KitID),
			zap.Error(err),
		)
	}
}

func (j *Journal) Close() error { return j.w.Close() }

// Files lists journal files oldest first.
func (j *Journal) Files() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(j.dir, "grants-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ReadEvents decodes the events of one journal file.
func ReadEvents(path string) ([]grant.Event, error) {
	var out []grant.Event
	err := ReadJSONL(path, func(line json.RawMessage) error {
		var e grant.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}
