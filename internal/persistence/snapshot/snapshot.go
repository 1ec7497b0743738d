// Package snapshot writes and reads backups of the kit registry and all user
// records. A snapshot file is a zstd stream holding one JSON header line
// followed by a gob body.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"uniquekits.dev/internal/kit"
	"uniquekits.dev/internal/persistence/records"
)

const Version = 1

type Header struct {
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	Kits       int       `json:"kits"`
	Records    int       `json:"records"`
	KitsDigest string    `json:"kits_digest"`
}

type SnapshotV1 struct {
	Header  Header
	Kits    []KitV1
	Records []RecordV1
}

// KitV1 stores a definition as its YAML section so that the snapshot reads
// back through the same decoder as the kits file.
type KitV1 struct {
	ID   string
	YAML []byte
}

type RecordV1 struct {
	UserID                  uuid.UUID
	Version                 int
	Cooldowns               map[string]int64
	UsageCounts             map[string]int
	OneTimeClaimed          []string
	FirstEncounter          bool
	LastSeenAt              int64
	AccumulatedActiveMillis int64
	LastKnownName           string
	Extension               map[string][]byte
}

func recordV1(d records.Data) RecordV1 {
	r := RecordV1{
		UserID:                  d.UserID,
		Version:                 d.Version,
		Cooldowns:               d.Cooldowns,
		UsageCounts:             d.UsageCounts,
		FirstEncounter:          d.FirstEncounter,
		LastSeenAt:              d.LastSeenAt,
		AccumulatedActiveMillis: d.AccumulatedActiveMillis,
		LastKnownName:           d.LastKnownName,
	}
	for id := range d.OneTimeClaimed {
		r.OneTimeClaimed = append(r.OneTimeClaimed, id)
	}
	slices.Sort(r.OneTimeClaimed)
	if len(d.Extension) > 0 {
		r.Extension = make(map[string][]byte, len(d.Extension))
		for k, v := range d.Extension {
			r.Extension[k] = v
		}
	}
	return r
}

func (r RecordV1) data() records.Data {
	d := records.Data{
		Version:                 r.Version,
		UserID:                  r.UserID,
		Cooldowns:               r.Cooldowns,
		UsageCounts:             r.UsageCounts,
		OneTimeClaimed:          records.KitSet{},
		FirstEncounter:          r.FirstEncounter,
		LastSeenAt:              r.LastSeenAt,
		AccumulatedActiveMillis: r.AccumulatedActiveMillis,
		LastKnownName:           r.LastKnownName,
	}
	for _, id := range r.OneTimeClaimed {
		d.OneTimeClaimed[id] = struct{}{}
	}
	if len(r.Extension) > 0 {
		d.Extension = make(map[string]json.RawMessage, len(r.Extension))
		for k, v := range r.Extension {
			d.Extension[k] = v
		}
	}
	return d.Clone()
}

// Build assembles a snapshot from live state.
func Build(defs []kit.Definition, recs []records.Data, now time.Time) (SnapshotV1, error) {
	snap := SnapshotV1{Header: Header{
		Version:    Version,
		CreatedAt:  now.UTC(),
		Kits:       len(defs),
		Records:    len(recs),
		KitsDigest: kit.Digest(defs),
	}}
	for _, d := range defs {
		b, err := kit.EncodeSection(d)
		if err != nil {
			return snap, fmt.Errorf("encode kit %s: %w", d.ID, err)
		}
		snap.Kits = append(snap.Kits, KitV1{ID: d.ID, YAML: b})
	}
	for _, d := range recs {
		snap.Records = append(snap.Records, recordV1(d))
	}
	return snap, nil
}

// Definitions decodes the snapshot's kits in order.
func (s SnapshotV1) Definitions() ([]kit.Definition, []kit.Issue) {
	var (
		defs   []kit.Definition
		issues []kit.Issue
	)
	for _, k := range s.Kits {
		d, is := kit.DecodeBytes(k.ID, k.YAML)
		defs = append(defs, d)
		issues = append(issues, is...)
	}
	return defs, issues
}

// UserRecords returns the snapshot's user records.
func (s SnapshotV1) UserRecords() []records.Data {
	out := make([]records.Data, 0, len(s.Records))
	for _, r := range s.Records {
		out = append(out, r.data())
	}
	return out
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(snap.Header)
	if err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func open(path string) (*bufio.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return bufio.NewReaderSize(dec, 256*1024), func() { dec.Close(); _ = f.Close() }, nil
}

// ReadHeader reads only the header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	br, closeFn, err := open(path)
	if err != nil {
		return h, err
	}
	defer closeFn()
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	br, closeFn, err := open(path)
	if err != nil {
		return snap, err
	}
	defer closeFn()

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}
