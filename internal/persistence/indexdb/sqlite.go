// Package indexdb keeps a queryable SQLite index of grant attempts and the
// kit definitions they referred to. The journal stays the source of truth;
// the index may drop events under load.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"uniquekits.dev/internal/grant"
	"uniquekits.dev/internal/kit"
	"uniquekits.dev/internal/reason"
)

const schemaVersion = "1"

type SQLiteIndex struct {
	db  *sql.DB
	log *zap.Logger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqGrant reqKind = iota + 1
	reqSync
)

type req struct {
	kind  reqKind
	grant grant.Event
	done  chan struct{}
}

type Stats struct {
	Dropped       uint64
	QueueDepth    int
	QueueCapacity int
}

func OpenSQLite(path string, log *zap.Logger) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:  db,
		log: log.Named("indexdb"),
		ch:  make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			body TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS kits (
			id TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			display_name TEXT NOT NULL,
			enabled INTEGER NOT NULL,
			cooldown_ms INTEGER NOT NULL,
			cost INTEGER NOT NULL,
			items INTEGER NOT NULL,
			yaml TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS grants (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			at_ms INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			user_name TEXT,
			world TEXT,
			kit_id TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT,
			state TEXT NOT NULL,
			forced INTEGER NOT NULL,
			cost INTEGER NOT NULL,
			items INTEGER NOT NULL,
			overflow INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_grants_user_at ON grants(user_id, at_ms);`,
		`CREATE INDEX IF NOT EXISTS idx_grants_kit_at ON grants(kit_id, at_ms);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordGrant queues e for indexing. It never blocks; events are dropped and
// counted when the queue is full.
func (s *SQLiteIndex) RecordGrant(e grant.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqGrant, grant: e}:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{Dropped: s.dropped.Load(), QueueDepth: len(s.ch), QueueCapacity: cap(s.ch)}
}

// Sync waits until every event queued before the call is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s.closed.Load() {
		return errors.New("index closed")
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpsertKits replaces the kit table with defs and records their digest.
func (s *SQLiteIndex) UpsertKits(ctx context.Context, defs []kit.Definition) error {
	if s == nil {
		return nil
	}
	if err := s.Sync(ctx); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	doc, err := kit.EncodeDocument(defs)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version',?)`, schemaVersion); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO catalogs(name,digest,body,updated_at) VALUES('kits',?,?,?)`,
		kit.Digest(defs), string(doc), now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kits`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO kits(id,position,display_name,enabled,cooldown_ms,cost,items,yaml) VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, d := range defs {
		section, err := kit.EncodeSection(d)
		if err != nil {
			return fmt.Errorf("encode kit %s: %w", d.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, d.ID, i, d.DisplayName, d.Enabled, d.CooldownMillis, d.Cost, d.ItemCount(), string(section)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// KitsDigest returns the digest of the last indexed kit set.
func (s *SQLiteIndex) KitsDigest(ctx context.Context) (string, error) {
	if err := s.Sync(ctx); err != nil {
		return "", err
	}
	var d string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM catalogs WHERE name='kits'`).Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return d, err
}

type GrantQuery struct {
	User   uuid.UUID
	KitID  string
	Status grant.Status
	Limit  int
}

// RecentGrants returns matching events, newest first.
func (s *SQLiteIndex) RecentGrants(ctx context.Context, q GrantQuery) ([]grant.Event, error) {
	if err := s.Sync(ctx); err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	if q.User != uuid.Nil {
		where = append(where, "user_id = ?")
		args = append(args, q.User.String())
	}
	if q.KitID != "" {
		where = append(where, "kit_id = ?")
		args = append(args, kit.NormalizeID(q.KitID))
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT at_ms,user_id,user_name,world,kit_id,status,reason,state,forced,cost,items,overflow FROM grants`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []grant.Event
	for rows.Next() {
		var (
			e                grant.Event
			atMs             int64
			user             string
			name, world, why sql.NullString
			status           string
		)
		if err := rows.Scan(&atMs, &user, &name, &world, &e.KitID, &status, &why, &e.State, &e.Forced, &e.Cost, &e.Items, &e.Overflow); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(atMs).UTC()
		e.User, _ = uuid.Parse(user)
		e.UserName = name.String
		e.World = world.String
		e.Status = grant.Status(status)
		e.Reason = reason.Code(why.String)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertGrant, err := s.db.Prepare(`INSERT INTO grants(at_ms,user_id,user_name,world,kit_id,status,reason,state,forced,cost,items,overflow,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		s.log.Error("prepare grant insert", zap.Error(err))
	}
	defer func() {
		if insertGrant != nil {
			_ = insertGrant.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.log.Warn("begin index tx", zap.Error(err))
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.log.Warn("commit index tx", zap.Error(err))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	tick := time.NewTicker(commitMaxWait)
	defer tick.Stop()

	for {
		var r req
		select {
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		case <-tick.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		}

		switch r.kind {
		case reqSync:
			commit()
			close(r.done)
			continue
		case reqGrant:
			begin()
			if tx == nil || insertGrant == nil {
				continue
			}
			e := r.grant
			raw, _ := json.Marshal(e)
			if _, err := tx.Stmt(insertGrant).Exec(
				e.At.UnixMilli(),
				e.User.String(),
				e.UserName,
				e.World,
				e.KitID,
				string(e.Status),
				string(e.Reason),
				e.State,
				e.Forced,
				e.Cost,
				e.Items,
				e.Overflow,
				string(raw),
			); err != nil {
				s.log.Warn("index grant", zap.String("kit", e.KitID), zap.Error(err))
				rollback()
				continue
			}
			opCount++
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
}
