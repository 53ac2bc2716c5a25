// File: internal/state/store.go
// Brief: SQLite-backed record of runs, live entries and engine events.

// Package state persists what scatter deployed so later invocations can
// report on it or tear it down. Each run owns its declared Deployment, the
// LiveDeployment it produced and the event stream of its deploy and undeploy
// phases.
package state

import (
	"context"
	_ "crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fabiosantoscode/scatterbrain-deployments/internal/deployment"
	"github.com/fabiosantoscode/scatterbrain-deployments/internal/jsonsafe"
	"github.com/go-logr/logr"
	"github.com/mitchellh/go-homedir"
	digest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// DefaultPath is where the CLI keeps its store unless told otherwise.
const DefaultPath = "~/.scatter/state.sqlite"

// ErrNoRuns is returned by LatestRun on an empty store.
var ErrNoRuns = errors.New("no runs recorded")

// Run status values.
const (
	StatusRunning    = "running"
	StatusDeployed   = "deployed"
	StatusFailed     = "failed"
	StatusUndeployed = "undeployed"
)

type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
}

type Run struct {
	RunID       string    `json:"runId"`
	Command     string    `json:"command"`
	Status      string    `json:"status"`
	Deployables int       `json:"deployables"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Entry is one persisted LiveDeployment entry.
type Entry struct {
	deployment.Live
	Digest string `json:"digest"`
}

// Open opens (creating if needed) the store at path. A leading ~ is expanded.
func Open(path string) (*Store, error) {
	return open(path, false)
}

// OpenReadOnly opens an existing store without creating or migrating it.
func OpenReadOnly(path string) (*Store, error) {
	return open(path, true)
}

func open(path string, readOnly bool) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.Wrapf(err, "expand %s", path)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, err
	}
	if readOnly {
		if _, err := os.Stat(abs); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, errors.Wrap(err, "create state directory")
	}

	dsn := abs
	if readOnly {
		u := url.URL{Scheme: "file", Path: abs}
		q := u.Query()
		q.Set("mode", "ro")
		q.Set("_busy_timeout", "5000")
		u.RawQuery = q.Encode()
		dsn = u.String()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}
	s := &Store{db: db, path: abs, readOnly: readOnly}
	if !readOnly {
		if err := s.initSchema(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Checkpoint folds the WAL back into the main file so the store can be
// copied as a single file.
func (s *Store) Checkpoint(ctx context.Context) error {
	if s == nil || s.db == nil || s.readOnly {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE);`); err != nil {
		return errors.Wrap(err, "wal checkpoint")
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA foreign_keys=ON;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS scatter_runs (
  run_id TEXT PRIMARY KEY,
  command TEXT NOT NULL,
  status TEXT NOT NULL,
  deployables INTEGER NOT NULL,
  created_at_ns INTEGER NOT NULL,
  updated_at_ns INTEGER NOT NULL,
  deployment_json TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS scatter_entries (
  run_id TEXT NOT NULL,
  name TEXT NOT NULL,
  type_name TEXT NOT NULL,
  current_json TEXT NOT NULL,
  digest TEXT NOT NULL,
  PRIMARY KEY (run_id, name),
  FOREIGN KEY (run_id) REFERENCES scatter_runs(run_id) ON DELETE CASCADE
);`,
		`
CREATE TABLE IF NOT EXISTS scatter_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  ts_ns INTEGER NOT NULL,
  phase TEXT NOT NULL,
  type TEXT NOT NULL,
  name TEXT NOT NULL,
  type_name TEXT NOT NULL,
  message TEXT NOT NULL,
  error TEXT NOT NULL,
  duration_ns INTEGER NOT NULL,
  FOREIGN KEY (run_id) REFERENCES scatter_runs(run_id) ON DELETE CASCADE
);`,
		`CREATE INDEX IF NOT EXISTS idx_scatter_events_run_id_id ON scatter_events(run_id, id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}

// CreateRun records a new run and the Deployment it is about to execute.
func (s *Store) CreateRun(ctx context.Context, runID, command string, d deployment.Deployment) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("create run: run id is required")
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "encode deployment")
	}
	now := time.Now().UTC().UnixNano()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO scatter_runs (run_id, command, status, deployables, created_at_ns, updated_at_ns, deployment_json)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, runID, command, StatusRunning, len(d), now, now, string(raw))
	if err != nil {
		return errors.Wrapf(err, "insert run %s", runID)
	}
	return nil
}

// SaveLive stores every entry of live under runID, replacing earlier entries
// with the same name. A current value that is not JSON-safe aborts the whole
// save.
func (s *Store) SaveLive(ctx context.Context, runID string, live deployment.LiveDeployment) error {
	type row struct {
		entry deployment.Live
		raw   string
		dgst  digest.Digest
	}
	rows := make([]row, 0, len(live))
	for _, entry := range live.Entries() {
		if _, err := jsonsafe.Assert(entry.Current); err != nil {
			return errors.Wrapf(err, "current state of %s", entry.Name)
		}
		raw, err := json.Marshal(entry.Current)
		if err != nil {
			return errors.Wrapf(err, "encode current state of %s", entry.Name)
		}
		rows = append(rows, row{entry: entry, raw: string(raw), dgst: digest.FromBytes(raw)})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, r := range rows {
		_, err := tx.ExecContext(ctx, `
INSERT INTO scatter_entries (run_id, name, type_name, current_json, digest)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(run_id, name) DO UPDATE SET type_name = excluded.type_name, current_json = excluded.current_json, digest = excluded.digest
`, runID, r.entry.Name, r.entry.TypeName, r.raw, r.dgst.String())
		if err != nil {
			return errors.Wrapf(err, "save entry %s", r.entry.Name)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE scatter_runs SET updated_at_ns = ? WHERE run_id = ?`, time.Now().UTC().UnixNano(), runID); err != nil {
		return errors.Wrap(err, "touch run")
	}
	return tx.Commit()
}

// Entries returns the persisted entries of runID ordered by name. Each
// payload is checked against its stored digest.
func (s *Store) Entries(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT name, type_name, current_json, digest
FROM scatter_entries
WHERE run_id = ?
ORDER BY name
`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "query entries")
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var name, typeName, raw, dg string
		if err := rows.Scan(&name, &typeName, &raw, &dg); err != nil {
			return nil, err
		}
		want, err := digest.Parse(dg)
		if err != nil {
			return nil, errors.Wrapf(err, "entry %s", name)
		}
		v := want.Verifier()
		_, _ = v.Write([]byte(raw))
		if !v.Verified() {
			return nil, fmt.Errorf("entry %s: current state does not match digest %s", name, want)
		}
		var current any
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			return nil, errors.Wrapf(err, "decode entry %s", name)
		}
		out = append(out, Entry{
			Live:   deployment.Live{TypeName: typeName, Name: name, Current: current},
			Digest: dg,
		})
	}
	return out, rows.Err()
}

// LoadLive rebuilds the LiveDeployment saved for runID.
func (s *Store) LoadLive(ctx context.Context, runID string) (deployment.LiveDeployment, error) {
	entries, err := s.Entries(ctx, runID)
	if err != nil {
		return nil, err
	}
	live := make(deployment.LiveDeployment, len(entries))
	for _, e := range entries {
		live[e.Name] = e.Live
	}
	return live, nil
}

// LoadDeployment returns the declarations recorded by CreateRun. References
// come back as {"ref": name} maps.
func (s *Store) LoadDeployment(ctx context.Context, runID string) (deployment.Deployment, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT deployment_json FROM scatter_runs WHERE run_id = ?`, runID).Scan(&raw)
	if err != nil {
		return nil, errors.Wrapf(err, "load run %s", runID)
	}
	var d deployment.Deployment
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, errors.Wrap(err, "decode deployment")
	}
	return d, nil
}

func (s *Store) FinishRun(ctx context.Context, runID, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE scatter_runs SET status = ?, updated_at_ns = ? WHERE run_id = ?`, status, time.Now().UTC().UnixNano(), runID)
	if err != nil {
		return errors.Wrapf(err, "finish run %s", runID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run: unknown run %q", runID)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT run_id, command, status, deployables, created_at_ns, updated_at_ns
FROM scatter_runs WHERE run_id = ?
`, runID)
	r, err := scanRun(row)
	if err != nil {
		return nil, errors.Wrapf(err, "get run %s", runID)
	}
	return r, nil
}

// LatestRun returns the most recently created run, or ErrNoRuns.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT run_id, command, status, deployables, created_at_ns, updated_at_ns
FROM scatter_runs ORDER BY created_at_ns DESC, run_id DESC LIMIT 1
`)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRuns
	}
	if err != nil {
		return nil, errors.Wrap(err, "latest run")
	}
	return r, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, command, status, deployables, created_at_ns, updated_at_ns
FROM scatter_runs
ORDER BY created_at_ns DESC, run_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var r Run
	var created, updated int64
	if err := sc.Scan(&r.RunID, &r.Command, &r.Status, &r.Deployables, &created, &updated); err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	r.UpdatedAt = time.Unix(0, updated).UTC()
	return &r, nil
}

// AppendEvent stores one engine event under its run.
func (s *Store) AppendEvent(ctx context.Context, ev deployment.Event) error {
	ts, err := time.Parse(time.RFC3339Nano, ev.TS)
	if err != nil {
		ts = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO scatter_events (run_id, seq, ts_ns, phase, type, name, type_name, message, error, duration_ns)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, ev.RunID, ev.Seq, ts.UnixNano(), string(ev.Phase), string(ev.Type), ev.Name, ev.TypeName,
		strings.TrimSpace(ev.Message), strings.TrimSpace(ev.Error), int64(ev.Duration))
	if err != nil {
		return errors.Wrapf(err, "append %s event", ev.Type)
	}
	_, _ = s.db.ExecContext(ctx, `UPDATE scatter_runs SET updated_at_ns = ? WHERE run_id = ?`, time.Now().UTC().UnixNano(), ev.RunID)
	return nil
}

// Events returns the events of runID in insertion order.
func (s *Store) Events(ctx context.Context, runID string) ([]deployment.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT seq, ts_ns, phase, type, name, type_name, message, error, duration_ns
FROM scatter_events
WHERE run_id = ?
ORDER BY id
`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "query events")
	}
	defer rows.Close()
	var out []deployment.Event
	for rows.Next() {
		var ev deployment.Event
		var tsNS, durNS int64
		var phase, typ string
		if err := rows.Scan(&ev.Seq, &tsNS, &phase, &typ, &ev.Name, &ev.TypeName, &ev.Message, &ev.Error, &durNS); err != nil {
			return nil, err
		}
		ev.RunID = runID
		ev.TS = time.Unix(0, tsNS).UTC().Format(time.RFC3339Nano)
		ev.Phase = deployment.Phase(phase)
		ev.Type = deployment.EventType(typ)
		ev.Duration = time.Duration(durNS)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Observer returns an EventObserver appending every event to the store.
// Write failures are logged and otherwise ignored so persistence never fails
// a deploy.
func (s *Store) Observer(ctx context.Context, log logr.Logger) deployment.EventObserver {
	return deployment.EventObserverFunc(func(ev deployment.Event) {
		if err := s.AppendEvent(ctx, ev); err != nil {
			log.Error(err, "persist event", "runID", ev.RunID, "type", ev.Type)
		}
	})
}
