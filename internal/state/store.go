// Package state persists runs, per-round observations and versioned aligner
// snapshots in SQLite, with an active-snapshot pointer that can be rolled back.
package state

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run or snapshot id does not exist.
var ErrNotFound = errors.New("not found")

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	seed         INTEGER NOT NULL,
	policy       TEXT NOT NULL,
	config_json  TEXT,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS observations (
	run_id       TEXT NOT NULL,
	step         INTEGER NOT NULL,
	feedback     REAL NOT NULL,
	signal       REAL NOT NULL,
	prediction   REAL NOT NULL,
	dim          INTEGER NOT NULL,
	skipped      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, step),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS snapshots (
	version_id   TEXT PRIMARY KEY,
	parent_id    TEXT,
	run_id       TEXT,
	step         INTEGER NOT NULL,
	label        TEXT NOT NULL,
	ambient_dim  INTEGER NOT NULL,
	dim          INTEGER NOT NULL,
	max_dim      INTEGER NOT NULL,
	ridge        REAL NOT NULL,
	basis        BLOB NOT NULL,
	gram         BLOB NOT NULL,
	moment       BLOB NOT NULL,
	theta        BLOB NOT NULL,
	residual     BLOB NOT NULL,
	created_at   TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES snapshots(version_id)
);

CREATE TABLE IF NOT EXISTS active_snapshot (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	version_id   TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES snapshots(version_id)
);

CREATE TABLE IF NOT EXISTS expansion_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT,
	version_id    TEXT,
	step          INTEGER NOT NULL,
	policy        TEXT NOT NULL,
	previous_k    INTEGER NOT NULL,
	new_k         INTEGER NOT NULL,
	mean_feedback REAL,
	window_mse    REAL,
	residual_norm REAL,
	decision      TEXT NOT NULL,
	reason        TEXT,
	eval_json     TEXT,
	created_at    TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct
// Store manages runs and versioned snapshots in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Pragmas are per connection; one connection keeps them in force.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an already-migrated database. Used by tests.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies the schema to db.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion db-accessor

// #region runs
// CreateRun records the start of a session. cfg is stored as JSON.
func (s *Store) CreateRun(seed uint64, policy string, cfg any) (Run, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return Run{}, fmt.Errorf("marshal run config: %w", err)
	}
	run := Run{
		RunID:      uuid.New().String(),
		Seed:       seed,
		Policy:     policy,
		ConfigJSON: string(cfgJSON),
		CreatedAt:  time.Now().UTC(),
	}
	_, err = s.db.Exec(
		`INSERT INTO runs (run_id, seed, policy, config_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.RunID, int64(seed), policy, run.ConfigJSON, run.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by id.
func (s *Store) GetRun(id string) (Run, error) {
	row := s.db.QueryRow(
		`SELECT run_id, seed, policy, config_json, created_at FROM runs WHERE run_id = ?`, id,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("get run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT run_id, seed, policy, config_json, created_at FROM runs ORDER BY rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// #endregion runs

// #region observations
// RecordObservation appends one round to its run.
func (s *Store) RecordObservation(obs Observation) error {
	_, err := s.db.Exec(
		`INSERT INTO observations (run_id, step, feedback, signal, prediction, dim, skipped)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		obs.RunID, obs.Step, obs.Feedback, obs.Signal, obs.Prediction, obs.Dim, boolInt(obs.Skipped),
	)
	if err != nil {
		return fmt.Errorf("insert observation %d: %w", obs.Step, err)
	}
	return nil
}

// LoadObservations returns every round of a run in step order.
func (s *Store) LoadObservations(runID string) ([]Observation, error) {
	rows, err := s.db.Query(
		`SELECT run_id, step, feedback, signal, prediction, dim, skipped
		 FROM observations WHERE run_id = ? ORDER BY step`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var obs Observation
		var skipped int
		if err := rows.Scan(&obs.RunID, &obs.Step, &obs.Feedback, &obs.Signal, &obs.Prediction, &obs.Dim, &skipped); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		obs.Skipped = skipped != 0
		out = append(out, obs)
	}
	return out, rows.Err()
}

// #endregion observations

// #region commit-snapshot
// CommitSnapshot inserts a new snapshot version and moves the active pointer
// to it atomically. An empty VersionID gets a fresh uuid; an empty ParentID
// is filled with the currently active version, if any.
func (s *Store) CommitSnapshot(rec SnapshotRecord) (SnapshotRecord, error) {
	if rec.VersionID == "" {
		rec.VersionID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Label == "" {
		rec.Label = "manual"
	}

	tx, err := s.db.Begin()
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if rec.ParentID == "" {
		var active string
		err := tx.QueryRow(`SELECT version_id FROM active_snapshot WHERE id = 1`).Scan(&active)
		switch {
		case err == nil:
			rec.ParentID = active
		case !errors.Is(err, sql.ErrNoRows):
			return SnapshotRecord{}, fmt.Errorf("get active: %w", err)
		}
	}

	st := rec.State
	_, err = tx.Exec(
		`INSERT INTO snapshots (version_id, parent_id, run_id, step, label, ambient_dim, dim, max_dim, ridge,
		                        basis, gram, moment, theta, residual, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.VersionID, nullIfEmpty(rec.ParentID), nullIfEmpty(rec.RunID), rec.Step, rec.Label,
		st.AmbientDim, st.Dim, st.MaxDim, st.Ridge,
		encodeVector(st.Basis), encodeVector(st.Gram), encodeVector(st.Moment),
		encodeVector(st.Theta), encodeVector(st.Residual),
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("insert snapshot: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO active_snapshot (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		rec.VersionID,
	)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return SnapshotRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// #endregion commit-snapshot

// #region get-current
// GetCurrent reads the active snapshot.
func (s *Store) GetCurrent() (SnapshotRecord, error) {
	var versionID string
	err := s.db.QueryRow(`SELECT version_id FROM active_snapshot WHERE id = 1`).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return SnapshotRecord{}, fmt.Errorf("get active: %w", ErrNotFound)
	}
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetSnapshot(versionID)
}

// #endregion get-current

// #region get-snapshot
const snapshotColumns = `version_id, parent_id, run_id, step, label, ambient_dim, dim, max_dim, ridge,
	basis, gram, moment, theta, residual, created_at`

// GetSnapshot retrieves a specific snapshot version by ID.
func (s *Store) GetSnapshot(id string) (SnapshotRecord, error) {
	row := s.db.QueryRow(`SELECT `+snapshotColumns+` FROM snapshots WHERE version_id = ?`, id)
	rec, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SnapshotRecord{}, fmt.Errorf("get snapshot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	return rec, nil
}

// #endregion get-snapshot

// #region rollback
// Rollback sets the active pointer to a previous snapshot.
func (s *Store) Rollback(targetVersionID string) error {
	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM snapshots WHERE version_id = ?`, targetVersionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check snapshot: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("snapshot %s: %w", targetVersionID, ErrNotFound)
	}

	_, err = s.db.Exec(`UPDATE active_snapshot SET version_id = ? WHERE id = 1`, targetVersionID)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// #endregion rollback

// #region list-snapshots
// ListSnapshots returns the most recent snapshots first. An empty runID lists
// snapshots across all runs.
func (s *Store) ListSnapshots(runID string, limit int) ([]SnapshotRecord, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots`
	args := []any{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var records []SnapshotRecord
	for rows.Next() {
		rec, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion list-snapshots

// #region scanning
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var run Run
	var seed int64
	var cfgJSON sql.NullString
	var createdStr string
	if err := sc.Scan(&run.RunID, &seed, &run.Policy, &cfgJSON, &createdStr); err != nil {
		return Run{}, err
	}
	run.Seed = uint64(seed)
	run.ConfigJSON = cfgJSON.String
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return run, nil
}

func scanSnapshot(sc scanner) (SnapshotRecord, error) {
	var rec SnapshotRecord
	var parentID, runID sql.NullString
	var basis, gram, moment, theta, residual []byte
	var createdStr string
	st := &rec.State
	err := sc.Scan(&rec.VersionID, &parentID, &runID, &rec.Step, &rec.Label,
		&st.AmbientDim, &st.Dim, &st.MaxDim, &st.Ridge,
		&basis, &gram, &moment, &theta, &residual, &createdStr)
	if err != nil {
		return SnapshotRecord{}, err
	}
	rec.ParentID = parentID.String
	rec.RunID = runID.String

	if len(basis) != 8*st.AmbientDim*st.Dim || len(gram) != 8*st.Dim*st.Dim ||
		len(moment) != 8*st.Dim || len(theta) != 8*st.Dim {
		return SnapshotRecord{}, fmt.Errorf("snapshot %s: blob sizes do not match D=%d k=%d", rec.VersionID, st.AmbientDim, st.Dim)
	}
	st.Basis = decodeVector(basis)
	st.Gram = decodeVector(gram)
	st.Moment = decodeVector(moment)
	st.Theta = decodeVector(theta)
	st.Residual = decodeVector(residual)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

// #endregion scanning

// #region vector-encoding
func encodeVector(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}

// #endregion vector-encoding

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
