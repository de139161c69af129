package logging

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// #region helpers
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE expansion_log (
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
	)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

// #endregion helpers

// #region log-expansion-tests
func TestLogExpansion_Success(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	entry := ExpansionEntry{
		RunID:        "run-1",
		VersionID:    "v1",
		Step:         42,
		Policy:       "reward_aware",
		PreviousK:    2,
		NewK:         3,
		MeanFeedback: -0.4,
		ResidualNorm: 0.9,
		Decision:     DecisionExpanded,
		Reason:       "mean feedback below threshold",
		EvalJSON:     `{"passed":true}`,
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	if err := LogExpansion(db, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM expansion_log").Scan(&count)
	if count != 1 {
		t.Errorf("expected 1 row, got %d", count)
	}

	got, err := ListExpansions(db, "run-1")
	if err != nil {
		t.Fatalf("ListExpansions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0].NewK != 3 || got[0].Decision != DecisionExpanded || got[0].VersionID != "v1" {
		t.Errorf("unexpected entry: %+v", got[0])
	}
	if !got[0].CreatedAt.Equal(entry.CreatedAt) {
		t.Errorf("created_at = %v", got[0].CreatedAt)
	}
}

func TestLogExpansion_ZeroCreatedAtAndNulls(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	entry := ExpansionEntry{
		Step:      6,
		Policy:    "windowed_error",
		PreviousK: 4,
		NewK:      4,
		Decision:  DecisionRejected,
	}
	if err := LogExpansion(db, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var createdAt string
	var runID, reason sql.NullString
	db.QueryRow("SELECT created_at, run_id, reason FROM expansion_log").Scan(&createdAt, &runID, &reason)
	if createdAt == "" {
		t.Error("expected created_at to be auto-populated")
	}
	if runID.Valid || reason.Valid {
		t.Error("expected NULL for empty run_id and reason")
	}
}

func TestListExpansions_FiltersAndOrders(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	for _, e := range []ExpansionEntry{
		{RunID: "a", Step: 12, Policy: "p", Decision: DecisionExpanded},
		{RunID: "b", Step: 1, Policy: "p", Decision: DecisionRejected},
		{RunID: "a", Step: 6, Policy: "p", Decision: DecisionRejected},
	} {
		if err := LogExpansion(db, e); err != nil {
			t.Fatalf("LogExpansion: %v", err)
		}
	}

	onlyA, err := ListExpansions(db, "a")
	if err != nil {
		t.Fatalf("ListExpansions: %v", err)
	}
	if len(onlyA) != 2 || onlyA[0].Step != 6 || onlyA[1].Step != 12 {
		t.Fatalf("unexpected rows: %+v", onlyA)
	}

	all, err := ListExpansions(db, "")
	if err != nil {
		t.Fatalf("ListExpansions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(all))
	}
}

func TestLogExpansion_MissingTable(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := LogExpansion(db, ExpansionEntry{Policy: "p", Decision: DecisionRejected}); err == nil {
		t.Fatal("expected error when table is missing")
	}
}

// #endregion log-expansion-tests

// #region helper-tests
func TestNullIfEmpty(t *testing.T) {
	if nullIfEmpty("") != nil {
		t.Error("expected nil for empty string")
	}
	if nullIfEmpty("x") != "x" {
		t.Error("expected passthrough for non-empty string")
	}
}

// #endregion helper-tests
