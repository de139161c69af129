package logging

import (
	"database/sql"
	"fmt"
	"time"
)

// #region log-expansion
// LogExpansion writes an expansion attempt to the expansion_log table.
func LogExpansion(db *sql.DB, entry ExpansionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO expansion_log (run_id, version_id, step, policy, previous_k, new_k,
		                            mean_feedback, window_mse, residual_norm, decision, reason, eval_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullIfEmpty(entry.RunID),
		nullIfEmpty(entry.VersionID),
		entry.Step,
		entry.Policy,
		entry.PreviousK,
		entry.NewK,
		entry.MeanFeedback,
		entry.WindowMSE,
		entry.ResidualNorm,
		entry.Decision,
		nullIfEmpty(entry.Reason),
		nullIfEmpty(entry.EvalJSON),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log expansion: %w", err)
	}
	return nil
}

// #endregion log-expansion

// #region list-expansions
// ListExpansions returns the logged attempts for a run in step order. An
// empty runID returns every row.
func ListExpansions(db *sql.DB, runID string) ([]ExpansionEntry, error) {
	query := `SELECT run_id, version_id, step, policy, previous_k, new_k, mean_feedback, window_mse,
	                 residual_norm, decision, reason, eval_json, created_at
	          FROM expansion_log`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY step, id`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expansions: %w", err)
	}
	defer rows.Close()

	var out []ExpansionEntry
	for rows.Next() {
		var e ExpansionEntry
		var run, version, reason, evalJSON sql.NullString
		var meanFeedback, windowMSE, residualNorm sql.NullFloat64
		var created string
		if err := rows.Scan(&run, &version, &e.Step, &e.Policy, &e.PreviousK, &e.NewK,
			&meanFeedback, &windowMSE, &residualNorm, &e.Decision, &reason, &evalJSON, &created); err != nil {
			return nil, fmt.Errorf("scan expansion: %w", err)
		}
		e.RunID, e.VersionID = run.String, version.String
		e.Reason, e.EvalJSON = reason.String, evalJSON.String
		e.MeanFeedback, e.WindowMSE, e.ResidualNorm = meanFeedback.Float64, windowMSE.Float64, residualNorm.Float64
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list-expansions

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
