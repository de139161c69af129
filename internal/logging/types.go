package logging

import "time"

// #region expansion-entry
// ExpansionEntry is a single row in the expansion_log table.
type ExpansionEntry struct {
	RunID        string
	VersionID    string // snapshot committed after a successful expansion
	Step         int
	Policy       string
	PreviousK    int
	NewK         int
	MeanFeedback float64
	WindowMSE    float64
	ResidualNorm float64
	Decision     string // "expanded" | "rejected"
	Reason       string
	EvalJSON     string
	CreatedAt    time.Time
}

// #endregion expansion-entry

// #region decisions
const (
	DecisionExpanded = "expanded"
	DecisionRejected = "rejected"
)

// #endregion decisions
