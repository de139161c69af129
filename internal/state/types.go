package state

import (
	"time"

	"github.com/danielpatrickdp/latent-aligner/internal/aligner"
)

// #region run
// Run identifies one learning session and the settings it started with.
type Run struct {
	RunID      string
	Seed       uint64
	Policy     string
	ConfigJSON string
	CreatedAt  time.Time
}

// #endregion run

// #region observation
// Observation is one round of the loop. Skipped rounds carry no feedback:
// the probe was drawn but the feedback source failed, so nothing was absorbed.
type Observation struct {
	RunID      string
	Step       int // 1-based round index
	Feedback   float64
	Signal     float64 // value absorbed by the aligner after filtering
	Prediction float64
	Dim        int // subspace dimension when the probe was drawn
	Skipped    bool
}

// #endregion observation

// #region snapshot-record
// SnapshotRecord is a versioned aligner snapshot.
type SnapshotRecord struct {
	VersionID string
	ParentID  string
	RunID     string
	Step      int
	Label     string // "start" | "expansion" | "end" | "manual"
	State     aligner.Snapshot
	CreatedAt time.Time
}

// #endregion snapshot-record
