package eval

// #region eval-config
// EvalConfig holds tolerances for post-expansion validation.
type EvalConfig struct {
	OrthTol  float64 // max |BᵀB - I| entry
	SymTol   float64 // max |A - Aᵀ| entry
	SolveTol float64 // max |Aθ - b| entry, relative to 1 + max |b|
}

// DefaultEvalConfig returns tolerances that hold comfortably in float64 for k <= 64.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		OrthTol:  1e-8,
		SymTol:   1e-10,
		SolveTol: 1e-8,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of post-expansion validation.
type EvalResult struct {
	Passed  bool
	Metrics []EvalMetric
	Reason  string
}

// #endregion eval-result
