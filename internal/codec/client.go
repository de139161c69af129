// Package codec talks to the external feedback scorer: the service that turns
// a probe into a user-facing reply and reports how well it was received.
package codec

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"gonum.org/v1/gonum/floats"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region invoker
// Invoker is the slice of *grpc.ClientConn the client needs. Tests inject a fake.
type Invoker interface {
	Invoke(ctx context.Context, method string, args any, reply any, opts ...grpc.CallOption) error
}

// #endregion invoker

// #region client-struct
// ScorerClient wraps the gRPC connection to the feedback scorer.
type ScorerClient struct {
	conn    *grpc.ClientConn
	invoker Invoker
	cfg     ScorerConfig

	mu   sync.Mutex
	last map[int]ScoreResult // most recent result, keyed by step
}

// #endregion client-struct

// #region constructor
// NewScorerClient connects to the scorer at cfg.Addr.
func NewScorerClient(cfg ScorerConfig) (*ScorerClient, error) {
	if cfg.RewardMin > cfg.RewardMax {
		return nil, fmt.Errorf("scorer config: reward range [%g, %g] is empty", cfg.RewardMin, cfg.RewardMax)
	}
	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", cfg.Addr, err)
	}
	return &ScorerClient{conn: conn, invoker: conn, cfg: cfg}, nil
}

// NewScorerClientWithInvoker creates a ScorerClient over an injected invoker.
// Used for testing without a real gRPC connection.
func NewScorerClientWithInvoker(inv Invoker, cfg ScorerConfig) *ScorerClient {
	return &ScorerClient{invoker: inv, cfg: cfg}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection, if the client owns one.
func (c *ScorerClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region score
// Score sends one probe to the scorer and returns its clamped reward.
func (c *ScorerClient) Score(ctx context.Context, step int, probe []float64) (ScoreResult, error) {
	code := StyleCode(probe)
	coords := make([]any, len(probe))
	for i, v := range probe {
		coords[i] = v
	}
	req, err := structpb.NewStruct(map[string]any{
		"step":       step,
		"probe":      coords,
		"style_code": code,
	})
	if err != nil {
		return ScoreResult{}, fmt.Errorf("build score request: %w", err)
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	reply := &structpb.Struct{}
	if err := c.invoker.Invoke(ctx, ScoreMethod, req, reply); err != nil {
		return ScoreResult{}, fmt.Errorf("score rpc: %w", err)
	}

	v, ok := reply.GetFields()["reward"]
	if !ok {
		return ScoreResult{}, ErrMissingReward
	}
	num, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || math.IsNaN(num.NumberValue) {
		return ScoreResult{}, fmt.Errorf("reward %v: %w", v.AsInterface(), ErrMissingReward)
	}

	return ScoreResult{
		Reward:    clamp(num.NumberValue, c.cfg.RewardMin, c.cfg.RewardMax),
		RawReward: num.NumberValue,
		StyleCode: code,
		HardFlags: hardFlags(reply.GetFields()["hard_flags"]),
	}, nil
}

// Feedback satisfies the session feedback-source contract. The result is
// kept so SoftReward can consult the flags of the same step.
func (c *ScorerClient) Feedback(ctx context.Context, step int, probe []float64) (float64, error) {
	res, err := c.Score(ctx, step, probe)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.last = map[int]ScoreResult{step: res}
	c.mu.Unlock()
	return res.Reward, nil
}

// SoftReward maps the reward of step to the value the aligner trains on: zero
// when the scorer flagged the reply with FlagForbidParentheses, the reward
// otherwise. Its signature matches the session feedback filter.
func (c *ScorerClient) SoftReward(step int, _ []float64, feedback float64) float64 {
	c.mu.Lock()
	res, ok := c.last[step]
	c.mu.Unlock()
	if ok && res.Flagged(FlagForbidParentheses) {
		return 0
	}
	return feedback
}

// hardFlags reads an optional list of flags. Anything but a list yields none;
// non-string items are rendered as text.
func hardFlags(v *structpb.Value) []string {
	list := v.GetListValue()
	if list == nil {
		return nil
	}
	flags := make([]string, 0, len(list.GetValues()))
	for _, item := range list.GetValues() {
		if s, ok := item.GetKind().(*structpb.Value_StringValue); ok {
			flags = append(flags, s.StringValue)
			continue
		}
		flags = append(flags, fmt.Sprint(item.AsInterface()))
	}
	return flags
}

// #endregion score

// #region style-code
// StyleCode renders the unit-normalized probe as comma-separated signed
// coordinates with three decimals, e.g. "+0.600,-0.800".
func StyleCode(probe []float64) string {
	n := floats.Norm(probe, 2) + 1e-9
	parts := make([]string, len(probe))
	for i, v := range probe {
		parts[i] = fmt.Sprintf("%+.3f", v/n)
	}
	return strings.Join(parts, ",")
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// #endregion style-code
