package rpcserver

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mitchellh/mapstructure"

	"github.com/erc4337/aa-bundler/core/execution"
	"github.com/erc4337/aa-bundler/core/reputation"
	"github.com/erc4337/aa-bundler/model"
)

// defaultBundleMaxPoolSize is the implicit maxPoolSize debug_bundler_setBundleInterval
// applies when the caller omits it, per spec.md §6.1's `maxPoolSize=100` default.
const defaultBundleMaxPoolSize = 100

// mempoolAdmin is the subset of *core/mempool.Pool the debug namespace dumps
// and clears.
type mempoolAdmin interface {
	Dump() []*model.MempoolEntry
	Clear()
}

// reputationAdmin is the subset of *core/reputation.Manager the debug
// namespace dumps, overwrites and clears.
type reputationAdmin interface {
	DumpEntries() []model.ReputationEntry
	SetEntries(entries []model.ReputationEntry) error
	Clear() error
}

// bundlingController is the subset of *core/execution.Manager the debug
// namespace reconfigures.
type bundlingController interface {
	SetAutoBundler(ctx context.Context, intervalSeconds int, maxPoolSize int) error
	AttemptBundle(ctx context.Context, force bool) error
}

// stakeGate is the subset of *core/reputation.StakeGate the debug namespace
// queries for debug_bundler_getStakeStatus.
type stakeGate interface {
	GetStakeStatus(ctx context.Context, addr common.Address) (*reputation.StakeStatus, error)
}

// DebugBundlerService implements the debug_bundler_* namespace. It is only
// registered when the operator's configuration enables debugRpc — wiring
// that gate is cmd/run's job, not this package's.
type DebugBundlerService struct {
	mempool    mempoolAdmin
	reputation reputationAdmin
	bundling   bundlingController
	stakes     stakeGate

	// lifecycleCtx is the process-lifetime context passed to SetAutoBundler,
	// not the short-lived per-request ctx: the scheduled job it captures
	// keeps firing long after this RPC call returns.
	lifecycleCtx context.Context
}

func NewDebugBundlerService(lifecycleCtx context.Context, mempool mempoolAdmin, rep reputationAdmin, bundling bundlingController, stakes stakeGate) *DebugBundlerService {
	return &DebugBundlerService{
		mempool:      mempool,
		reputation:   rep,
		bundling:     bundling,
		stakes:       stakes,
		lifecycleCtx: lifecycleCtx,
	}
}

// ClearState resets both the mempool and the reputation table.
func (s *DebugBundlerService) ClearState() (string, error) {
	s.mempool.Clear()
	if err := s.reputation.Clear(); err != nil {
		return "", err
	}
	return "ok", nil
}

// ClearMempool drops every pending UserOperation.
func (s *DebugBundlerService) ClearMempool() string {
	s.mempool.Clear()
	return "ok"
}

// ClearReputation drops every tracked reputation entry.
func (s *DebugBundlerService) ClearReputation() (string, error) {
	if err := s.reputation.Clear(); err != nil {
		return "", err
	}
	return "ok", nil
}

// DumpMempool returns every pending UserOperation in wire form.
func (s *DebugBundlerService) DumpMempool() []*model.RPCUserOperation {
	entries := s.mempool.Dump()
	out := make([]*model.RPCUserOperation, len(entries))
	for i, e := range entries {
		out[i] = model.ToRPC(e.UserOp)
	}
	return out
}

// DumpReputation returns every tracked reputation entry.
func (s *DebugBundlerService) DumpReputation() []model.ReputationEntry {
	return s.reputation.DumpEntries()
}

// SetReputation overwrites the given entries' counters and returns the
// table's new state.
func (s *DebugBundlerService) SetReputation(entries []model.ReputationEntry) ([]model.ReputationEntry, error) {
	if err := s.reputation.SetEntries(entries); err != nil {
		return nil, err
	}
	return s.reputation.DumpEntries(), nil
}

// explicitBundlingMode is the object form of the mode parameter: a caller
// that wants a non-default maxPoolSize alongside a numeric interval sends
// this shape instead of the bare "auto"/"manual"/number presets.
type explicitBundlingMode struct {
	Interval    int `mapstructure:"interval"`
	MaxPoolSize int `mapstructure:"maxPoolSize"`
}

// SetBundlingMode resolves mode into the Execution Manager's auto-bundler
// configuration. mode is either one of the "auto"/"manual" string presets,
// a bare number (a timer period in seconds, per spec.md §4.8), or an object
// {interval, maxPoolSize} for callers that want to set both explicitly.
func (s *DebugBundlerService) SetBundlingMode(mode interface{}) (string, error) {
	interval, maxPoolSize := execution.BundlingMode(mode, defaultBundleMaxPoolSize)
	if asMap, ok := mode.(map[string]interface{}); ok {
		var explicit explicitBundlingMode
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true, // JSON numbers decode as float64; accept them as ints
			Result:           &explicit,
		})
		if err != nil {
			return "", err
		}
		if err := decoder.Decode(asMap); err != nil {
			return "", &Error{Code: CodeInvalidParams, Message: err.Error()}
		}
		interval, maxPoolSize = explicit.Interval, explicit.MaxPoolSize
	}
	if err := s.bundling.SetAutoBundler(s.lifecycleCtx, interval, maxPoolSize); err != nil {
		return "", err
	}
	return "ok", nil
}

// SetBundleInterval schedules the auto-bundler timer directly, bypassing
// the auto/manual string presets. maxPoolSize defaults to 100 when omitted.
func (s *DebugBundlerService) SetBundleInterval(interval int, maxPoolSize *int) (string, error) {
	size := defaultBundleMaxPoolSize
	if maxPoolSize != nil {
		size = *maxPoolSize
	}
	if err := s.bundling.SetAutoBundler(s.lifecycleCtx, interval, size); err != nil {
		return "", err
	}
	return "ok", nil
}

// SendBundleNow forces an immediate bundle-build-and-send cycle regardless
// of the mempool-size trigger.
func (s *DebugBundlerService) SendBundleNow(ctx context.Context) (string, error) {
	if err := s.bundling.AttemptBundle(ctx, true); err != nil {
		return "", err
	}
	return "ok", nil
}

// StakeStatusResult is the result of debug_bundler_getStakeStatus.
type StakeStatusResult struct {
	StakeInfo *reputation.StakeStatus `json:"stakeInfo"`
	IsStaked  bool                    `json:"isStaked"`
}

// GetStakeStatus reads addr's current deposit/stake classification.
// entryPoint is accepted for wire-compatibility with the method table but
// unused: this bundler serves a single configured EntryPoint.
func (s *DebugBundlerService) GetStakeStatus(ctx context.Context, addr common.Address, entryPoint common.Address) (*StakeStatusResult, error) {
	status, err := s.stakes.GetStakeStatus(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &StakeStatusResult{StakeInfo: status, IsStaked: status.Staked}, nil
}
