package rpcserver

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/erc4337/aa-bundler/core/reputation"
	"github.com/erc4337/aa-bundler/model"
)

type fakeMempoolAdmin struct {
	entries []*model.MempoolEntry
	cleared bool
}

func (f *fakeMempoolAdmin) Dump() []*model.MempoolEntry { return f.entries }
func (f *fakeMempoolAdmin) Clear()                      { f.cleared = true; f.entries = nil }

type fakeReputationAdmin struct {
	entries []model.ReputationEntry
	setErr  error
	cleared bool
}

func (f *fakeReputationAdmin) DumpEntries() []model.ReputationEntry { return f.entries }
func (f *fakeReputationAdmin) SetEntries(entries []model.ReputationEntry) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.entries = entries
	return nil
}
func (f *fakeReputationAdmin) Clear() error {
	f.cleared = true
	f.entries = nil
	return nil
}

type fakeBundlingController struct {
	autoBundlerCalls []struct{ interval, maxPoolSize int }
	attemptCalls     int
	attemptErr       error
}

func (f *fakeBundlingController) SetAutoBundler(ctx context.Context, intervalSeconds int, maxPoolSize int) error {
	f.autoBundlerCalls = append(f.autoBundlerCalls, struct{ interval, maxPoolSize int }{intervalSeconds, maxPoolSize})
	return nil
}
func (f *fakeBundlingController) AttemptBundle(ctx context.Context, force bool) error {
	f.attemptCalls++
	return f.attemptErr
}

type fakeStakeGate struct {
	status *reputation.StakeStatus
	err    error
}

func (f *fakeStakeGate) GetStakeStatus(ctx context.Context, addr common.Address) (*reputation.StakeStatus, error) {
	return f.status, f.err
}

func TestDebugBundlerService_ClearState(t *testing.T) {
	pool := &fakeMempoolAdmin{}
	rep := &fakeReputationAdmin{}
	s := NewDebugBundlerService(context.Background(), pool, rep, &fakeBundlingController{}, &fakeStakeGate{})

	got, err := s.ClearState()
	if err != nil {
		t.Fatalf("ClearState: %v", err)
	}
	if got != "ok" || !pool.cleared || !rep.cleared {
		t.Errorf("ClearState did not clear both pool and reputation: %q %v %v", got, pool.cleared, rep.cleared)
	}
}

func TestDebugBundlerService_DumpMempool(t *testing.T) {
	op := &model.UserOperation{
		Sender: common.HexToAddress("0x1234"), Nonce: bigOne(), CallGasLimit: bigOne(),
		VerificationGasLimit: bigOne(), PreVerificationGas: bigOne(), MaxFeePerGas: bigOne(), MaxPriorityFeePerGas: bigOne(),
	}
	pool := &fakeMempoolAdmin{entries: []*model.MempoolEntry{{UserOp: op}}}
	s := NewDebugBundlerService(context.Background(), pool, &fakeReputationAdmin{}, &fakeBundlingController{}, &fakeStakeGate{})

	got := s.DumpMempool()
	if len(got) != 1 || got[0].Sender != op.Sender {
		t.Errorf("DumpMempool = %+v", got)
	}
}

func TestDebugBundlerService_SetReputation(t *testing.T) {
	rep := &fakeReputationAdmin{}
	s := NewDebugBundlerService(context.Background(), &fakeMempoolAdmin{}, rep, &fakeBundlingController{}, &fakeStakeGate{})

	entries := []model.ReputationEntry{{Address: common.HexToAddress("0x1234"), OpsSeen: 5}}
	got, err := s.SetReputation(entries)
	if err != nil {
		t.Fatalf("SetReputation: %v", err)
	}
	if len(got) != 1 || got[0].OpsSeen != 5 {
		t.Errorf("SetReputation = %+v", got)
	}
}

func TestDebugBundlerService_SetBundlingMode_StringPreset(t *testing.T) {
	bundling := &fakeBundlingController{}
	s := NewDebugBundlerService(context.Background(), &fakeMempoolAdmin{}, &fakeReputationAdmin{}, bundling, &fakeStakeGate{})

	if _, err := s.SetBundlingMode("auto"); err != nil {
		t.Fatalf("SetBundlingMode: %v", err)
	}
	if len(bundling.autoBundlerCalls) != 1 || bundling.autoBundlerCalls[0].interval != 0 || bundling.autoBundlerCalls[0].maxPoolSize != 0 {
		t.Errorf("unexpected autoBundler call: %+v", bundling.autoBundlerCalls)
	}
}

func TestDebugBundlerService_SetBundlingMode_ExplicitObject(t *testing.T) {
	bundling := &fakeBundlingController{}
	s := NewDebugBundlerService(context.Background(), &fakeMempoolAdmin{}, &fakeReputationAdmin{}, bundling, &fakeStakeGate{})

	mode := map[string]interface{}{"interval": float64(45), "maxPoolSize": float64(20)}
	if _, err := s.SetBundlingMode(mode); err != nil {
		t.Fatalf("SetBundlingMode: %v", err)
	}
	if len(bundling.autoBundlerCalls) != 1 || bundling.autoBundlerCalls[0].interval != 45 || bundling.autoBundlerCalls[0].maxPoolSize != 20 {
		t.Errorf("unexpected autoBundler call: %+v", bundling.autoBundlerCalls)
	}
}

func TestDebugBundlerService_SetBundleInterval_DefaultsMaxPoolSize(t *testing.T) {
	bundling := &fakeBundlingController{}
	s := NewDebugBundlerService(context.Background(), &fakeMempoolAdmin{}, &fakeReputationAdmin{}, bundling, &fakeStakeGate{})

	if _, err := s.SetBundleInterval(30, nil); err != nil {
		t.Fatalf("SetBundleInterval: %v", err)
	}
	if len(bundling.autoBundlerCalls) != 1 || bundling.autoBundlerCalls[0].maxPoolSize != defaultBundleMaxPoolSize {
		t.Errorf("expected default maxPoolSize %d, got %+v", defaultBundleMaxPoolSize, bundling.autoBundlerCalls)
	}
}

func TestDebugBundlerService_SendBundleNow(t *testing.T) {
	bundling := &fakeBundlingController{}
	s := NewDebugBundlerService(context.Background(), &fakeMempoolAdmin{}, &fakeReputationAdmin{}, bundling, &fakeStakeGate{})

	if _, err := s.SendBundleNow(context.Background()); err != nil {
		t.Fatalf("SendBundleNow: %v", err)
	}
	if bundling.attemptCalls != 1 {
		t.Errorf("expected one AttemptBundle call, got %d", bundling.attemptCalls)
	}
}

func TestDebugBundlerService_GetStakeStatus(t *testing.T) {
	status := &reputation.StakeStatus{Staked: true}
	s := NewDebugBundlerService(context.Background(), &fakeMempoolAdmin{}, &fakeReputationAdmin{}, &fakeBundlingController{}, &fakeStakeGate{status: status})

	got, err := s.GetStakeStatus(context.Background(), common.HexToAddress("0x1234"), common.HexToAddress("0xe9"))
	if err != nil {
		t.Fatalf("GetStakeStatus: %v", err)
	}
	if !got.IsStaked || got.StakeInfo != status {
		t.Errorf("GetStakeStatus = %+v", got)
	}
}

func bigOne() *big.Int { return big.NewInt(1) }
