package validation

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/erc4337/aa-bundler/model"
	"github.com/erc4337/aa-bundler/pkg/logger"
)

type revertErr struct{ data []byte }

func (r *revertErr) Error() string            { return "execution reverted" }
func (r *revertErr) ErrorData() interface{}   { return r.data }

type fakeNode struct {
	callErr  error
	code     map[common.Address][]byte
	traceErr error
}

func (f *fakeNode) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return nil, f.callErr
}

func (f *fakeNode) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	return f.code[addr], nil
}

func (f *fakeNode) DebugTraceCall(ctx context.Context, msg ethereum.CallMsg, blockNumber string, tracerJS string) (json.RawMessage, error) {
	if f.traceErr != nil {
		return nil, f.traceErr
	}
	return json.RawMessage(`{"calls":[],"keccak":[],"logs":[]}`), nil
}

func buildValidationResultRevert(t *testing.T, ri ReturnInfo, si, fi, pi StakeInfo) []byte {
	t.Helper()
	parsed, err := entryPointABI()
	if err != nil {
		t.Fatalf("entryPointABI: %v", err)
	}
	errDef := parsed.Errors["ValidationResult"]
	packed, err := errDef.Inputs.Pack(ri, si, fi, pi)
	if err != nil {
		t.Fatalf("pack ValidationResult: %v", err)
	}
	return append(append([]byte{}, errDef.ID[:4]...), packed...)
}

func zeroStake() StakeInfo { return StakeInfo{Stake: big.NewInt(0), UnstakeDelaySec: big.NewInt(0)} }

func sampleRPCOpForManager() *model.RPCUserOperation {
	op := sampleOp()
	op.PreVerificationGas = CalcPreVerificationGas(op, DefaultGasOverhead)
	return model.ToRPC(op)
}

func TestManager_Validate_UnsafeMode_Accepts(t *testing.T) {
	revert := buildValidationResultRevert(t, ReturnInfo{
		PreOpGas:         big.NewInt(45000),
		Prefund:          big.NewInt(1_000_000_000_000_000),
		SigFailed:        false,
		ValidAfter:       0,
		ValidUntil:       0,
		PaymasterContext: []byte{},
	}, zeroStake(), zeroStake(), zeroStake())

	n := &fakeNode{callErr: &revertErr{data: revert}}
	m := New(n, nil, testEntryPoint, true, nil, logger.NewNoOpLogger())

	outcome, err := m.Validate(context.Background(), sampleRPCOpForManager(), testEntryPoint)
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if outcome.Prefund.Cmp(big.NewInt(1_000_000_000_000_000)) != 0 {
		t.Errorf("prefund = %s", outcome.Prefund)
	}
}

func TestManager_Validate_SigFailedRejected(t *testing.T) {
	revert := buildValidationResultRevert(t, ReturnInfo{
		PreOpGas:  big.NewInt(45000),
		Prefund:   big.NewInt(0),
		SigFailed: true,
	}, zeroStake(), zeroStake(), zeroStake())

	n := &fakeNode{callErr: &revertErr{data: revert}}
	m := New(n, nil, testEntryPoint, true, nil, logger.NewNoOpLogger())

	_, err := m.Validate(context.Background(), sampleRPCOpForManager(), testEntryPoint)
	if err == nil {
		t.Fatal("expected a signature validation error")
	}
	if err.Code != CodeInvalidSignature {
		t.Errorf("code = %d, want %d", err.Code, CodeInvalidSignature)
	}
}

func TestManager_Validate_ExpiringSoonRejected(t *testing.T) {
	revert := buildValidationResultRevert(t, ReturnInfo{
		PreOpGas:   big.NewInt(45000),
		Prefund:    big.NewInt(0),
		ValidUntil: 1, // epoch second 1: always inside the acceptance buffer
	}, zeroStake(), zeroStake(), zeroStake())

	n := &fakeNode{callErr: &revertErr{data: revert}}
	m := New(n, nil, testEntryPoint, true, nil, logger.NewNoOpLogger())

	_, err := m.Validate(context.Background(), sampleRPCOpForManager(), testEntryPoint)
	if err == nil {
		t.Fatal("expected a time-range error")
	}
	if err.Code != CodeTimeRange {
		t.Errorf("code = %d, want %d", err.Code, CodeTimeRange)
	}
}

func TestManager_Validate_WrongEntryPointRejectedBeforeSimulation(t *testing.T) {
	n := &fakeNode{callErr: &revertErr{data: nil}}
	m := New(n, nil, testEntryPoint, true, nil, logger.NewNoOpLogger())

	other := common.HexToAddress("0x0000000000000000000000000000000000beef")
	_, err := m.Validate(context.Background(), sampleRPCOpForManager(), other)
	if err == nil {
		t.Fatal("expected an invalid-params error")
	}
	if err.Code != CodeInvalidParams {
		t.Errorf("code = %d, want %d", err.Code, CodeInvalidParams)
	}
}
