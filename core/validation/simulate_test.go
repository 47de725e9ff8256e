package validation

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/erc4337/aa-bundler/model"
)

func sampleOp() *model.UserOperation {
	return &model.UserOperation{
		Sender:               common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:                big.NewInt(1),
		InitCode:             []byte{},
		CallData:             []byte{0xde, 0xad, 0xbe, 0xef},
		CallGasLimit:         big.NewInt(100000),
		VerificationGasLimit: big.NewInt(150000),
		PreVerificationGas:   big.NewInt(50000),
		MaxFeePerGas:         big.NewInt(2_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
		PaymasterAndData:     []byte{},
		Signature:            []byte{1, 2, 3},
	}
}

func TestPackSimulateValidation(t *testing.T) {
	data, err := PackSimulateValidation(sampleOp())
	if err != nil {
		t.Fatalf("PackSimulateValidation: %v", err)
	}
	if len(data) < 4 {
		t.Fatalf("encoded call too short: %d bytes", len(data))
	}
	parsed, err := entryPointABI()
	if err != nil {
		t.Fatalf("entryPointABI: %v", err)
	}
	method, ok := parsed.Methods["simulateValidation"]
	if !ok {
		t.Fatal("simulateValidation not found in EntryPoint ABI")
	}
	for i, b := range method.ID {
		if data[i] != b {
			t.Fatalf("selector mismatch at byte %d: got %x want %x", i, data[:4], method.ID)
		}
	}
}

func TestDecodeSimulationRevert_FailedOp(t *testing.T) {
	parsed, err := entryPointABI()
	if err != nil {
		t.Fatalf("entryPointABI: %v", err)
	}
	errDef := parsed.Errors["FailedOp"]
	packed, err := errDef.Inputs.Pack(big.NewInt(2), "AA21 didn't pay prefund")
	if err != nil {
		t.Fatalf("pack FailedOp: %v", err)
	}
	revert := append(append([]byte{}, errDef.ID[:4]...), packed...)

	outcome, err := DecodeSimulationRevert(revert)
	if err != nil {
		t.Fatalf("DecodeSimulationRevert: %v", err)
	}
	if !outcome.IsFailedOp() {
		t.Fatal("expected a FailedOp outcome")
	}
	if outcome.FailedOpIndex.Cmp(big.NewInt(2)) != 0 {
		t.Errorf("opIndex = %s, want 2", outcome.FailedOpIndex)
	}
	if outcome.FailedOpReason != "AA21 didn't pay prefund" {
		t.Errorf("reason = %q", outcome.FailedOpReason)
	}
}

func TestDecodeSimulationRevert_ValidationResult(t *testing.T) {
	parsed, err := entryPointABI()
	if err != nil {
		t.Fatalf("entryPointABI: %v", err)
	}
	errDef := parsed.Errors["ValidationResult"]

	returnInfo := ReturnInfo{
		PreOpGas:         big.NewInt(45000),
		Prefund:          big.NewInt(1_000_000_000_000_000),
		SigFailed:        false,
		ValidAfter:       0,
		ValidUntil:       9999999999,
		PaymasterContext: []byte{},
	}
	senderInfo := StakeInfo{Stake: big.NewInt(0), UnstakeDelaySec: big.NewInt(0)}
	factoryInfo := StakeInfo{Stake: big.NewInt(0), UnstakeDelaySec: big.NewInt(0)}
	paymasterInfo := StakeInfo{Stake: big.NewInt(0), UnstakeDelaySec: big.NewInt(0)}

	packed, err := errDef.Inputs.Pack(returnInfo, senderInfo, factoryInfo, paymasterInfo)
	if err != nil {
		t.Fatalf("pack ValidationResult: %v", err)
	}
	revert := append(append([]byte{}, errDef.ID[:4]...), packed...)

	outcome, err := DecodeSimulationRevert(revert)
	if err != nil {
		t.Fatalf("DecodeSimulationRevert: %v", err)
	}
	if outcome.IsFailedOp() {
		t.Fatal("did not expect a FailedOp outcome")
	}
	if outcome.ReturnInfo.PreOpGas.Cmp(returnInfo.PreOpGas) != 0 {
		t.Errorf("preOpGas = %s, want %s", outcome.ReturnInfo.PreOpGas, returnInfo.PreOpGas)
	}
	if outcome.ReturnInfo.ValidUntil != returnInfo.ValidUntil {
		t.Errorf("validUntil = %d, want %d", outcome.ReturnInfo.ValidUntil, returnInfo.ValidUntil)
	}
	if outcome.HasAggregator {
		t.Error("ValidationResult (no aggregation) should not set HasAggregator")
	}
}

func TestRevertDataExtraction_NoMatch(t *testing.T) {
	if _, ok := revertData(nil); ok {
		t.Error("revertData(nil) should report ok=false")
	}
}
