package validation

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/erc4337/aa-bundler/model"
)

func sampleRPCOp() *model.RPCUserOperation {
	return model.ToRPC(sampleOp())
}

var testEntryPoint = common.HexToAddress("0x0000000000000000000000000000000000dEaD")

func TestCheckInput_OK(t *testing.T) {
	rpcOp := sampleRPCOp()
	op := sampleOp()
	op.PreVerificationGas = CalcPreVerificationGas(op, DefaultGasOverhead)

	if err := CheckInput(rpcOp, op, testEntryPoint, testEntryPoint); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckInput_WrongEntryPoint(t *testing.T) {
	rpcOp := sampleRPCOp()
	op := sampleOp()
	other := common.HexToAddress("0x0000000000000000000000000000000000beef")

	err := CheckInput(rpcOp, op, testEntryPoint, other)
	if err == nil {
		t.Fatal("expected an error for mismatched entryPoint")
	}
	if err.Code != CodeInvalidParams {
		t.Errorf("code = %d, want %d", err.Code, CodeInvalidParams)
	}
}

func TestCheckInput_BadInitCodeLength(t *testing.T) {
	rpcOp := sampleRPCOp()
	rpcOp.InitCode = hexutil.Encode([]byte{1, 2, 3}) // shorter than an address, not absent
	op := sampleOp()

	err := CheckInput(rpcOp, op, testEntryPoint, testEntryPoint)
	if err == nil {
		t.Fatal("expected an error for a too-short initCode")
	}
}

func TestCheckInput_PreVerificationGasTooLow(t *testing.T) {
	rpcOp := sampleRPCOp()
	op := sampleOp()
	op.PreVerificationGas = big.NewInt(1)

	err := CheckInput(rpcOp, op, testEntryPoint, testEntryPoint)
	if err == nil {
		t.Fatal("expected an error for preVerificationGas below the floor")
	}
}
