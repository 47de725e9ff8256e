package validation

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/erc4337/aa-bundler/model"
)

// CheckInput enforces §4.3.1: entry point matches, required fields present,
// initCode/paymasterAndData length is either "absent" or "address-prefixed",
// and preVerificationGas covers the deterministic floor.
func CheckInput(rpc *model.RPCUserOperation, op *model.UserOperation, configuredEntryPoint, gotEntryPoint common.Address) *Error {
	if configuredEntryPoint != gotEntryPoint {
		return invalidParams("unsupported entryPoint %s, expected %s", gotEntryPoint.Hex(), configuredEntryPoint.Hex())
	}
	if !model.IsZeroLenOrAddress(rpc.InitCode) {
		return invalidParams("initCode must be absent (0x) or at least address-length")
	}
	if !model.IsZeroLenOrAddress(rpc.PaymasterAndData) {
		return invalidParams("paymasterAndData must be absent (0x) or at least address-length")
	}

	minPVG := CalcPreVerificationGas(op, DefaultGasOverhead)
	if op.PreVerificationGas.Cmp(minPVG) < 0 {
		return invalidParams("preVerificationGas %s below required minimum %s", op.PreVerificationGas, minPVG)
	}
	return nil
}
