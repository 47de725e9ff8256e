package validation

import (
	"math"
	"math/big"

	"github.com/erc4337/aa-bundler/model"
)

// GasOverheadParams parameterizes calcPreVerificationGas; the defaults
// match the reference bundler's single-UO, single-signature assumptions.
type GasOverheadParams struct {
	Fixed         int64
	PerUserOp     int64
	PerUserOpWord int64
	ZeroByte      int64
	NonZeroByte   int64
	BundleSize    int64
	SigSize       int64
}

var DefaultGasOverhead = GasOverheadParams{
	Fixed:         21000,
	PerUserOp:     18300,
	PerUserOpWord: 4,
	ZeroByte:      4,
	NonZeroByte:   16,
	BundleSize:    1,
	SigSize:       65,
}

// CalcPreVerificationGas is a deterministic function of the packed UO: the
// minimum preVerificationGas the bundler will accept, covering the calldata
// cost of submitting this op plus its share of the fixed intrinsic-tx cost.
func CalcPreVerificationGas(op *model.UserOperation, params GasOverheadParams) *big.Int {
	packed := packedForGasCalc(op, params.SigSize)

	var callDataCost int64
	for _, b := range packed {
		if b == 0 {
			callDataCost += params.ZeroByte
		} else {
			callDataCost += params.NonZeroByte
		}
	}

	words := int64(math.Ceil(float64(len(packed)+31) / 32))

	total := callDataCost + params.Fixed/params.BundleSize + params.PerUserOp + params.PerUserOpWord*words
	return big.NewInt(total)
}

// packedForGasCalc approximates the ABI-encoded UserOperation used to size
// the calldata cost: every dynamic field plus a dummy signature of SigSize
// zero bytes (a real signature's byte distribution barely moves the cost,
// since ABI encoding pads to 32-byte words regardless).
func packedForGasCalc(op *model.UserOperation, sigSize int64) []byte {
	var out []byte
	out = append(out, op.Sender.Bytes()...)
	out = append(out, op.Nonce.Bytes()...)
	out = append(out, op.InitCode...)
	out = append(out, op.CallData...)
	out = append(out, op.CallGasLimit.Bytes()...)
	out = append(out, op.VerificationGasLimit.Bytes()...)
	out = append(out, op.PreVerificationGas.Bytes()...)
	out = append(out, op.MaxFeePerGas.Bytes()...)
	out = append(out, op.MaxPriorityFeePerGas.Bytes()...)
	out = append(out, op.PaymasterAndData...)
	out = append(out, make([]byte, sigSize)...)
	return out
}
