package validation

import (
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/erc4337/aa-bundler/core/chainio/aa"
	"github.com/erc4337/aa-bundler/model"
)

// ReturnInfo mirrors IEntryPoint.ReturnInfo from the ValidationResult revert.
// validAfter/validUntil are uint48 on-chain, which go-ethereum's abi package
// decodes as Go uint64 (any uintN with N<=64 maps to the matching native
// unsigned type, not *big.Int).
type ReturnInfo struct {
	PreOpGas         *big.Int
	Prefund          *big.Int
	SigFailed        bool
	ValidAfter       uint64
	ValidUntil       uint64
	PaymasterContext []byte
}

// StakeInfo mirrors IStakeManager.StakeInfo as declared on the ValidationResult error.
type StakeInfo struct {
	Stake           *big.Int
	UnstakeDelaySec *big.Int
}

// SimulationOutcome is the decoded ValidationResult (success path) or
// FailedOp (revert path) from simulateValidation.
type SimulationOutcome struct {
	ReturnInfo    ReturnInfo
	SenderInfo    StakeInfo
	FactoryInfo   StakeInfo
	PaymasterInfo StakeInfo
	HasAggregator bool

	FailedOpIndex  *big.Int
	FailedOpReason string
}

func (o *SimulationOutcome) IsFailedOp() bool { return o.FailedOpReason != "" }

func entryPointABI() (abi.ABI, error) {
	parsed := aa.EntryPointMetaData.GetAbi
	got, err := parsed()
	if err != nil {
		return abi.ABI{}, err
	}
	return *got, nil
}

func toBoundUserOp(op *model.UserOperation) aa.UserOperation {
	return aa.UserOperation{
		Sender:               op.Sender,
		Nonce:                op.Nonce,
		InitCode:             op.InitCode,
		CallData:             op.CallData,
		CallGasLimit:         op.CallGasLimit,
		VerificationGasLimit: op.VerificationGasLimit,
		PreVerificationGas:   op.PreVerificationGas,
		MaxFeePerGas:         op.MaxFeePerGas,
		MaxPriorityFeePerGas: op.MaxPriorityFeePerGas,
		PaymasterAndData:     op.PaymasterAndData,
		Signature:            op.Signature,
	}
}

// PackSimulateValidation ABI-encodes the simulateValidation(userOp) call.
func PackSimulateValidation(op *model.UserOperation) ([]byte, error) {
	parsed, err := entryPointABI()
	if err != nil {
		return nil, err
	}
	return parsed.Pack("simulateValidation", toBoundUserOp(op))
}

// CallMsgFor builds the eth_call/debug_traceCall message for simulating op
// against entryPoint.
func CallMsgFor(entryPoint common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{To: &entryPoint, Data: data, Gas: 10_000_000}
}

// revertData extracts the revert payload from a failed eth_call. Nodes
// surface it as structured error data (an rpc.DataError) rather than in the
// plain error string.
func revertData(err error) ([]byte, bool) {
	type dataError interface {
		ErrorData() interface{}
	}
	de, ok := err.(dataError)
	if !ok {
		return nil, false
	}
	switch v := de.ErrorData().(type) {
	case string:
		return common.FromHex(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

// DecodeSimulationRevert decodes the revert data of a simulateValidation
// call into either a ValidationResult or a FailedOp, per the custom Solidity
// errors declared on IEntryPoint.
func DecodeSimulationRevert(data []byte) (*SimulationOutcome, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("revert data too short: %d bytes", len(data))
	}
	parsed, err := entryPointABI()
	if err != nil {
		return nil, err
	}

	selector := data[:4]
	for name, errDef := range parsed.Errors {
		if !bytesEqual(errDef.ID[:4], selector) {
			continue
		}
		values, err := errDef.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, fmt.Errorf("unpack %s: %w", name, err)
		}
		return decodeNamedRevert(name, values)
	}
	return nil, fmt.Errorf("revert selector %x did not match any EntryPoint error", selector)
}

func decodeNamedRevert(name string, values []interface{}) (*SimulationOutcome, error) {
	switch name {
	case "FailedOp":
		return &SimulationOutcome{
			FailedOpIndex:  values[0].(*big.Int),
			FailedOpReason: values[1].(string),
		}, nil
	case "ValidationResult":
		return decodeValidationResult(values, false)
	case "ValidationResultWithAggregation":
		return decodeValidationResult(values, true)
	default:
		return nil, fmt.Errorf("unsupported simulateValidation revert %q", name)
	}
}

func decodeValidationResult(values []interface{}, hasAggregator bool) (*SimulationOutcome, error) {
	var returnInfo ReturnInfo
	if err := convertInto(values[0], &returnInfo); err != nil {
		return nil, fmt.Errorf("decode returnInfo: %w", err)
	}
	var senderInfo, factoryInfo, paymasterInfo StakeInfo
	if err := convertInto(values[1], &senderInfo); err != nil {
		return nil, fmt.Errorf("decode senderInfo: %w", err)
	}
	if err := convertInto(values[2], &factoryInfo); err != nil {
		return nil, fmt.Errorf("decode factoryInfo: %w", err)
	}
	if err := convertInto(values[3], &paymasterInfo); err != nil {
		return nil, fmt.Errorf("decode paymasterInfo: %w", err)
	}

	return &SimulationOutcome{
		ReturnInfo:    returnInfo,
		SenderInfo:    senderInfo,
		FactoryInfo:   factoryInfo,
		PaymasterInfo: paymasterInfo,
		HasAggregator: hasAggregator,
	}, nil
}

// convertInto mirrors the abigen idiom (abi.ConvertType(out[i],
// new(T)).(*T)) used throughout core/chainio/aa for tuple return values.
func convertInto(raw interface{}, dst interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("convert tuple: %v", r)
		}
	}()
	abi.ConvertType(raw, dst)
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
