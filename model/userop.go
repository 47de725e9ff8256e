// Package model defines the canonical UserOperation record and the boundary
// converters to/from its hex-string JSON-RPC wire form.
package model

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// UserOperation is the internal, typed representation of an ERC-4337
// pseudo-transaction. It is the only representation validation, the mempool
// and the bundle builder operate on; the wire representation in
// RPCUserOperation never leaks past FromRPC.
type UserOperation struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

// RPCUserOperation is the hex-string wire form used at the JSON-RPC boundary,
// matching eth_sendUserOperation / eth_estimateUserOperationGas params.
type RPCUserOperation struct {
	Sender               common.Address `json:"sender" mapstructure:"sender" validate:"required"`
	Nonce                string         `json:"nonce" mapstructure:"nonce" validate:"required,hexadecimal"`
	InitCode             string         `json:"initCode" mapstructure:"initCode" validate:"required"`
	CallData             string         `json:"callData" mapstructure:"callData" validate:"required"`
	CallGasLimit         string         `json:"callGasLimit" mapstructure:"callGasLimit" validate:"required,hexadecimal"`
	VerificationGasLimit string         `json:"verificationGasLimit" mapstructure:"verificationGasLimit" validate:"required,hexadecimal"`
	PreVerificationGas   string         `json:"preVerificationGas" mapstructure:"preVerificationGas" validate:"required,hexadecimal"`
	MaxFeePerGas         string         `json:"maxFeePerGas" mapstructure:"maxFeePerGas" validate:"required,hexadecimal"`
	MaxPriorityFeePerGas string         `json:"maxPriorityFeePerGas" mapstructure:"maxPriorityFeePerGas" validate:"required,hexadecimal"`
	PaymasterAndData     string         `json:"paymasterAndData" mapstructure:"paymasterAndData"`
	Signature            string         `json:"signature" mapstructure:"signature" validate:"required"`
}

// FromRPC decodes the hex-string wire form into the canonical internal
// record. It is the only place hex parsing of a UserOperation happens.
func FromRPC(rpc *RPCUserOperation) (*UserOperation, error) {
	nonce, err := hexutil.DecodeBig(rpc.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce %q: %w", rpc.Nonce, err)
	}
	callGasLimit, err := hexutil.DecodeBig(rpc.CallGasLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid callGasLimit %q: %w", rpc.CallGasLimit, err)
	}
	verificationGasLimit, err := hexutil.DecodeBig(rpc.VerificationGasLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid verificationGasLimit %q: %w", rpc.VerificationGasLimit, err)
	}
	preVerificationGas, err := hexutil.DecodeBig(rpc.PreVerificationGas)
	if err != nil {
		return nil, fmt.Errorf("invalid preVerificationGas %q: %w", rpc.PreVerificationGas, err)
	}
	maxFeePerGas, err := hexutil.DecodeBig(rpc.MaxFeePerGas)
	if err != nil {
		return nil, fmt.Errorf("invalid maxFeePerGas %q: %w", rpc.MaxFeePerGas, err)
	}
	maxPriorityFeePerGas, err := hexutil.DecodeBig(rpc.MaxPriorityFeePerGas)
	if err != nil {
		return nil, fmt.Errorf("invalid maxPriorityFeePerGas %q: %w", rpc.MaxPriorityFeePerGas, err)
	}
	initCode, err := decodeBytes(rpc.InitCode)
	if err != nil {
		return nil, fmt.Errorf("invalid initCode: %w", err)
	}
	callData, err := decodeBytes(rpc.CallData)
	if err != nil {
		return nil, fmt.Errorf("invalid callData: %w", err)
	}
	paymasterAndData, err := decodeBytes(rpc.PaymasterAndData)
	if err != nil {
		return nil, fmt.Errorf("invalid paymasterAndData: %w", err)
	}
	signature, err := decodeBytes(rpc.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}

	return &UserOperation{
		Sender:               rpc.Sender,
		Nonce:                nonce,
		InitCode:             initCode,
		CallData:             callData,
		CallGasLimit:         callGasLimit,
		VerificationGasLimit: verificationGasLimit,
		PreVerificationGas:   preVerificationGas,
		MaxFeePerGas:         maxFeePerGas,
		MaxPriorityFeePerGas: maxPriorityFeePerGas,
		PaymasterAndData:     paymasterAndData,
		Signature:            signature,
	}, nil
}

// ToRPC formats the internal record as the hex-string wire form. Formatting
// (leading-zero-stripped hex, "0x0" for zero) is purely a display transform
// and is never fed back into validation or hashing.
func ToRPC(op *UserOperation) *RPCUserOperation {
	return &RPCUserOperation{
		Sender:               op.Sender,
		Nonce:                hexlifyBig(op.Nonce),
		InitCode:             hexutil.Encode(op.InitCode),
		CallData:             hexutil.Encode(op.CallData),
		CallGasLimit:         hexlifyBig(op.CallGasLimit),
		VerificationGasLimit: hexlifyBig(op.VerificationGasLimit),
		PreVerificationGas:   hexlifyBig(op.PreVerificationGas),
		MaxFeePerGas:         hexlifyBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: hexlifyBig(op.MaxPriorityFeePerGas),
		PaymasterAndData:     hexutil.Encode(op.PaymasterAndData),
		Signature:            hexutil.Encode(op.Signature),
	}
}

func decodeBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hexutil.Decode(s)
}

func hexlifyBig(v *big.Int) string {
	if v == nil || v.Sign() == 0 {
		return "0x0"
	}
	return hexutil.EncodeBig(v)
}

// Factory returns the first 20 bytes of InitCode, or the zero address and
// false if InitCode is shorter than 20 bytes (no factory).
func (op *UserOperation) Factory() (common.Address, bool) {
	return entityFromPrefix(op.InitCode)
}

// Paymaster returns the first 20 bytes of PaymasterAndData, or the zero
// address and false if it is shorter than 20 bytes (no paymaster).
func (op *UserOperation) Paymaster() (common.Address, bool) {
	return entityFromPrefix(op.PaymasterAndData)
}

func entityFromPrefix(b []byte) (common.Address, bool) {
	if len(b) < 20 {
		return common.Address{}, false
	}
	return common.BytesToAddress(b[:20]), true
}

// Hash computes the userOpHash: keccak256(abi.encode(hashedOp, entryPoint, chainID)).
// It matches EntryPoint.getUserOpHash so the bundler never needs an on-chain
// round trip just to key the mempool.
func (op *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) common.Hash {
	packed := op.packForHash()
	opHash := crypto.Keccak256(packed)

	enc := make([]byte, 0, 32*3)
	enc = append(enc, opHash...)
	enc = append(enc, leftPad32(entryPoint.Bytes())...)
	enc = append(enc, leftPad32(chainID.Bytes())...)
	return crypto.Keccak256Hash(enc)
}

// packForHash mirrors EntryPoint.sol's UserOperationLib.hash(): every
// dynamic field is itself keccak256'd before the outer encode.
func (op *UserOperation) packForHash() []byte {
	fields := [][]byte{
		leftPad32(op.Sender.Bytes()),
		leftPad32(op.Nonce.Bytes()),
		crypto.Keccak256(op.InitCode),
		crypto.Keccak256(op.CallData),
		leftPad32(op.CallGasLimit.Bytes()),
		leftPad32(op.VerificationGasLimit.Bytes()),
		leftPad32(op.PreVerificationGas.Bytes()),
		leftPad32(op.MaxFeePerGas.Bytes()),
		leftPad32(op.MaxPriorityFeePerGas.Bytes()),
		crypto.Keccak256(op.PaymasterAndData),
	}
	out := make([]byte, 0, 32*len(fields))
	for _, f := range fields {
		out = append(out, f...)
	}
	return out
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// IsZeroLenOrAddress validates the "absent (0x) or address-prefixed (≥42
// hex chars)" shape the spec requires of initCode/paymasterAndData: a length
// strictly between those two is invalid.
func IsZeroLenOrAddress(hexStr string) bool {
	l := len(hexStr)
	return l == 2 || l >= 42
}
