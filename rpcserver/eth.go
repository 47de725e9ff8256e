package rpcserver

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	structvalidator "github.com/go-playground/validator/v10"

	"github.com/erc4337/aa-bundler/core/validation"
	"github.com/erc4337/aa-bundler/model"
)

// opValidator is the subset of *core/validation.Manager the eth namespace
// calls directly for eth_estimateUserOperationGas, which validates a
// UserOperation without admitting it to the mempool.
type opValidator interface {
	Validate(ctx context.Context, rpcOp *model.RPCUserOperation, entryPoint common.Address) (*validation.Outcome, *validation.Error)
}

// userOpSender is the subset of *core/execution.Manager the eth namespace
// drives for eth_sendUserOperation.
type userOpSender interface {
	SendUserOperation(ctx context.Context, rpcOp *model.RPCUserOperation, entryPoint common.Address) (common.Hash, *validation.Error)
}

// inclusionLookup is the subset of *core/events.Manager the eth namespace
// reads for eth_getUserOperationByHash/Receipt.
type inclusionLookup interface {
	GetRecord(userOpHash common.Hash) (*model.InclusionRecord, bool, error)
}

// receiptFetcher is the subset of *core/node.Client the eth namespace uses
// to pull the full on-chain receipt for eth_getUserOperationReceipt.
type receiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EthService implements the eth_* namespace; its exported method names map
// onto wire method names with a lowercased first rune (ChainId -> chainId),
// so RegisterName("eth", ...) produces eth_chainId, eth_sendUserOperation, etc.
type EthService struct {
	entryPoint common.Address
	chainID    *big.Int

	validate opValidator
	exec     userOpSender
	events   inclusionLookup
	node     receiptFetcher

	structValidate *structvalidator.Validate
}

func NewEthService(entryPoint common.Address, chainID *big.Int, v opValidator, exec userOpSender, events inclusionLookup, node receiptFetcher) *EthService {
	return &EthService{
		entryPoint:     entryPoint,
		chainID:        chainID,
		validate:       v,
		exec:           exec,
		events:         events,
		node:           node,
		structValidate: structvalidator.New(),
	}
}

// ChainId returns the configured chain id, per eth_chainId.
func (s *EthService) ChainId() *hexutil.Big {
	return (*hexutil.Big)(s.chainID)
}

// SupportedEntryPoints returns the single EntryPoint this bundler serves.
func (s *EthService) SupportedEntryPoints() []common.Address {
	return []common.Address{s.entryPoint}
}

// SendUserOperation validates and admits op, returning its userOpHash.
func (s *EthService) SendUserOperation(ctx context.Context, op model.RPCUserOperation, entryPoint common.Address) (common.Hash, error) {
	hash, verr := s.exec.SendUserOperation(ctx, &op, entryPoint)
	if verr != nil {
		return common.Hash{}, verr
	}
	return hash, nil
}

// GasEstimate is the result of eth_estimateUserOperationGas. validAfter and
// validUntil are omitted: the bundler's validation outcome does not surface
// a time-range window today, only the simulate-validation pass/fail verdict.
type GasEstimate struct {
	PreVerificationGas   *hexutil.Big `json:"preVerificationGas"`
	VerificationGasLimit *hexutil.Big `json:"verificationGasLimit"`
	CallGasLimit         *hexutil.Big `json:"callGasLimit"`
}

// EstimateUserOperationGas validates op and reports the minimum
// preVerificationGas the bundler will accept. callGasLimit and
// verificationGasLimit are echoed back as given: this bundler doesn't run a
// binary-search gas simulation, only the deterministic calldata-cost floor
// spec.md §8 actually pins down.
func (s *EthService) EstimateUserOperationGas(ctx context.Context, op model.RPCUserOperation, entryPoint common.Address) (*GasEstimate, error) {
	if err := s.structValidate.Struct(&op); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	if _, verr := s.validate.Validate(ctx, &op, entryPoint); verr != nil {
		return nil, verr
	}
	decoded, err := model.FromRPC(&op)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	pvg := validation.CalcPreVerificationGas(decoded, validation.DefaultGasOverhead)

	callGasLimit, err := hexutil.DecodeBig(op.CallGasLimit)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	verificationGasLimit, err := hexutil.DecodeBig(op.VerificationGasLimit)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}

	return &GasEstimate{
		PreVerificationGas:   (*hexutil.Big)(pvg),
		VerificationGasLimit: (*hexutil.Big)(verificationGasLimit),
		CallGasLimit:         (*hexutil.Big)(callGasLimit),
	}, nil
}

// UserOpByHashResult is the result of eth_getUserOperationByHash.
type UserOpByHashResult struct {
	UserOperation   *model.RPCUserOperation `json:"userOperation"`
	EntryPoint      common.Address          `json:"entryPoint"`
	TransactionHash common.Hash             `json:"transactionHash"`
	BlockHash       common.Hash             `json:"blockHash"`
	BlockNumber     *hexutil.Big            `json:"blockNumber"`
}

// GetUserOperationByHash returns the included UserOperation for hash, or
// nil if it hasn't landed on-chain (or was never seen).
func (s *EthService) GetUserOperationByHash(hash common.Hash) (*UserOpByHashResult, error) {
	record, ok, err := s.events.GetRecord(hash)
	if err != nil {
		return nil, err
	}
	if !ok || record.UserOp == nil {
		return nil, nil
	}
	return &UserOpByHashResult{
		UserOperation:   model.ToRPC(record.UserOp),
		EntryPoint:      s.entryPoint,
		TransactionHash: record.TransactionHash,
		BlockHash:       record.BlockHash,
		BlockNumber:     (*hexutil.Big)(new(big.Int).SetUint64(record.BlockNumber)),
	}, nil
}

// UserOpReceiptResult is the result of eth_getUserOperationReceipt.
type UserOpReceiptResult struct {
	UserOpHash    common.Hash    `json:"userOpHash"`
	Sender        common.Address `json:"sender"`
	Nonce         *hexutil.Big   `json:"nonce"`
	ActualGasCost *hexutil.Big   `json:"actualGasCost"`
	ActualGasUsed *hexutil.Big   `json:"actualGasUsed"`
	Success       bool           `json:"success"`
	Logs          []*types.Log   `json:"logs"`
	Receipt       *types.Receipt `json:"receipt"`
}

// GetUserOperationReceipt returns the inclusion receipt for hash, or nil if
// it hasn't landed on-chain.
func (s *EthService) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*UserOpReceiptResult, error) {
	record, ok, err := s.events.GetRecord(hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var receipt *types.Receipt
	var logs []*types.Log
	if s.node != nil {
		receipt, err = s.node.TransactionReceipt(ctx, record.TransactionHash)
		if err != nil {
			return nil, err
		}
		logs = receipt.Logs
	}

	return &UserOpReceiptResult{
		UserOpHash:    record.UserOpHash,
		Sender:        record.Sender,
		Nonce:         (*hexutil.Big)(record.Nonce),
		ActualGasCost: (*hexutil.Big)(record.ActualGasCost),
		ActualGasUsed: (*hexutil.Big)(record.ActualGasUsed),
		Success:       record.Success,
		Logs:          logs,
		Receipt:       receipt,
	}, nil
}
