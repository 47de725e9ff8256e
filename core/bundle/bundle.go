// Package bundle implements component F: packing the sorted mempool into a
// gas-bounded handleOps transaction and dispatching it to the node.
package bundle

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"

	"github.com/erc4337/aa-bundler/core/chainio/aa"
	"github.com/erc4337/aa-bundler/core/node"
	"github.com/erc4337/aa-bundler/core/validation"
	"github.com/erc4337/aa-bundler/model"
	"github.com/erc4337/aa-bundler/pkg/logger"
)

// maxSameEntityPerBundle bounds how many times one paymaster/factory is
// counted in a bundle: an entity already counted more than this many times
// is skipped, and a THROTTLED one is skipped outright.
const maxSameEntityPerBundle = 4

// depositReader is the subset of *aa.EntryPointCaller the builder needs to
// track a paymaster's remaining on-chain deposit across one bundle.
type depositReader interface {
	BalanceOf(opts *bind.CallOpts, account common.Address) (*big.Int, error)
}

// transactor is the subset of *aa.EntryPointTransactor needed to build (and,
// with opts.NoSend, sign but not dispatch) the handleOps transaction.
type transactor interface {
	HandleOps(opts *bind.TransactOpts, ops []aa.UserOperation, beneficiary common.Address) (*types.Transaction, error)
}

// chainNode is the subset of *core/node.Client the builder needs to dispatch
// a signed transaction and read proof/balance data for account-root mode.
type chainNode interface {
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	SendRawTransaction(ctx context.Context, tx *types.Transaction) error
	SendRawTransactionConditional(ctx context.Context, tx *types.Transaction, storageMap model.StorageMap) (common.Hash, error)
	GetProof(ctx context.Context, addr common.Address) (*node.ProofResult, error)
}

// feeSuggester resolves the maxFeePerGas/maxPriorityFeePerGas pair to sign
// the handleOps transaction with; production wires this to
// pkg/eip1559.SuggestFee, tests substitute a fixed pair.
type feeSuggester func(ctx context.Context) (maxFeePerGas, maxPriorityFeePerGas *big.Int, err error)

// revalidator is the subset of *core/validation.Manager used to re-check a
// mempool entry immediately before it is admitted into a bundle.
type revalidator interface {
	Validate(ctx context.Context, rpcOp *model.RPCUserOperation, entryPoint common.Address) (*validation.Outcome, *validation.Error)
}

// mempoolSource is the subset of *core/mempool.Pool the builder consumes.
type mempoolSource interface {
	GetSortedForInclusion() []*model.MempoolEntry
	RemoveByHash(userOpHash common.Hash) bool
	IsKnownSender(addr common.Address) bool
}

// reputationSink is the subset of *core/reputation.Manager the builder
// consults and updates.
type reputationSink interface {
	GetStatus(addr common.Address) model.ReputationStatus
	CrashedHandleOps(addr common.Address) error
	UpdateIncludedStatus(addr common.Address) error
}

// Config holds the bundle builder's tunables, all sourced from SPEC_FULL's
// §6.4 configuration surface.
type Config struct {
	EntryPoint       common.Address
	Beneficiary      common.Address
	MinSignerBalance *big.Int
	MaxBundleGas     *big.Int
	ConditionalRPC   bool
	AccountRootMode  bool
}

// Manager is component F: the bundle builder and sender.
type Manager struct {
	cfg Config

	node        chainNode
	deposits    depositReader
	transactor  transactor
	fees        feeSuggester
	revalidator revalidator
	pool        mempoolSource
	reputation  reputationSink
	signer      *bind.TransactOpts
	log         logger.Logger
}

func New(cfg Config, n chainNode, deposits depositReader, tx transactor, fees feeSuggester, rv revalidator, pool mempoolSource, rep reputationSink, signer *bind.TransactOpts, lgr logger.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		node:        n,
		deposits:    deposits,
		transactor:  tx,
		fees:        fees,
		revalidator: rv,
		pool:        pool,
		reputation:  rep,
		signer:      signer,
		log:         logger.EnsureLogger(lgr),
	}
}

// Built is one packed, not-yet-sent bundle. ID identifies this attempt
// across the Build/Send/log lifecycle even when Send fails and the bundle
// is never broadcast — a plain counter can't survive a process restart, so
// this uses the same monotonic-within-a-millisecond ULID the teacher uses
// for its own task IDs.
type Built struct {
	ID         ulid.ULID
	Ops        []aa.UserOperation
	Entries    []*model.MempoolEntry
	StorageMap model.StorageMap
	TotalGas   *big.Int
}

// Build iterates the sorted mempool, admitting entries into a single bundle
// per §4.6's skip/admit rules, stopping once MaxBundleGas would be exceeded.
func (m *Manager) Build(ctx context.Context) (*Built, error) {
	sorted := m.pool.GetSortedForInclusion()

	built := &Built{ID: ulid.Make(), StorageMap: model.StorageMap{}, TotalGas: new(big.Int)}
	paymasterDeposit := make(map[common.Address]*big.Int)
	stakedEntityCount := make(map[common.Address]int)
	sendersIncluded := make(map[common.Address]bool)

	for _, entry := range sorted {
		op := entry.UserOp
		factory, hasFactory := op.Factory()
		paymaster, hasPaymaster := op.Paymaster()

		if m.entityBanned(hasFactory, factory, hasPaymaster, paymaster) {
			m.pool.RemoveByHash(entry.UserOpHash)
			continue
		}
		if m.entityThrottledOrOverrepresented(hasFactory, factory, hasPaymaster, paymaster, stakedEntityCount) {
			continue
		}
		if sendersIncluded[op.Sender] {
			continue
		}

		outcome, verr := m.revalidator.Validate(ctx, model.ToRPC(op), m.cfg.EntryPoint)
		if verr != nil {
			m.log.Warn("bundle re-validation failed, dropping from mempool", "sender", op.Sender.Hex(), "err", verr)
			m.pool.RemoveByHash(entry.UserOpHash)
			continue
		}
		if outcome.ReferencedContracts.Hash != entry.ReferencedContracts.Hash {
			m.log.Warn("referenced contract bytecode changed since admission, dropping from mempool", "sender", op.Sender.Hex())
			m.pool.RemoveByHash(entry.UserOpHash)
			continue
		}

		if m.hasStorageConflict(op.Sender, outcome.ReferencedContracts.Addresses) {
			continue // retry in a later bundle, don't remove
		}

		userOpGasCost := new(big.Int).Add(outcome.PreOpGas, op.CallGasLimit)
		if new(big.Int).Add(built.TotalGas, userOpGasCost).Cmp(m.cfg.MaxBundleGas) > 0 {
			break
		}

		if hasPaymaster {
			if !m.admitPaymaster(ctx, paymaster, outcome.Prefund, paymasterDeposit) {
				continue
			}
			stakedEntityCount[paymaster]++
		}
		if hasFactory {
			stakedEntityCount[factory]++
		}

		built.StorageMap.Merge(outcome.StorageMap)
		if m.cfg.AccountRootMode {
			if proof, err := m.node.GetProof(ctx, op.Sender); err == nil {
				built.StorageMap[op.Sender] = &model.StorageSlotMap{Root: &proof.StorageHash}
			}
		}

		sendersIncluded[op.Sender] = true
		built.Ops = append(built.Ops, toBoundUserOp(op))
		built.Entries = append(built.Entries, entry)
		built.TotalGas.Add(built.TotalGas, userOpGasCost)
	}

	return built, nil
}

func (m *Manager) entityBanned(hasFactory bool, factory common.Address, hasPaymaster bool, paymaster common.Address) bool {
	if hasPaymaster && m.reputation.GetStatus(paymaster) == model.ReputationBanned {
		return true
	}
	if hasFactory && m.reputation.GetStatus(factory) == model.ReputationBanned {
		return true
	}
	return false
}

func (m *Manager) entityThrottledOrOverrepresented(hasFactory bool, factory common.Address, hasPaymaster bool, paymaster common.Address, stakedEntityCount map[common.Address]int) bool {
	if hasPaymaster && (m.reputation.GetStatus(paymaster) == model.ReputationThrottled || stakedEntityCount[paymaster] > maxSameEntityPerBundle) {
		return true
	}
	if hasFactory && (m.reputation.GetStatus(factory) == model.ReputationThrottled || stakedEntityCount[factory] > maxSameEntityPerBundle) {
		return true
	}
	return false
}

// hasStorageConflict reports whether the UO's second validation touched an
// address, other than its own sender, that is itself a known sender
// elsewhere in the mempool — two ops in the same bundle must never read or
// write each other's storage.
func (m *Manager) hasStorageConflict(sender common.Address, touched []common.Address) bool {
	for _, addr := range touched {
		if addr == sender {
			continue
		}
		if m.pool.IsKnownSender(addr) {
			return true
		}
	}
	return false
}

// admitPaymaster lazily reads a paymaster's EntryPoint deposit on first
// sight in this bundle, then tracks the remaining balance as prefunds are
// reserved against it.
func (m *Manager) admitPaymaster(ctx context.Context, paymaster common.Address, prefund *big.Int, paymasterDeposit map[common.Address]*big.Int) bool {
	remaining, ok := paymasterDeposit[paymaster]
	if !ok {
		deposit, err := m.deposits.BalanceOf(&bind.CallOpts{Context: ctx}, paymaster)
		if err != nil {
			m.log.Warn("failed to read paymaster deposit", "paymaster", paymaster.Hex(), "err", err)
			return false
		}
		remaining = deposit
	}
	if remaining.Cmp(prefund) < 0 {
		return false
	}
	paymasterDeposit[paymaster] = new(big.Int).Sub(remaining, prefund)
	return true
}

func toBoundUserOp(op *model.UserOperation) aa.UserOperation {
	return aa.UserOperation{
		Sender: op.Sender, Nonce: op.Nonce, InitCode: op.InitCode, CallData: op.CallData,
		CallGasLimit: op.CallGasLimit, VerificationGasLimit: op.VerificationGasLimit,
		PreVerificationGas: op.PreVerificationGas, MaxFeePerGas: op.MaxFeePerGas,
		MaxPriorityFeePerGas: op.MaxPriorityFeePerGas, PaymasterAndData: op.PaymasterAndData,
		Signature: op.Signature,
	}
}

// SendResult is the helper bundle response: the handleOps transaction hash
// plus the hashes of every UserOperation it carried.
type SendResult struct {
	TransactionHash common.Hash
	UserOpHashes    []common.Hash
}

// Send signs and dispatches built as a single handleOps transaction, per
// §4.6's beneficiary-selection and conditional-RPC rules.
func (m *Manager) Send(ctx context.Context, built *Built) (*SendResult, error) {
	if len(built.Ops) == 0 {
		return &SendResult{}, nil
	}

	beneficiary := m.cfg.Beneficiary
	balance, err := m.node.BalanceAt(ctx, m.signer.From)
	if err == nil && balance.Cmp(m.cfg.MinSignerBalance) <= 0 {
		beneficiary = m.signer.From
	}

	maxFeePerGas, maxPriorityFeePerGas, err := m.fees(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest fee: %w", err)
	}

	opts := *m.signer
	opts.Context = ctx
	opts.GasLimit = 10_000_000
	opts.GasFeeCap = maxFeePerGas
	opts.GasTipCap = maxPriorityFeePerGas
	opts.NoSend = true

	tx, err := m.transactor.HandleOps(&opts, built.Ops, beneficiary)
	if err != nil {
		return nil, fmt.Errorf("build handleOps transaction: %w", err)
	}

	var txHash common.Hash
	if m.cfg.ConditionalRPC {
		txHash, err = m.node.SendRawTransactionConditional(ctx, tx, built.StorageMap)
	} else {
		err = m.node.SendRawTransaction(ctx, tx)
		txHash = tx.Hash()
	}
	if err != nil {
		m.log.Warn("bundle send failed", "bundleId", built.ID.String(), "err", err)
		return m.handleSendFailure(tx, built, err)
	}

	for _, entry := range built.Entries {
		m.creditInclusion(entry)
	}
	hashes := lo.Map(built.Entries, func(entry *model.MempoolEntry, _ int) common.Hash {
		return entry.UserOpHash
	})
	m.log.Info("bundle sent", "bundleId", built.ID.String(), "txHash", txHash.Hex(), "opCount", len(hashes))
	return &SendResult{TransactionHash: txHash, UserOpHashes: hashes}, nil
}

func (m *Manager) creditInclusion(entry *model.MempoolEntry) {
	op := entry.UserOp
	if err := m.reputation.UpdateIncludedStatus(op.Sender); err != nil {
		m.log.Warn("failed to credit sender inclusion", "sender", op.Sender.Hex(), "err", err)
	}
	if paymaster, ok := op.Paymaster(); ok {
		if err := m.reputation.UpdateIncludedStatus(paymaster); err != nil {
			m.log.Warn("failed to credit paymaster inclusion", "paymaster", paymaster.Hex(), "err", err)
		}
	}
}

// handleSendFailure implements §4.6's failure attribution: a decoded
// FailedOp(opIndex, reason) blames the entity the AA error-code prefix
// names, and a FailedOp without such a prefix removes the one op that
// failed. A send error that does not decode to a FailedOp is returned as is,
// with nothing removed; every path returns an error.
func (m *Manager) handleSendFailure(tx *types.Transaction, built *Built, sendErr error) (*SendResult, error) {
	data, ok := revertDataFrom(sendErr)
	if !ok {
		return nil, fmt.Errorf("dispatch handleOps: %w", sendErr)
	}
	outcome, err := validation.DecodeSimulationRevert(data)
	if err != nil || !outcome.IsFailedOp() {
		return nil, fmt.Errorf("dispatch handleOps: %w", sendErr)
	}

	idx := int(outcome.FailedOpIndex.Int64())
	if idx < 0 || idx >= len(built.Entries) {
		return nil, fmt.Errorf("handleOps FailedOp index %d out of range", idx)
	}
	entry := built.Entries[idx]
	op := entry.UserOp
	reason := outcome.FailedOpReason

	switch {
	case strings.HasPrefix(reason, "AA1"):
		if factory, ok := op.Factory(); ok {
			_ = m.reputation.CrashedHandleOps(factory)
		}
	case strings.HasPrefix(reason, "AA2"):
		_ = m.reputation.CrashedHandleOps(op.Sender)
	case strings.HasPrefix(reason, "AA3"):
		if paymaster, ok := op.Paymaster(); ok {
			_ = m.reputation.CrashedHandleOps(paymaster)
		}
	default:
		// No entity could be blamed by the AA error-code prefix, so the op
		// itself is removed rather than left to fail the same way again.
		m.pool.RemoveByHash(entry.UserOpHash)
	}

	return nil, fmt.Errorf("handleOps reverted on op %d: %s", idx, reason)
}

func revertDataFrom(err error) ([]byte, bool) {
	type dataError interface{ ErrorData() interface{} }
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
