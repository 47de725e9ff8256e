package validation

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/allegro/bigcache/v3"

	"github.com/erc4337/aa-bundler/core/tracer"
	"github.com/erc4337/aa-bundler/model"
	"github.com/erc4337/aa-bundler/pkg/logger"
)

// node is the subset of *core/node.Client the Manager depends on; kept as an
// interface so tests can fake a chain without dialing one.
type node interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
	DebugTraceCall(ctx context.Context, msg ethereum.CallMsg, blockNumber string, tracerJS string) (json.RawMessage, error)
}

// stakes resolves an address's current EntryPoint deposit/stake, used to
// decide whether an entity is exempt from the associated-storage rule.
type stakes interface {
	IsStaked(ctx context.Context, addr common.Address) (bool, error)
}

// validAfterBuffer is the margin (§4.3.3) a UserOperation's validUntil must
// clear before the bundler will accept it: one that expires within this
// window is rejected even though it currently validates, since it may no
// longer be valid by the time a bundle lands.
const validAfterBuffer = 30 * time.Second

// Manager runs the full §4.3 validation pipeline: input checks, on-chain
// simulateValidation (its result always decoded from an eth_call; outside
// unsafe mode a debug_traceCall also runs and its frames feed the
// opcode/storage rule enforcement), and the post-simulation acceptance
// checks.
type Manager struct {
	node        node
	stakes      stakes
	entryPoint  common.Address
	unsafe      bool
	codeCache   *bigcache.BigCache
	log         logger.Logger
}

func New(n node, s stakes, entryPoint common.Address, unsafe bool, codeCache *bigcache.BigCache, lgr logger.Logger) *Manager {
	return &Manager{
		node:       n,
		stakes:     s,
		entryPoint: entryPoint,
		unsafe:     unsafe,
		codeCache:  codeCache,
		log:        logger.EnsureLogger(lgr),
	}
}

// Outcome is everything the caller (rpcserver/mempool) needs to accept a
// UserOperation: its computed prefund and the fingerprint of every contract
// the validation touched, for later re-validation.
type Outcome struct {
	Prefund             *big.Int
	PreOpGas            *big.Int
	ReferencedContracts model.ReferencedContracts
	StorageMap          model.StorageMap
	Aggregator          *common.Address
}

// Validate runs §4.3.1 (CheckInput), §4.3.2 (simulateValidation) and, unless
// running in unsafe mode, §4.3.2b (opcode/storage rule enforcement over the
// debug_traceCall frames), then §4.3.3's post-simulation checks.
func (m *Manager) Validate(ctx context.Context, rpcOp *model.RPCUserOperation, gotEntryPoint common.Address) (*Outcome, *Error) {
	op, err := model.FromRPC(rpcOp)
	if err != nil {
		return nil, invalidParams("%s", err)
	}

	if verr := CheckInput(rpcOp, op, m.entryPoint, gotEntryPoint); verr != nil {
		return nil, verr
	}

	data, err := PackSimulateValidation(op)
	if err != nil {
		return nil, simulateFailed("encode simulateValidation: %s", err)
	}
	callMsg := CallMsgFor(m.entryPoint, data)

	if m.unsafe {
		outcome, verr := m.simulateUnsafe(ctx, callMsg)
		if verr != nil {
			return nil, verr
		}
		return m.finish(op, outcome)
	}

	raw, err := m.node.DebugTraceCall(ctx, callMsg, "latest", tracer.Program)
	if err != nil {
		return nil, simulateFailed("debug_traceCall: %s", err)
	}
	frames, err := tracer.Parse(raw)
	if err != nil {
		return nil, simulateFailed("parse trace: %s", err)
	}

	outcome, verr := m.simulateUnsafe(ctx, callMsg)
	if verr != nil {
		return nil, verr
	}

	entities := m.entities(op)
	staked := m.stakedSet(ctx, entities)
	touched, storageMap, verr := CheckFrames(frames, m.entryPoint, entities, staked)
	if verr != nil {
		return nil, verr
	}

	fingerprint, verr := m.fingerprint(ctx, touched)
	if verr != nil {
		return nil, verr
	}

	return m.finishWithContracts(op, outcome, model.ReferencedContracts{Addresses: touched, Hash: fingerprint}, storageMap)
}

// simulateUnsafe performs a plain eth_call and decodes its revert payload.
// It is the whole simulation in unsafe mode, and the safe path also calls it
// to decode the result after the traced run.
func (m *Manager) simulateUnsafe(ctx context.Context, callMsg ethereum.CallMsg) (*SimulationOutcome, *Error) {
	_, err := m.node.CallContract(ctx, callMsg)
	if err == nil {
		return nil, simulateFailed("simulateValidation did not revert")
	}
	data, ok := revertData(err)
	if !ok {
		return nil, simulateFailed("simulateValidation failed: %s", err)
	}
	outcome, derr := DecodeSimulationRevert(data)
	if derr != nil {
		return nil, simulateFailed("decode simulateValidation revert: %s", derr)
	}
	if outcome.IsFailedOp() {
		return nil, simulateFailed("FailedOp(%s): %s", outcome.FailedOpIndex, outcome.FailedOpReason)
	}
	return outcome, nil
}

func (m *Manager) entities(op *model.UserOperation) []Entity {
	entities := []Entity{{Role: "sender", Addr: op.Sender}}
	if factory, ok := op.Factory(); ok {
		entities = append(entities, Entity{Role: "factory", Addr: factory})
	}
	if paymaster, ok := op.Paymaster(); ok {
		entities = append(entities, Entity{Role: "paymaster", Addr: paymaster})
	}
	return entities
}

func (m *Manager) stakedSet(ctx context.Context, entities []Entity) map[common.Address]bool {
	staked := make(map[common.Address]bool, len(entities))
	if m.stakes == nil {
		return staked
	}
	for _, e := range entities {
		ok, err := m.stakes.IsStaked(ctx, e.Addr)
		if err != nil {
			m.log.Warn("failed to resolve stake status", "address", e.Addr.Hex(), "err", err)
			continue
		}
		staked[e.Addr] = ok
	}
	return staked
}

// fingerprint hashes the concatenated bytecode of every touched address, so
// a later re-validation can detect that one of them was redeployed via
// CREATE2 with different logic (§4.3.4).
func (m *Manager) fingerprint(ctx context.Context, addrs []common.Address) (common.Hash, *Error) {
	var all []byte
	for _, addr := range addrs {
		code, err := m.codeAtCached(ctx, addr)
		if err != nil {
			return common.Hash{}, simulateFailed("fetch code for %s: %s", addr.Hex(), err)
		}
		all = append(all, code...)
	}
	return hashBytes(all), nil
}

func (m *Manager) codeAtCached(ctx context.Context, addr common.Address) ([]byte, error) {
	key := addr.Hex()
	if m.codeCache != nil {
		if cached, err := m.codeCache.Get(key); err == nil {
			return cached, nil
		}
	}
	code, err := m.node.CodeAt(ctx, addr)
	if err != nil {
		return nil, err
	}
	if m.codeCache != nil {
		_ = m.codeCache.Set(key, code)
	}
	return code, nil
}

func (m *Manager) finish(op *model.UserOperation, outcome *SimulationOutcome) (*Outcome, *Error) {
	return m.finishWithContracts(op, outcome, model.ReferencedContracts{}, nil)
}

// finishWithContracts applies §4.3.3's post-simulation checks: signature
// validity, the validUntil/validAfter time window (with its acceptance
// buffer), the aggregator being unset (an op whose simulation reports an
// aggregator is rejected here), and the verification gas margin.
func (m *Manager) finishWithContracts(op *model.UserOperation, outcome *SimulationOutcome, refs model.ReferencedContracts, storageMap model.StorageMap) (*Outcome, *Error) {
	if outcome.ReturnInfo.SigFailed {
		return nil, invalidSignature("signature validation failed for sender %s", op.Sender.Hex())
	}

	now := time.Now()
	if outcome.ReturnInfo.ValidUntil > 0 {
		validUntil := time.Unix(int64(outcome.ReturnInfo.ValidUntil), 0)
		if now.Add(validAfterBuffer).After(validUntil) {
			return nil, notInTimeRange("userOp expires at %s, inside the %s acceptance buffer", validUntil, validAfterBuffer)
		}
	}
	if outcome.ReturnInfo.ValidAfter > 0 {
		validAfter := time.Unix(int64(outcome.ReturnInfo.ValidAfter), 0)
		if now.Before(validAfter) {
			return nil, notInTimeRange("userOp not valid until %s", validAfter)
		}
	}

	margin := new(big.Int).Sub(outcome.ReturnInfo.PreOpGas, op.PreVerificationGas)
	margin.Sub(op.VerificationGasLimit, margin)
	if margin.Cmp(big.NewInt(2000)) < 0 {
		return nil, simulateFailed("verificationGasLimit leaves insufficient margin (%s) over preOpGas", margin)
	}

	var aggregator *common.Address
	if outcome.HasAggregator {
		return nil, unsupportedAggregator("sender %s requires an aggregator, which this bundler does not support", op.Sender.Hex())
	}

	return &Outcome{
		Prefund:             outcome.ReturnInfo.Prefund,
		PreOpGas:            outcome.ReturnInfo.PreOpGas,
		ReferencedContracts: refs,
		StorageMap:          storageMap,
		Aggregator:          aggregator,
	}, nil
}

func hashBytes(b []byte) common.Hash {
	return crypto.Keccak256Hash(b)
}
