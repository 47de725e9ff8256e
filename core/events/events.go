// Package events implements component G: replaying EntryPoint logs to keep
// the mempool and reputation table in sync with what actually landed
// on-chain, plus a live subscription so UserOperationEvent removals don't
// wait for the next poll.
package events

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/erc4337/aa-bundler/core/chainio/aa"
	"github.com/erc4337/aa-bundler/model"
	"github.com/erc4337/aa-bundler/pkg/logger"
	"github.com/erc4337/aa-bundler/storage"
)

// initialLookback is how many blocks behind the chain head the cursor
// starts at the first time this EntryPoint has never been scanned.
const initialLookback = 1000

const cursorKey = "events:cursor:lastBlock"
const recordPrefix = "events:record:"

// chainNode is the subset of *core/node.Client the manager needs to poll
// and subscribe to EntryPoint logs.
type chainNode interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// mempoolSink is the subset of *core/mempool.Pool the manager updates.
type mempoolSink interface {
	Get(userOpHash common.Hash) (*model.MempoolEntry, bool)
	RemoveByHash(userOpHash common.Hash) bool
}

// reputationSink is the subset of *core/reputation.Manager the manager credits.
type reputationSink interface {
	UpdateIncludedStatus(addr common.Address) error
}

// Manager is component G: the Events Manager.
type Manager struct {
	db         storage.Storage
	node       chainNode
	mempool    mempoolSink
	reputation reputationSink
	entryPoint common.Address
	filterer   *aa.EntryPointFilterer
	log        logger.Logger
}

func New(db storage.Storage, n chainNode, mempool mempoolSink, reputation reputationSink, entryPoint common.Address, lgr logger.Logger) (*Manager, error) {
	filterer, err := aa.NewEntryPointFilterer(entryPoint, nil)
	if err != nil {
		return nil, fmt.Errorf("bind EntryPoint filterer: %w", err)
	}
	return &Manager{
		db:         db,
		node:       n,
		mempool:    mempool,
		reputation: reputation,
		entryPoint: entryPoint,
		filterer:   filterer,
		log:        logger.EnsureLogger(lgr),
	}, nil
}

func (m *Manager) lastBlock(ctx context.Context) (uint64, error) {
	raw, err := m.db.GetKey([]byte(cursorKey))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return m.initialCursor(ctx)
		}
		return 0, err
	}
	if len(raw) != 8 {
		return m.initialCursor(ctx)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (m *Manager) initialCursor(ctx context.Context) (uint64, error) {
	latest, err := m.node.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve chain head for initial cursor: %w", err)
	}
	if latest < initialLookback {
		return 0, nil
	}
	return latest - initialLookback, nil
}

func (m *Manager) setLastBlock(n uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return m.db.Set([]byte(cursorKey), buf)
}

// HandlePastEvents queries [lastBlock, latest] for UserOperationEvent and
// AccountDeployed logs and dispatches each in block order, advancing the
// cursor past every event it successfully handles.
func (m *Manager) HandlePastEvents(ctx context.Context) error {
	from, err := m.lastBlock(ctx)
	if err != nil {
		return err
	}
	latest, err := m.node.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("resolve chain head: %w", err)
	}
	if latest < from {
		return nil
	}

	logs, err := m.node.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{m.entryPoint},
		FromBlock: blockNumberBig(from),
		ToBlock:   blockNumberBig(latest),
	})
	if err != nil {
		return fmt.Errorf("filter EntryPoint logs: %w", err)
	}
	sortLogsByPosition(logs)

	for _, lg := range logs {
		if err := m.handleLog(lg); err != nil {
			m.log.Warn("failed to handle EntryPoint log, leaving cursor behind it", "txHash", lg.TxHash.Hex(), "err", err)
			return err
		}
		if err := m.setLastBlock(lg.BlockNumber + 1); err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
	}
	return nil
}

func (m *Manager) handleLog(lg types.Log) error {
	if len(lg.Topics) == 0 {
		return nil
	}
	switch {
	case m.isEvent(lg, "UserOperationEvent"):
		return m.handleUserOperationEvent(lg)
	case m.isEvent(lg, "AccountDeployed"):
		return m.handleAccountDeployed(lg)
	default:
		return nil
	}
}

func (m *Manager) isEvent(lg types.Log, name string) bool {
	parsed, err := aa.EntryPointMetaData.GetAbi()
	if err != nil {
		return false
	}
	def, ok := parsed.Events[name]
	if !ok {
		return false
	}
	return len(lg.Topics) > 0 && lg.Topics[0] == def.ID
}

func (m *Manager) handleUserOperationEvent(lg types.Log) error {
	ev, err := m.filterer.ParseUserOperationEvent(lg)
	if err != nil {
		return fmt.Errorf("parse UserOperationEvent: %w", err)
	}
	userOpHash := common.Hash(ev.UserOpHash)
	entry, _ := m.mempool.Get(userOpHash)
	m.mempool.RemoveByHash(userOpHash)

	if err := m.reputation.UpdateIncludedStatus(ev.Sender); err != nil {
		m.log.Warn("failed to credit sender inclusion", "sender", ev.Sender.Hex(), "err", err)
	}
	if ev.Paymaster != (common.Address{}) {
		if err := m.reputation.UpdateIncludedStatus(ev.Paymaster); err != nil {
			m.log.Warn("failed to credit paymaster inclusion", "paymaster", ev.Paymaster.Hex(), "err", err)
		}
	}

	var op *model.UserOperation
	if entry != nil {
		op = entry.UserOp
	}
	record := &model.InclusionRecord{
		UserOpHash:      userOpHash,
		UserOp:          op,
		Sender:          ev.Sender,
		Nonce:           ev.Nonce,
		Paymaster:       ev.Paymaster,
		Success:         ev.Success,
		ActualGasCost:   ev.ActualGasCost,
		ActualGasUsed:   ev.ActualGasUsed,
		TransactionHash: lg.TxHash,
		BlockHash:       lg.BlockHash,
		BlockNumber:     lg.BlockNumber,
	}
	return m.persistRecord(record)
}

func (m *Manager) handleAccountDeployed(lg types.Log) error {
	ev, err := m.filterer.ParseAccountDeployed(lg)
	if err != nil {
		return fmt.Errorf("parse AccountDeployed: %w", err)
	}
	if err := m.reputation.UpdateIncludedStatus(ev.Factory); err != nil {
		m.log.Warn("failed to credit factory inclusion", "factory", ev.Factory.Hex(), "err", err)
	}
	return nil
}

func (m *Manager) persistRecord(record *model.InclusionRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal inclusion record: %w", err)
	}
	return m.db.Set(recordKey(record.UserOpHash), raw)
}

// GetRecord returns the persisted inclusion record for userOpHash, if any.
func (m *Manager) GetRecord(userOpHash common.Hash) (*model.InclusionRecord, bool, error) {
	raw, err := m.db.GetKey(recordKey(userOpHash))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var record model.InclusionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, false, fmt.Errorf("unmarshal inclusion record: %w", err)
	}
	return &record, true, nil
}

func recordKey(userOpHash common.Hash) []byte {
	return []byte(recordPrefix + userOpHash.Hex())
}

// Subscribe attaches a live UserOperationEvent subscription so a removal
// doesn't have to wait for the next HandlePastEvents poll. Failing to set up
// the subscription is returned to the caller. Once running, it ends when ctx
// is canceled or the subscription reports an error (which is logged); an
// error handling one event is logged and the loop continues.
func (m *Manager) Subscribe(ctx context.Context) error {
	parsed, err := aa.EntryPointMetaData.GetAbi()
	if err != nil {
		return err
	}
	ch := make(chan types.Log, 32)
	sub, err := m.node.SubscribeFilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{m.entryPoint},
		Topics:    [][]common.Hash{{parsed.Events["UserOperationEvent"].ID}},
	}, ch)
	if err != nil {
		return fmt.Errorf("subscribe UserOperationEvent: %w", err)
	}

	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				if err != nil {
					m.log.Warn("UserOperationEvent subscription error", "err", err)
				}
				return
			case lg := <-ch:
				if err := m.handleUserOperationEvent(lg); err != nil {
					m.log.Warn("failed to handle subscribed UserOperationEvent", "txHash", lg.TxHash.Hex(), "err", err)
					continue
				}
				if err := m.setLastBlock(lg.BlockNumber + 1); err != nil {
					m.log.Warn("failed to advance cursor from subscription", "err", err)
				}
			}
		}
	}()
	return nil
}

func blockNumberBig(n uint64) *big.Int { return new(big.Int).SetUint64(n) }

func sortLogsByPosition(logs []types.Log) {
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
}
