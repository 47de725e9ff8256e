package events

import (
	"context"
	"io"
	"math/big"
	"strings"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/erc4337/aa-bundler/core/chainio/aa"
	"github.com/erc4337/aa-bundler/model"
	"github.com/erc4337/aa-bundler/storage"
)

// fakeStorage is an in-memory stand-in for storage.Storage; only the
// key/value methods the events Manager actually calls are functional.
type fakeStorage struct {
	kv map[string][]byte
}

func newFakeStorage() *fakeStorage { return &fakeStorage{kv: make(map[string][]byte)} }

func (f *fakeStorage) Setup() error { return nil }
func (f *fakeStorage) Close() error { return nil }
func (f *fakeStorage) GetSequence(prefix []byte, inflightItem uint64) (storage.Sequence, error) {
	return nil, nil
}
func (f *fakeStorage) Exist(key []byte) (bool, error) {
	_, ok := f.kv[string(key)]
	return ok, nil
}
func (f *fakeStorage) GetKey(key []byte) ([]byte, error) { return f.kv[string(key)], nil }
func (f *fakeStorage) GetByPrefix(prefix []byte) ([]*storage.KeyValueItem, error) {
	var out []*storage.KeyValueItem
	for k, v := range f.kv {
		if strings.HasPrefix(k, string(prefix)) {
			out = append(out, &storage.KeyValueItem{Key: []byte(k), Value: v})
		}
	}
	return out, nil
}
func (f *fakeStorage) GetKeyHasPrefix(prefix []byte) ([][]byte, error) { return nil, nil }
func (f *fakeStorage) FirstKVHasPrefix(prefix []byte) ([]byte, []byte, error) {
	return nil, nil, nil
}
func (f *fakeStorage) ListKeys(prefix string) ([]string, error)             { return nil, nil }
func (f *fakeStorage) ListKeysMulti(prefixes []string) ([]string, error)    { return nil, nil }
func (f *fakeStorage) CountKeysByPrefix(prefix []byte) (int64, error)       { return 0, nil }
func (f *fakeStorage) CountKeysByPrefixes(prefixes [][]byte) (int64, error) { return 0, nil }
func (f *fakeStorage) BatchWrite(updates map[string][]byte) error {
	for k, v := range updates {
		f.kv[k] = v
	}
	return nil
}
func (f *fakeStorage) Move(src, dest []byte) error { return nil }
func (f *fakeStorage) Set(key, value []byte) error {
	f.kv[string(key)] = value
	return nil
}
func (f *fakeStorage) Delete(key []byte) error {
	delete(f.kv, string(key))
	return nil
}
func (f *fakeStorage) GetCounter(key []byte, defaultValue ...uint64) (uint64, error) { return 0, nil }
func (f *fakeStorage) IncCounter(key []byte, defaultValue ...uint64) (uint64, error) { return 0, nil }
func (f *fakeStorage) SetCounter(key []byte, value uint64) error                     { return nil }
func (f *fakeStorage) Vacuum() error                                                 { return nil }
func (f *fakeStorage) Backup(ctx context.Context, w io.Writer, since uint64) (uint64, error) {
	return 0, nil
}
func (f *fakeStorage) Load(ctx context.Context, r io.Reader) error { return nil }
func (f *fakeStorage) DbPath() string                              { return "" }

type fakeChainNode struct {
	head uint64
	logs []types.Log
}

func (f *fakeChainNode) BlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }
func (f *fakeChainNode) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return f.logs, nil
}
func (f *fakeChainNode) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, nil
}

type fakeMempool struct {
	entries map[common.Hash]*model.MempoolEntry
	removed []common.Hash
}

func (f *fakeMempool) Get(h common.Hash) (*model.MempoolEntry, bool) {
	entry, ok := f.entries[h]
	return entry, ok
}

func (f *fakeMempool) RemoveByHash(h common.Hash) bool {
	f.removed = append(f.removed, h)
	return true
}

type fakeReputation struct{ credited []common.Address }

func (f *fakeReputation) UpdateIncludedStatus(addr common.Address) error {
	f.credited = append(f.credited, addr)
	return nil
}

func userOperationEventLog(t *testing.T, userOpHash common.Hash, sender, paymaster common.Address, nonce int64, success bool, gasCost, gasUsed int64, blockNumber uint64, txHash common.Hash) types.Log {
	t.Helper()
	parsed, err := aa.EntryPointMetaData.GetAbi()
	if err != nil {
		t.Fatalf("GetAbi: %v", err)
	}
	ev := parsed.Events["UserOperationEvent"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(nonce), success, big.NewInt(gasCost), big.NewInt(gasUsed))
	if err != nil {
		t.Fatalf("pack UserOperationEvent data: %v", err)
	}
	return types.Log{
		Address: common.HexToAddress("0xe9"),
		Topics: []common.Hash{
			ev.ID,
			userOpHash,
			common.BytesToHash(sender.Bytes()),
			common.BytesToHash(paymaster.Bytes()),
		},
		Data:        data,
		BlockNumber: blockNumber,
		TxHash:      txHash,
	}
}

func accountDeployedLog(t *testing.T, userOpHash common.Hash, sender, factory, paymaster common.Address, blockNumber uint64) types.Log {
	t.Helper()
	parsed, err := aa.EntryPointMetaData.GetAbi()
	if err != nil {
		t.Fatalf("GetAbi: %v", err)
	}
	ev := parsed.Events["AccountDeployed"]
	data, err := ev.Inputs.NonIndexed().Pack(factory, paymaster)
	if err != nil {
		t.Fatalf("pack AccountDeployed data: %v", err)
	}
	return types.Log{
		Address: common.HexToAddress("0xe9"),
		Topics: []common.Hash{
			ev.ID,
			userOpHash,
			common.BytesToHash(sender.Bytes()),
		},
		Data:        data,
		BlockNumber: blockNumber,
	}
}

func TestHandlePastEvents_UserOperationEventRemovesAndCredits(t *testing.T) {
	db := newFakeStorage()
	sender := common.HexToAddress("0x1111")
	paymaster := common.HexToAddress("0x2222")
	userOpHash := common.HexToHash("0xaaaa")
	lg := userOperationEventLog(t, userOpHash, sender, paymaster, 1, true, 1000, 900, 50, common.HexToHash("0xbeef"))

	node := &fakeChainNode{head: 100, logs: []types.Log{lg}}
	pool := &fakeMempool{}
	rep := &fakeReputation{}

	m, err := New(db, node, pool, rep, common.HexToAddress("0xe9"), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.HandlePastEvents(context.Background()); err != nil {
		t.Fatalf("HandlePastEvents: %v", err)
	}

	if len(pool.removed) != 1 || pool.removed[0] != userOpHash {
		t.Errorf("expected removal of %s, got %v", userOpHash, pool.removed)
	}
	if len(rep.credited) != 2 || rep.credited[0] != sender || rep.credited[1] != paymaster {
		t.Errorf("expected sender and paymaster credited, got %v", rep.credited)
	}

	record, ok, err := m.GetRecord(userOpHash)
	if err != nil || !ok {
		t.Fatalf("GetRecord: ok=%v err=%v", ok, err)
	}
	if record.Sender != sender || !record.Success || record.ActualGasCost.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("unexpected record: %+v", record)
	}

	cursor, err := m.lastBlock(context.Background())
	if err != nil {
		t.Fatalf("lastBlock: %v", err)
	}
	if cursor != lg.BlockNumber+1 {
		t.Errorf("cursor = %d, want %d", cursor, lg.BlockNumber+1)
	}
}

func TestHandlePastEvents_AccountDeployedCreditsFactory(t *testing.T) {
	db := newFakeStorage()
	sender := common.HexToAddress("0x1111")
	factory := common.HexToAddress("0x3333")
	lg := accountDeployedLog(t, common.HexToHash("0xaaaa"), sender, factory, common.Address{}, 10)

	node := &fakeChainNode{head: 20, logs: []types.Log{lg}}
	pool := &fakeMempool{}
	rep := &fakeReputation{}

	m, err := New(db, node, pool, rep, common.HexToAddress("0xe9"), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.HandlePastEvents(context.Background()); err != nil {
		t.Fatalf("HandlePastEvents: %v", err)
	}
	if len(rep.credited) != 1 || rep.credited[0] != factory {
		t.Errorf("expected factory credited, got %v", rep.credited)
	}
}

func TestLastBlock_InitialCursorLooksBack1000(t *testing.T) {
	db := newFakeStorage()
	node := &fakeChainNode{head: 5000}
	m, err := New(db, node, &fakeMempool{}, &fakeReputation{}, common.HexToAddress("0xe9"), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cursor, err := m.lastBlock(context.Background())
	if err != nil {
		t.Fatalf("lastBlock: %v", err)
	}
	if cursor != 4000 {
		t.Errorf("cursor = %d, want 4000", cursor)
	}
}
