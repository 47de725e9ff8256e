package reputation

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/erc4337/aa-bundler/model"
	"github.com/erc4337/aa-bundler/storage"
)

// fakeStorage is an in-memory stand-in for storage.Storage; only the
// key/value methods reputation.Manager actually calls are functional.
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

var testAddr = common.HexToAddress("0x3333333333333333333333333333333333333333")

func TestManager_GetStatus_UnknownAddressIsOK(t *testing.T) {
	m, err := New(newFakeStorage(), BundlerProfile, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if status := m.GetStatus(testAddr); status != 0 {
		t.Errorf("status = %v, want OK", status)
	}
}

func TestManager_GetStatus_WhitelistOverridesCounters(t *testing.T) {
	m, err := New(newFakeStorage(), BundlerProfile, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.SetBlacklisted(testAddr, true)
	m.SetWhitelisted(testAddr, true)
	if status := m.GetStatus(testAddr); status != 0 {
		t.Errorf("whitelisted address should be OK, got %v", status)
	}
}

func TestManager_GetStatus_BlacklistIsBanned(t *testing.T) {
	m, err := New(newFakeStorage(), BundlerProfile, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.SetBlacklisted(testAddr, true)
	if status := m.GetStatus(testAddr); status != 2 {
		t.Errorf("blacklisted address should be BANNED, got %v", status)
	}
}

func TestManager_SeenWithoutInclusionEventuallyBans(t *testing.T) {
	m, err := New(newFakeStorage(), BundlerProfile, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// BundlerProfile: minInclusionDenom=10, throttlingSlack=10, banSlack=50.
	// 650 seen / 10 = 65 expected inclusions; 0 actual inclusions puts it
	// past banSlack(50), so it should be BANNED.
	for i := 0; i < 650; i++ {
		if err := m.UpdateSeenStatus(testAddr); err != nil {
			t.Fatalf("UpdateSeenStatus: %v", err)
		}
	}
	if status := m.GetStatus(testAddr); status != 2 {
		t.Errorf("status = %v, want BANNED", status)
	}
}

func TestManager_InclusionKeepsStatusOK(t *testing.T) {
	m, err := New(newFakeStorage(), BundlerProfile, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 100; i++ {
		_ = m.UpdateSeenStatus(testAddr)
		_ = m.UpdateIncludedStatus(testAddr)
	}
	if status := m.GetStatus(testAddr); status != 0 {
		t.Errorf("status = %v, want OK", status)
	}
}

func TestManager_CrashedHandleOpsZeroesInclusion(t *testing.T) {
	m, err := New(newFakeStorage(), BundlerProfile, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 50; i++ {
		_ = m.UpdateSeenStatus(testAddr)
		_ = m.UpdateIncludedStatus(testAddr)
	}
	if err := m.CrashedHandleOps(testAddr); err != nil {
		t.Fatalf("CrashedHandleOps: %v", err)
	}
	entry := m.entries[testAddr]
	if entry.OpsIncluded != 0 {
		t.Errorf("opsIncluded = %d, want 0", entry.OpsIncluded)
	}
	if entry.OpsSeen < 10050 {
		t.Errorf("opsSeen = %d, want >= 10050", entry.OpsSeen)
	}
}

type fakeMetrics struct {
	transitions [][2]string
}

func (f *fakeMetrics) IncReputationTransition(from, to string) {
	f.transitions = append(f.transitions, [2]string{from, to})
}

func TestManager_CrashedHandleOpsReportsTransition(t *testing.T) {
	m, err := New(newFakeStorage(), BundlerProfile, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fm := &fakeMetrics{}
	m.SetMetrics(fm)

	if err := m.CrashedHandleOps(testAddr); err != nil {
		t.Fatalf("CrashedHandleOps: %v", err)
	}

	if len(fm.transitions) != 1 {
		t.Fatalf("transitions = %v, want exactly 1", fm.transitions)
	}
	if got := fm.transitions[0]; got[0] != model.ReputationOK.String() || got[1] != model.ReputationBanned.String() {
		t.Errorf("transition = %v, want OK->BANNED", got)
	}
}

func TestManager_SetMetrics_NilIsIgnored(t *testing.T) {
	m, err := New(newFakeStorage(), BundlerProfile, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.SetMetrics(nil)
	if err := m.UpdateSeenStatus(testAddr); err != nil {
		t.Fatalf("UpdateSeenStatus: %v", err)
	}
}

func TestManager_HourlyCronDecaysAndDropsZeroed(t *testing.T) {
	m, err := New(newFakeStorage(), BundlerProfile, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = m.UpdateSeenStatus(testAddr) // opsSeen=1, opsIncluded=0

	if err := m.HourlyCron(); err != nil {
		t.Fatalf("HourlyCron: %v", err)
	}
	if _, ok := m.entries[testAddr]; ok {
		t.Error("entry with opsSeen=1 should decay to 0 and be dropped")
	}
}

func TestManager_PersistenceRoundTrip(t *testing.T) {
	db := newFakeStorage()
	m1, err := New(db, BundlerProfile, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 5; i++ {
		_ = m1.UpdateSeenStatus(testAddr)
	}

	m2, err := New(db, BundlerProfile, nil)
	if err != nil {
		t.Fatalf("New (reload): %v", err)
	}
	entry := m2.entries[testAddr]
	if entry == nil || entry.OpsSeen != 5 {
		t.Fatalf("reloaded entry = %+v, want opsSeen=5", entry)
	}
}

func TestManager_CalculateMaxAllowedMempoolOpsUnstaked_DefaultsToTen(t *testing.T) {
	m, err := New(newFakeStorage(), BundlerProfile, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := m.CalculateMaxAllowedMempoolOpsUnstaked(testAddr); got != 10 {
		t.Errorf("got %d, want 10", got)
	}
}

func TestManager_CalculateMaxAllowedMempoolOpsUnstaked_GrowsWithInclusion(t *testing.T) {
	m, err := New(newFakeStorage(), BundlerProfile, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 10; i++ {
		_ = m.UpdateSeenStatus(testAddr)
		_ = m.UpdateIncludedStatus(testAddr)
	}
	got := m.CalculateMaxAllowedMempoolOpsUnstaked(testAddr)
	if got <= 10 {
		t.Errorf("fully-included address should get a quota above the base 10, got %d", got)
	}
}

func TestManager_DumpEntries(t *testing.T) {
	m, err := New(newFakeStorage(), BundlerProfile, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = m.UpdateSeenStatus(testAddr)

	dump := m.DumpEntries()
	if len(dump) != 1 || dump[0].Address != testAddr || dump[0].OpsSeen != 1 {
		t.Errorf("DumpEntries = %+v, want a single entry for %s with opsSeen=1", dump, testAddr.Hex())
	}
}

func TestManager_SetEntries(t *testing.T) {
	db := newFakeStorage()
	m, err := New(db, BundlerProfile, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.SetEntries([]model.ReputationEntry{{Address: testAddr, OpsSeen: 50, OpsIncluded: 40}}); err != nil {
		t.Fatalf("SetEntries: %v", err)
	}

	m2, err := New(db, BundlerProfile, nil)
	if err != nil {
		t.Fatalf("New (reload): %v", err)
	}
	entry := m2.entries[testAddr]
	if entry == nil || entry.OpsSeen != 50 || entry.OpsIncluded != 40 {
		t.Fatalf("reloaded entry = %+v, want opsSeen=50 opsIncluded=40", entry)
	}
}

func TestManager_Clear(t *testing.T) {
	db := newFakeStorage()
	m, err := New(db, BundlerProfile, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = m.UpdateSeenStatus(testAddr)

	if err := m.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(m.DumpEntries()) != 0 {
		t.Errorf("expected no entries after Clear")
	}

	m2, err := New(db, BundlerProfile, nil)
	if err != nil {
		t.Fatalf("New (reload): %v", err)
	}
	if len(m2.entries) != 0 {
		t.Errorf("expected Clear to persist, got %d entries after reload", len(m2.entries))
	}
}
