package bundle

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/oklog/ulid/v2"

	"github.com/erc4337/aa-bundler/core/chainio/aa"
	"github.com/erc4337/aa-bundler/core/node"
	"github.com/erc4337/aa-bundler/core/validation"
	"github.com/erc4337/aa-bundler/model"
)

func sampleOp(sender common.Address, nonce int64) *model.UserOperation {
	return &model.UserOperation{
		Sender:               sender,
		Nonce:                big.NewInt(nonce),
		InitCode:             nil,
		CallData:             []byte{0x01},
		CallGasLimit:         big.NewInt(100000),
		VerificationGasLimit: big.NewInt(150000),
		PreVerificationGas:   big.NewInt(40000),
		MaxFeePerGas:         big.NewInt(2_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
		PaymasterAndData:     nil,
		Signature:            []byte{0x01},
	}
}

func sampleEntry(sender common.Address, nonce int64) *model.MempoolEntry {
	op := sampleOp(sender, nonce)
	return &model.MempoolEntry{
		UserOp:              op,
		UserOpHash:          op.Hash(common.HexToAddress("0xe9"), big.NewInt(1)),
		Prefund:             big.NewInt(0),
		ReferencedContracts: model.ReferencedContracts{Hash: common.HexToHash("0xaa")},
	}
}

type fakeDeposits struct{ balance *big.Int }

func (f *fakeDeposits) BalanceOf(opts *bind.CallOpts, account common.Address) (*big.Int, error) {
	return f.balance, nil
}

type fakeTransactor struct {
	gotOps []aa.UserOperation
	err    error
}

func (f *fakeTransactor) HandleOps(opts *bind.TransactOpts, ops []aa.UserOperation, beneficiary common.Address) (*types.Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.gotOps = ops
	return types.NewTx(&types.LegacyTx{Nonce: 0, GasPrice: big.NewInt(1), Gas: 21000, To: &beneficiary}), nil
}

type fakeChainNode struct {
	balance     *big.Int
	sendErr     error
	sentTx      *types.Transaction
	proofHash   common.Hash
}

func (f *fakeChainNode) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	return f.balance, nil
}
func (f *fakeChainNode) SendRawTransaction(ctx context.Context, tx *types.Transaction) error {
	f.sentTx = tx
	return f.sendErr
}
func (f *fakeChainNode) SendRawTransactionConditional(ctx context.Context, tx *types.Transaction, storageMap model.StorageMap) (common.Hash, error) {
	f.sentTx = tx
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	return tx.Hash(), nil
}
func (f *fakeChainNode) GetProof(ctx context.Context, addr common.Address) (*node.ProofResult, error) {
	return &node.ProofResult{StorageHash: f.proofHash}, nil
}

type fakeRevalidator struct {
	outcome *validation.Outcome
	err     *validation.Error
}

func (f *fakeRevalidator) Validate(ctx context.Context, rpcOp *model.RPCUserOperation, entryPoint common.Address) (*validation.Outcome, *validation.Error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}

type fakeMempool struct {
	sorted      []*model.MempoolEntry
	removed     []common.Hash
	knownSender map[common.Address]bool
}

func (f *fakeMempool) GetSortedForInclusion() []*model.MempoolEntry { return f.sorted }
func (f *fakeMempool) RemoveByHash(h common.Hash) bool {
	f.removed = append(f.removed, h)
	return true
}
func (f *fakeMempool) IsKnownSender(addr common.Address) bool { return f.knownSender[addr] }

type fakeReputation struct {
	status   map[common.Address]model.ReputationStatus
	crashed  []common.Address
	included []common.Address
}

func newFakeReputation() *fakeReputation {
	return &fakeReputation{status: make(map[common.Address]model.ReputationStatus)}
}
func (f *fakeReputation) GetStatus(addr common.Address) model.ReputationStatus { return f.status[addr] }
func (f *fakeReputation) CrashedHandleOps(addr common.Address) error {
	f.crashed = append(f.crashed, addr)
	return nil
}
func (f *fakeReputation) UpdateIncludedStatus(addr common.Address) error {
	f.included = append(f.included, addr)
	return nil
}

func testConfig() Config {
	return Config{
		EntryPoint:       common.HexToAddress("0xe9"),
		Beneficiary:      common.HexToAddress("0xb3"),
		MinSignerBalance: big.NewInt(1_000_000),
		MaxBundleGas:     big.NewInt(10_000_000),
	}
}

func fixedFees(ctx context.Context) (*big.Int, *big.Int, error) {
	return big.NewInt(3_000_000_000), big.NewInt(1_000_000_000), nil
}

func newManager(t *testing.T, cfg Config, n chainNode, dep depositReader, tx transactor, rv revalidator, pool mempoolSource, rep reputationSink) *Manager {
	t.Helper()
	signer := &bind.TransactOpts{From: common.HexToAddress("0x5169e")}
	return New(cfg, n, dep, tx, fixedFees, rv, pool, rep, signer, nil)
}

func outcomeFor(entry *model.MempoolEntry) *validation.Outcome {
	return &validation.Outcome{
		Prefund:             big.NewInt(0),
		PreOpGas:            big.NewInt(50000),
		ReferencedContracts: entry.ReferencedContracts,
		StorageMap:          model.StorageMap{},
	}
}

func TestBuild_AdmitsSingleOp(t *testing.T) {
	entry := sampleEntry(common.HexToAddress("0x1"), 0)
	pool := &fakeMempool{sorted: []*model.MempoolEntry{entry}, knownSender: map[common.Address]bool{}}
	rv := &fakeRevalidator{outcome: outcomeFor(entry)}
	rep := newFakeReputation()

	m := newManager(t, testConfig(), &fakeChainNode{}, &fakeDeposits{}, &fakeTransactor{}, rv, pool, rep)
	built, err := m.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(built.Ops) != 1 {
		t.Fatalf("len(Ops) = %d, want 1", len(built.Ops))
	}
	if len(pool.removed) != 0 {
		t.Errorf("did not expect any removals, got %v", pool.removed)
	}
	if built.ID.Compare(ulid.ULID{}) == 0 {
		t.Error("expected Build to assign a non-zero bundle ID")
	}
}

func TestBuild_SkipsBannedPaymaster(t *testing.T) {
	paymaster := common.HexToAddress("0xfeed")
	entry := sampleEntry(common.HexToAddress("0x1"), 0)
	entry.UserOp.PaymasterAndData = append(paymaster.Bytes(), 0x01)

	pool := &fakeMempool{sorted: []*model.MempoolEntry{entry}, knownSender: map[common.Address]bool{}}
	rv := &fakeRevalidator{outcome: outcomeFor(entry)}
	rep := newFakeReputation()
	rep.status[paymaster] = model.ReputationBanned

	m := newManager(t, testConfig(), &fakeChainNode{}, &fakeDeposits{}, &fakeTransactor{}, rv, pool, rep)
	built, err := m.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(built.Ops) != 0 {
		t.Fatalf("len(Ops) = %d, want 0", len(built.Ops))
	}
	if len(pool.removed) != 1 || pool.removed[0] != entry.UserOpHash {
		t.Errorf("expected the banned op to be removed from the mempool, got %v", pool.removed)
	}
}

func TestBuild_DropsOnFingerprintMismatch(t *testing.T) {
	entry := sampleEntry(common.HexToAddress("0x1"), 0)
	outcome := outcomeFor(entry)
	outcome.ReferencedContracts.Hash = common.HexToHash("0xbb") // differs from entry's recorded hash

	pool := &fakeMempool{sorted: []*model.MempoolEntry{entry}, knownSender: map[common.Address]bool{}}
	rv := &fakeRevalidator{outcome: outcome}
	rep := newFakeReputation()

	m := newManager(t, testConfig(), &fakeChainNode{}, &fakeDeposits{}, &fakeTransactor{}, rv, pool, rep)
	built, err := m.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(built.Ops) != 0 {
		t.Fatalf("len(Ops) = %d, want 0", len(built.Ops))
	}
	if len(pool.removed) != 1 {
		t.Errorf("expected the op to be removed on fingerprint mismatch, got %v", pool.removed)
	}
}

func TestBuild_SkipsWithoutRemovalOnStorageConflict(t *testing.T) {
	sender := common.HexToAddress("0x1")
	otherSender := common.HexToAddress("0x2")
	entry := sampleEntry(sender, 0)
	outcome := outcomeFor(entry)
	outcome.ReferencedContracts.Addresses = []common.Address{otherSender}

	pool := &fakeMempool{
		sorted:      []*model.MempoolEntry{entry},
		knownSender: map[common.Address]bool{otherSender: true},
	}
	rv := &fakeRevalidator{outcome: outcome}
	rep := newFakeReputation()

	m := newManager(t, testConfig(), &fakeChainNode{}, &fakeDeposits{}, &fakeTransactor{}, rv, pool, rep)
	built, err := m.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(built.Ops) != 0 {
		t.Fatalf("len(Ops) = %d, want 0", len(built.Ops))
	}
	if len(pool.removed) != 0 {
		t.Errorf("a storage conflict must not remove the op, got %v", pool.removed)
	}
}

func TestBuild_StopsAtGasLimit(t *testing.T) {
	entryA := sampleEntry(common.HexToAddress("0x1"), 0)
	entryB := sampleEntry(common.HexToAddress("0x2"), 0)
	pool := &fakeMempool{sorted: []*model.MempoolEntry{entryA, entryB}, knownSender: map[common.Address]bool{}}
	rv := &fakeRevalidator{outcome: outcomeFor(entryA)}
	rep := newFakeReputation()

	cfg := testConfig()
	cfg.MaxBundleGas = big.NewInt(150000) // first op's preOpGas(50000)+callGasLimit(100000) fills it exactly

	m := newManager(t, cfg, &fakeChainNode{}, &fakeDeposits{}, &fakeTransactor{}, rv, pool, rep)
	built, err := m.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(built.Ops) != 1 {
		t.Fatalf("len(Ops) = %d, want 1", len(built.Ops))
	}
}

func TestBuild_SkipsPaymasterWithInsufficientDeposit(t *testing.T) {
	paymaster := common.HexToAddress("0xfeed")
	entry := sampleEntry(common.HexToAddress("0x1"), 0)
	entry.UserOp.PaymasterAndData = append(paymaster.Bytes(), 0x01)
	outcome := outcomeFor(entry)
	outcome.Prefund = big.NewInt(1_000_000)

	pool := &fakeMempool{sorted: []*model.MempoolEntry{entry}, knownSender: map[common.Address]bool{}}
	rv := &fakeRevalidator{outcome: outcome}
	rep := newFakeReputation()
	deposits := &fakeDeposits{balance: big.NewInt(1)} // less than the required prefund

	m := newManager(t, testConfig(), &fakeChainNode{}, deposits, &fakeTransactor{}, rv, pool, rep)
	built, err := m.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(built.Ops) != 0 {
		t.Fatalf("len(Ops) = %d, want 0", len(built.Ops))
	}
}

func TestSend_EmptyBundleIsNoop(t *testing.T) {
	m := newManager(t, testConfig(), &fakeChainNode{}, &fakeDeposits{}, &fakeTransactor{}, &fakeRevalidator{}, &fakeMempool{}, newFakeReputation())
	res, err := m.Send(context.Background(), &Built{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.TransactionHash != (common.Hash{}) {
		t.Errorf("expected a zero hash for an empty bundle")
	}
}

func TestSend_UsesSignerAsBeneficiaryWhenLowOnFunds(t *testing.T) {
	entry := sampleEntry(common.HexToAddress("0x1"), 0)
	built := &Built{
		Ops:        []aa.UserOperation{toBoundUserOp(entry.UserOp)},
		Entries:    []*model.MempoolEntry{entry},
		StorageMap: model.StorageMap{},
		TotalGas:   big.NewInt(150000),
	}

	chain := &fakeChainNode{balance: big.NewInt(1)} // below MinSignerBalance
	transactor := &fakeTransactor{}
	pool := &fakeMempool{}
	rep := newFakeReputation()

	m := newManager(t, testConfig(), chain, &fakeDeposits{}, transactor, &fakeRevalidator{}, pool, rep)
	res, err := m.Send(context.Background(), built)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(res.UserOpHashes) != 1 || res.UserOpHashes[0] != entry.UserOpHash {
		t.Fatalf("unexpected UserOpHashes: %v", res.UserOpHashes)
	}
	if len(rep.included) != 1 || rep.included[0] != entry.UserOp.Sender {
		t.Errorf("expected sender to be credited for inclusion, got %v", rep.included)
	}
}

func TestSend_ConditionalRPCDispatch(t *testing.T) {
	entry := sampleEntry(common.HexToAddress("0x1"), 0)
	built := &Built{
		Ops:        []aa.UserOperation{toBoundUserOp(entry.UserOp)},
		Entries:    []*model.MempoolEntry{entry},
		StorageMap: model.StorageMap{},
		TotalGas:   big.NewInt(150000),
	}

	chain := &fakeChainNode{balance: big.NewInt(1_000_000_000)}
	cfg := testConfig()
	cfg.ConditionalRPC = true

	m := newManager(t, cfg, chain, &fakeDeposits{}, &fakeTransactor{}, &fakeRevalidator{}, &fakeMempool{}, newFakeReputation())
	res, err := m.Send(context.Background(), built)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if chain.sentTx == nil {
		t.Fatal("expected SendRawTransactionConditional to receive the signed transaction")
	}
	if res.TransactionHash != chain.sentTx.Hash() {
		t.Errorf("TransactionHash = %s, want %s", res.TransactionHash, chain.sentTx.Hash())
	}
}

// dataErr implements the rpc.DataError-shaped interface handleSendFailure
// looks for, letting the test inject a decodable FailedOp revert without a
// real JSON-RPC round trip.
type dataErr struct {
	data []byte
}

func (d *dataErr) Error() string          { return "execution reverted" }
func (d *dataErr) ErrorData() interface{} { return d.data }

func packFailedOp(t *testing.T, opIndex int64, reason string) []byte {
	t.Helper()
	parsed, err := aa.EntryPointMetaData.GetAbi()
	if err != nil {
		t.Fatalf("EntryPointMetaData.GetAbi: %v", err)
	}
	errDef, ok := parsed.Errors["FailedOp"]
	if !ok {
		t.Fatal("FailedOp not found in EntryPoint ABI")
	}
	packed, err := errDef.Inputs.Pack(big.NewInt(opIndex), reason)
	if err != nil {
		t.Fatalf("pack FailedOp: %v", err)
	}
	return append(append([]byte{}, errDef.ID[:4]...), packed...)
}

func TestSend_AttributesAA2FailureToSender(t *testing.T) {
	entry := sampleEntry(common.HexToAddress("0x1"), 0)
	built := &Built{
		Ops:        []aa.UserOperation{toBoundUserOp(entry.UserOp)},
		Entries:    []*model.MempoolEntry{entry},
		StorageMap: model.StorageMap{},
		TotalGas:   big.NewInt(150000),
	}

	revertBytes := packFailedOp(t, 0, "AA21 didn't pay prefund")
	chain := &fakeChainNode{balance: big.NewInt(1_000_000_000), sendErr: &dataErr{data: revertBytes}}
	pool := &fakeMempool{}
	rep := newFakeReputation()

	m := newManager(t, testConfig(), chain, &fakeDeposits{}, &fakeTransactor{}, &fakeRevalidator{}, pool, rep)
	_, err := m.Send(context.Background(), built)
	if err == nil {
		t.Fatal("expected an error from a reverted handleOps dispatch")
	}
	if len(rep.crashed) != 1 || rep.crashed[0] != entry.UserOp.Sender {
		t.Errorf("expected the sender to be marked crashed, got %v", rep.crashed)
	}
	if len(pool.removed) != 0 {
		t.Errorf("expected the op to remain in the mempool once the sender was blamed, got removed %v", pool.removed)
	}
}

func TestSend_AttributesAA3FailureToPaymaster(t *testing.T) {
	paymaster := common.HexToAddress("0xfeed")
	entry := sampleEntry(common.HexToAddress("0x1"), 0)
	entry.UserOp.PaymasterAndData = append(paymaster.Bytes(), 0x01)
	built := &Built{
		Ops:        []aa.UserOperation{toBoundUserOp(entry.UserOp)},
		Entries:    []*model.MempoolEntry{entry},
		StorageMap: model.StorageMap{},
		TotalGas:   big.NewInt(150000),
	}

	revertBytes := packFailedOp(t, 0, "AA31 paymaster deposit too low")
	chain := &fakeChainNode{balance: big.NewInt(1_000_000_000), sendErr: &dataErr{data: revertBytes}}
	pool := &fakeMempool{}
	rep := newFakeReputation()

	m := newManager(t, testConfig(), chain, &fakeDeposits{}, &fakeTransactor{}, &fakeRevalidator{}, pool, rep)
	_, err := m.Send(context.Background(), built)
	if err == nil {
		t.Fatal("expected an error from a reverted handleOps dispatch")
	}
	if len(rep.crashed) != 1 || rep.crashed[0] != paymaster {
		t.Errorf("expected the paymaster to be marked crashed, got %v", rep.crashed)
	}
	if len(pool.removed) != 0 {
		t.Errorf("expected the op to remain in the mempool once the paymaster was blamed, got removed %v", pool.removed)
	}
}

func TestSend_UnattributedFailureRemovesOp(t *testing.T) {
	entry := sampleEntry(common.HexToAddress("0x1"), 0)
	built := &Built{
		Ops:        []aa.UserOperation{toBoundUserOp(entry.UserOp)},
		Entries:    []*model.MempoolEntry{entry},
		StorageMap: model.StorageMap{},
		TotalGas:   big.NewInt(150000),
	}

	revertBytes := packFailedOp(t, 0, "AA90 something unrecognized")
	chain := &fakeChainNode{balance: big.NewInt(1_000_000_000), sendErr: &dataErr{data: revertBytes}}
	pool := &fakeMempool{}
	rep := newFakeReputation()

	m := newManager(t, testConfig(), chain, &fakeDeposits{}, &fakeTransactor{}, &fakeRevalidator{}, pool, rep)
	_, err := m.Send(context.Background(), built)
	if err == nil {
		t.Fatal("expected an error from a reverted handleOps dispatch")
	}
	if len(rep.crashed) != 0 {
		t.Errorf("expected no entity to be marked crashed for an unattributed failure, got %v", rep.crashed)
	}
	if len(pool.removed) != 1 || pool.removed[0] != entry.UserOpHash {
		t.Errorf("expected the unattributable op to be removed from the mempool, got %v", pool.removed)
	}
}

func TestSend_NonRevertErrorIsFatal(t *testing.T) {
	entry := sampleEntry(common.HexToAddress("0x1"), 0)
	built := &Built{
		Ops:        []aa.UserOperation{toBoundUserOp(entry.UserOp)},
		Entries:    []*model.MempoolEntry{entry},
		StorageMap: model.StorageMap{},
		TotalGas:   big.NewInt(150000),
	}

	chain := &fakeChainNode{balance: big.NewInt(1_000_000_000), sendErr: fmt.Errorf("connection refused")}
	pool := &fakeMempool{}
	rep := newFakeReputation()

	m := newManager(t, testConfig(), chain, &fakeDeposits{}, &fakeTransactor{}, &fakeRevalidator{}, pool, rep)
	_, err := m.Send(context.Background(), built)
	if err == nil {
		t.Fatal("expected a fatal error")
	}
	if len(pool.removed) != 0 {
		t.Errorf("a non-revert dispatch failure must not remove anything, got %v", pool.removed)
	}
}
