// Package node wraps the Ethereum node JSON-RPC surface the bundler depends
// on as an external collaborator: eth_call, eth_estimateGas, eth_getCode,
// eth_getBalance, eth_getBlockByNumber, eth_sendRawTransaction(Conditional),
// debug_traceCall, log queries and transaction signing plumbing.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/erc4337/aa-bundler/model"
	"github.com/erc4337/aa-bundler/pkg/logger"
)

// Client is a typed handle onto a single Ethereum node, used by every
// component that needs on-chain reads, simulation traces or transaction
// dispatch. It owns both the high-level *ethclient.Client (for the
// well-typed calls) and the raw *rpc.Client (for debug_traceCall and the
// conditional-send extension, neither of which ethclient exposes).
type Client struct {
	eth *ethclient.Client
	rpc *rpc.Client
	log logger.Logger
}

func Dial(ctx context.Context, url string, lgr logger.Logger) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial node %s: %w", url, err)
	}
	return &Client{
		eth: ethclient.NewClient(rpcClient),
		rpc: rpcClient,
		log: logger.EnsureLogger(lgr),
	}, nil
}

func (c *Client) Close() { c.rpc.Close() }

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.eth.ChainID(ctx)
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.eth.HeaderByNumber(ctx, number)
}

func (c *Client) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	return c.eth.CodeAt(ctx, addr, nil)
}

func (c *Client) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, addr, nil)
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return c.eth.EstimateGas(ctx, msg)
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return c.eth.CallContract(ctx, msg, nil)
}

func (c *Client) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, addr)
}

func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasTipCap(ctx)
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return c.eth.FilterLogs(ctx, q)
}

func (c *Client) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return c.eth.SubscribeFilterLogs(ctx, q, ch)
}

func (c *Client) SendRawTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.eth.SendTransaction(ctx, tx)
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.eth.TransactionReceipt(ctx, txHash)
}

// SendRawTransactionConditional dispatches via eth_sendRawTransactionConditional,
// a node extension that fails the send unless every account in storageMap
// still matches the given storage root/slot values at inclusion time.
func (c *Client) SendRawTransactionConditional(ctx context.Context, tx *types.Transaction, storageMap model.StorageMap) (common.Hash, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("marshal tx: %w", err)
	}
	knownAccounts := encodeKnownAccounts(storageMap)

	var result common.Hash
	err = c.rpc.CallContext(ctx, &result, "eth_sendRawTransactionConditional",
		hexEncode(raw), map[string]interface{}{"knownAccounts": knownAccounts})
	if err != nil {
		return common.Hash{}, err
	}
	return result, nil
}

func encodeKnownAccounts(storageMap model.StorageMap) map[string]interface{} {
	out := make(map[string]interface{}, len(storageMap))
	for addr, slotMap := range storageMap {
		if slotMap.Root != nil {
			out[addr.Hex()] = slotMap.Root.Hex()
			continue
		}
		slots := make(map[string]string, len(slotMap.Slots))
		for slot, val := range slotMap.Slots {
			slots[slot.Hex()] = val.Hex()
		}
		out[addr.Hex()] = slots
	}
	return out
}

func hexEncode(b []byte) string {
	return "0x" + common.Bytes2Hex(b)
}

// TraceResult is the raw JSON decode target for debug_traceCall; the typed
// interpretation into a model TracerResult happens in core/tracer.
type TraceResult json.RawMessage

// DebugTraceCall runs the given program (see core/tracer.Program) as a
// debug_traceCall JS tracer against the target, returning its raw JSON
// result for the caller to unmarshal into a typed TracerResult.
func (c *Client) DebugTraceCall(ctx context.Context, msg ethereum.CallMsg, blockNumber string, tracerJS string) (json.RawMessage, error) {
	callObj := map[string]interface{}{
		"from": msg.From,
		"to":   msg.To,
		"data": hexEncode(msg.Data),
	}
	if msg.Gas != 0 {
		callObj["gas"] = fmt.Sprintf("0x%x", msg.Gas)
	}

	var result json.RawMessage
	err := c.rpc.CallContext(ctx, &result, "debug_traceCall", callObj, blockNumber,
		map[string]interface{}{"tracer": tracerJS})
	if err != nil {
		return nil, fmt.Errorf("debug_traceCall: %w", err)
	}
	return result, nil
}

// ProofResult is the eth_getProof response shape the bundler needs: the
// account-level storage root, used as an address-level entry in StorageMap.
type ProofResult struct {
	StorageHash common.Hash `json:"storageHash"`
}

func (c *Client) GetProof(ctx context.Context, addr common.Address) (*ProofResult, error) {
	var result ProofResult
	err := c.rpc.CallContext(ctx, &result, "eth_getProof", addr, []string{}, "latest")
	if err != nil {
		return nil, fmt.Errorf("eth_getProof: %w", err)
	}
	return &result, nil
}

// SupportsMethod probes a node capability by calling it with the given params
// and checking whether the error is -32601 (method not found).
func (c *Client) SupportsMethod(ctx context.Context, method string, params ...interface{}) bool {
	var result json.RawMessage
	err := c.rpc.CallContext(ctx, &result, method, params...)
	if err == nil {
		return true
	}
	rpcErr, ok := err.(rpc.Error)
	return !(ok && rpcErr.ErrorCode() == -32601)
}

func (c *Client) Underlying() *ethclient.Client { return c.eth }
