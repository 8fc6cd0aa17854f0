// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// fakeNode answers a fixed set of json-rpc methods, counting calls per method.
type fakeNode struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string]any
	errs    map[string]*rpcError
	flaky   atomic.Int32 // number of requests answered with http 503 first
	delay   time.Duration
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		calls: make(map[string]int),
		results: map[string]any{
			"eth_getBalance":          "0x3e8",
			"eth_getTransactionCount": "0x2",
			"eth_getCode":             "0x6001600055",
			"eth_getStorageAt":        "0x000000000000000000000000000000000000000000000000000000000000002a",
			"eth_blockNumber":         "0x10",
			"eth_chainId":             "0x1",
		},
		errs: make(map[string]*rpcError),
	}
}

func (n *fakeNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n.mu.Lock()
	n.calls[req.Method]++
	n.mu.Unlock()

	if n.delay > 0 {
		select {
		case <-time.After(n.delay):
		case <-r.Context().Done():
			return
		}
	}
	if n.flaky.Add(-1) >= 0 {
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if rerr, ok := n.errs[req.Method]; ok {
		resp["error"] = rerr
	} else if result, ok := n.results[req.Method]; ok {
		resp["result"] = result
	} else {
		resp["error"] = &rpcError{Code: -32601, Message: "method not found"}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func dialFake(t *testing.T, node *fakeNode, opts Options) *Client {
	server := httptest.NewServer(node)
	t.Cleanup(server.Close)

	client, err := Dial(context.Background(), server.URL, opts)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestRPCAccountAndStorage(t *testing.T) {
	node := newFakeNode()
	client := dialFake(t, node, Options{Timeout: time.Second})
	src := client.At(12)
	addr := common.HexToAddress("0xabcd")

	info, err := src.Account(addr)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, uint64(1000), info.Balance.Uint64())
	assert.Equal(t, uint64(2), info.Nonce)
	code := common.FromHex("0x6001600055")
	assert.Equal(t, code, info.Code)
	assert.Equal(t, crypto.Keccak256Hash(code), info.CodeHash)

	value, err := src.Storage(addr, common.Hash{})
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x2a"), value)

	number, err := client.BlockNumber()
	require.NoError(t, err)
	assert.Equal(t, uint64(16), number)

	for range 2 {
		id, err := client.ChainID()
		require.NoError(t, err)
		assert.Equal(t, uint64(1), id)
	}
	assert.Equal(t, 1, node.count("eth_chainId"))
	assert.Equal(t, uint64(12), src.Number())
}

func TestRPCRetriesTransientFailures(t *testing.T) {
	node := newFakeNode()
	node.flaky.Store(2)
	client := dialFake(t, node, Options{Timeout: time.Second, Retries: 3, RetryInterval: time.Millisecond})

	number, err := client.BlockNumber()
	require.NoError(t, err)
	assert.Equal(t, uint64(16), number)
	assert.Equal(t, 3, node.count("eth_blockNumber"))
}

func TestRPCErrorIsPermanent(t *testing.T) {
	node := newFakeNode()
	node.errs["eth_getStorageAt"] = &rpcError{Code: -32000, Message: "missing trie node"}
	client := dialFake(t, node, Options{Timeout: time.Second, Retries: 3, RetryInterval: time.Millisecond})

	_, err := client.At(1).Storage(common.HexToAddress("0x01"), common.Hash{})
	var upErr *Error
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, "eth_getStorageAt", upErr.Op)
	assert.False(t, upErr.Timeout)
	assert.Contains(t, err.Error(), "missing trie node")
	assert.Equal(t, 1, node.count("eth_getStorageAt"), "json-rpc errors are not retried")
}

func TestRPCTimeout(t *testing.T) {
	node := newFakeNode()
	node.delay = 500 * time.Millisecond
	client := dialFake(t, node, Options{Timeout: 20 * time.Millisecond, Retries: 0})

	_, err := client.At(1).Storage(common.HexToAddress("0x01"), common.Hash{})
	var upErr *Error
	require.True(t, errors.As(err, &upErr))
	assert.True(t, upErr.Timeout)
	assert.Contains(t, err.Error(), "timed out")
}

func TestEmptyAndAlloc(t *testing.T) {
	addr := common.HexToAddress("0x01")

	info, err := Empty{}.Account(addr)
	require.NoError(t, err)
	assert.Nil(t, info)
	h1, _ := Empty{}.BlockHash(1)
	h2, _ := Alloc{}.BlockHash(1)
	assert.Equal(t, h1, h2)

	alloc := Alloc{addr: {
		Nonce:   1,
		Code:    []byte{0x60, 0x00},
		Storage: map[common.Hash]common.Hash{{}: common.HexToHash("0x05")},
	}}
	info, err = alloc.Account(addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.Nonce)
	assert.True(t, info.Balance.IsZero())
	assert.Equal(t, crypto.Keccak256Hash([]byte{0x60, 0x00}), info.CodeHash)

	value, err := alloc.Storage(addr, common.Hash{})
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x05"), value)

	value, err = alloc.Storage(common.HexToAddress("0x02"), common.Hash{})
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, value)
}
