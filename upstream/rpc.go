// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package upstream

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/vechain/forkbackend/cache"
	"github.com/vechain/forkbackend/state"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Options tunes remote requests.
type Options struct {
	// Timeout bounds every single request attempt.
	Timeout time.Duration
	// Retries is the number of extra attempts after a transient failure.
	Retries int
	// RetryInterval is the initial wait between attempts, doubled after each one.
	RetryInterval time.Duration
	// HeaderCacheSize is the number of block headers kept in memory.
	HeaderCacheSize int
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Timeout:         45 * time.Second,
		Retries:         5,
		RetryInterval:   500 * time.Millisecond,
		HeaderCacheSize: 256,
	}
}

func (o *Options) withDefaults() {
	def := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = def.RetryInterval
	}
	if o.HeaderCacheSize <= 0 {
		o.HeaderCacheSize = def.HeaderCacheSize
	}
}

// Client is a connection to a remote chain. It is safe for concurrent use.
type Client struct {
	eth     *ethclient.Client
	opts    Options
	headers *cache.LRU[uint64, *types.Header]
	group   singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	chainOnce sync.Once
	chainID   uint64
	chainErr  error
}

// Dial connects to the endpoint at url.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, &Error{Op: "dial", Cause: err}
	}
	return NewClient(eth, opts), nil
}

// NewClient wraps an ethclient connection.
func NewClient(eth *ethclient.Client, opts Options) *Client {
	opts.withDefaults()
	headers, err := cache.NewLRU[uint64, *types.Header](opts.HeaderCacheSize)
	if err != nil {
		// size is positive after withDefaults
		panic(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		eth:     eth,
		opts:    opts,
		headers: headers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Close aborts pending requests and closes the connection.
func (c *Client) Close() {
	c.cancel()
	c.eth.Close()
	if l, _ := c.headers.Stats().Report(); l.Hit+l.Miss > 0 {
		logger.Debug("header cache", "hit", l.Hit, "miss", l.Miss, "rate", l.Rate())
	}
}

// At returns a source reading the chain state at block number.
func (c *Client) At(number uint64) *RPC {
	return &RPC{c: c, number: number}
}

// isPermanent reports failures retrying can not fix.
func isPermanent(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr) || errors.Is(err, ethereum.NotFound)
}

// do runs fn with a per attempt timeout, retrying transient failures.
func (c *Client) do(op string, fn func(ctx context.Context) error) error {
	start := time.Now()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.RetryInterval
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.opts.Retries)), c.ctx)

	err := backoff.RetryNotify(func() error {
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.Timeout)
		defer cancel()

		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return &Error{Op: op, Timeout: true, Cause: err}
		case isPermanent(err):
			return backoff.Permanent(&Error{Op: op, Cause: err})
		default:
			return &Error{Op: op, Cause: err}
		}
	}, retry, func(err error, wait time.Duration) {
		logger.Debug("retrying request", "op", op, "wait", wait, "err", err)
	})

	result := "ok"
	if err != nil {
		result = "error"
		var upErr *Error
		if errors.As(err, &upErr) && upErr.Timeout {
			result = "timeout"
		}
	}
	metricRequests().AddWithLabel(1, map[string]string{"op": op, "result": result})
	metricRequestDuration().Observe(time.Since(start).Milliseconds())
	return err
}

// collapse runs fn once for all concurrent callers using the same key.
func collapse[T any](c *Client, key string, fn func() (T, error)) (T, error) {
	v, err, _ := c.group.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// BlockNumber returns the number of the latest block.
func (c *Client) BlockNumber() (uint64, error) {
	return collapse(c, "blockNumber", func() (number uint64, err error) {
		err = c.do("eth_blockNumber", func(ctx context.Context) (err error) {
			number, err = c.eth.BlockNumber(ctx)
			return
		})
		return
	})
}

// ChainID returns the chain id of the remote chain.
func (c *Client) ChainID() (uint64, error) {
	c.chainOnce.Do(func() {
		var id *big.Int
		c.chainErr = c.do("eth_chainId", func(ctx context.Context) (err error) {
			id, err = c.eth.ChainID(ctx)
			return
		})
		if c.chainErr == nil {
			c.chainID = id.Uint64()
		}
	})
	return c.chainID, c.chainErr
}

// Header returns the header of the block with the given number.
func (c *Client) Header(number uint64) (*types.Header, error) {
	return c.headers.GetOrLoad(number, func(number uint64) (*types.Header, error) {
		return collapse(c, fmt.Sprintf("header:%d", number), func() (header *types.Header, err error) {
			err = c.do("eth_getBlockByNumber", func(ctx context.Context) (err error) {
				header, err = c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
				return
			})
			return
		})
	})
}

// Transaction returns a mined transaction with its sender and the number of its block.
func (c *Client) Transaction(hash common.Hash) (*types.Transaction, common.Address, uint64, error) {
	var (
		tx      *types.Transaction
		pending bool
		receipt *types.Receipt
	)
	if err := c.do("eth_getTransactionByHash", func(ctx context.Context) (err error) {
		tx, pending, err = c.eth.TransactionByHash(ctx, hash)
		return
	}); err != nil {
		return nil, common.Address{}, 0, err
	}
	if pending {
		return nil, common.Address{}, 0, &Error{Op: "eth_getTransactionByHash", Cause: errors.Errorf("transaction %v is pending", hash)}
	}
	if err := c.do("eth_getTransactionReceipt", func(ctx context.Context) (err error) {
		receipt, err = c.eth.TransactionReceipt(ctx, hash)
		return
	}); err != nil {
		return nil, common.Address{}, 0, err
	}
	chainID, err := c.ChainID()
	if err != nil {
		return nil, common.Address{}, 0, err
	}
	sender, err := types.Sender(types.LatestSignerForChainID(new(big.Int).SetUint64(chainID)), tx)
	if err != nil {
		return nil, common.Address{}, 0, errors.Wrapf(err, "recover sender of %v", hash)
	}
	return tx, sender, receipt.BlockNumber.Uint64(), nil
}

// BlockTransactions returns the transactions of the block with the given number.
func (c *Client) BlockTransactions(number uint64) (types.Transactions, error) {
	var block *types.Block
	if err := c.do("eth_getBlockByNumber", func(ctx context.Context) (err error) {
		block, err = c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(number))
		return
	}); err != nil {
		return nil, err
	}
	return block.Transactions(), nil
}

// RPC reads the state of a remote chain at a pinned block.
type RPC struct {
	c      *Client
	number uint64
}

// Number returns the pinned block number.
func (r *RPC) Number() uint64 { return r.number }

func (r *RPC) block() *big.Int { return new(big.Int).SetUint64(r.number) }

// Account fetches balance, nonce and code concurrently. Accounts are never
// reported as absent since the remote cannot tell an empty account from a missing one.
func (r *RPC) Account(addr common.Address) (*state.AccountInfo, error) {
	key := fmt.Sprintf("account:%d:%s", r.number, addr.Hex())
	info, err := collapse(r.c, key, func() (*state.AccountInfo, error) {
		var (
			balance *big.Int
			nonce   uint64
			code    []byte
			g       errgroup.Group
		)
		g.Go(func() error {
			return r.c.do("eth_getBalance", func(ctx context.Context) (err error) {
				balance, err = r.c.eth.BalanceAt(ctx, addr, r.block())
				return
			})
		})
		g.Go(func() error {
			return r.c.do("eth_getTransactionCount", func(ctx context.Context) (err error) {
				nonce, err = r.c.eth.NonceAt(ctx, addr, r.block())
				return
			})
		})
		g.Go(func() error {
			return r.c.do("eth_getCode", func(ctx context.Context) (err error) {
				code, err = r.c.eth.CodeAt(ctx, addr, r.block())
				return
			})
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}

		info := state.NewAccountInfo()
		info.Balance, _ = uint256.FromBig(balance)
		info.Nonce = nonce
		if len(code) > 0 {
			info.Code = code
			info.CodeHash = crypto.Keccak256Hash(code)
		}
		return &info, nil
	})
	if err != nil {
		return nil, err
	}
	cpy := info.Copy()
	return &cpy, nil
}

// Storage fetches the value of a slot.
func (r *RPC) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	key := fmt.Sprintf("storage:%d:%s:%s", r.number, addr.Hex(), slot.Hex())
	return collapse(r.c, key, func() (value common.Hash, err error) {
		err = r.c.do("eth_getStorageAt", func(ctx context.Context) error {
			raw, err := r.c.eth.StorageAt(ctx, addr, slot, r.block())
			value = common.BytesToHash(raw)
			return err
		})
		return
	})
}

// BlockHash fetches the hash of a block.
func (r *RPC) BlockHash(number uint64) (common.Hash, error) {
	header, err := r.c.Header(number)
	if err != nil {
		return common.Hash{}, err
	}
	return header.Hash(), nil
}
