// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package fork

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/vechain/forkbackend/cache"
	"github.com/vechain/forkbackend/cachedb"
	"github.com/vechain/forkbackend/evm"
	"github.com/vechain/forkbackend/log"
	"github.com/vechain/forkbackend/state"
	"github.com/vechain/forkbackend/upstream"
	"golang.org/x/sync/errgroup"
)

var logger = log.WithContext("pkg", "fork")

// Remote is an open connection to a remote chain.
type Remote interface {
	// At returns the source of the chain state at block number.
	At(number uint64) cachedb.Source
	BlockNumber() (uint64, error)
	Header(number uint64) (*types.Header, error)
	ChainID() (uint64, error)
	// Transaction returns a mined transaction, its sender and block number.
	Transaction(hash common.Hash) (*types.Transaction, common.Address, uint64, error)
	BlockTransactions(number uint64) (types.Transactions, error)
	Close()
}

// Opener connects to the remote chain at url.
type Opener func(ctx context.Context, url string) (Remote, error)

type rpcRemote struct {
	*upstream.Client
}

func (r rpcRemote) At(number uint64) cachedb.Source { return r.Client.At(number) }

// DialOpener opens json-rpc connections with the given options.
func DialOpener(opts upstream.Options) Opener {
	return func(ctx context.Context, url string) (Remote, error) {
		client, err := upstream.Dial(ctx, url, opts)
		if err != nil {
			return nil, err
		}
		return rpcRemote{client}, nil
	}
}

// pin is the state shared by every fork of the same id.
type pin struct {
	chainID uint64
	block   evm.BlockEnv
	source  *sharedSource
}

// env returns template with the chain id and block env of the pin.
func (p *pin) env(template evm.Env) evm.Env {
	env := template.Copy()
	env.Cfg.ChainID = p.chainID
	env.Block = p.block
	if p.block.BaseFee != nil {
		env.Block.BaseFee = new(uint256.Int).Set(p.block.BaseFee)
	}
	return env
}

// sharedSource memoises the remote data of a pinned block for all forks of its id.
type sharedSource struct {
	mu    sync.Mutex
	store *cachedb.Store
}

func (s *sharedSource) Account(addr common.Address) (*state.AccountInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, exists, err := s.store.Basic(addr)
	if err != nil || !exists {
		return nil, err
	}
	return &info, nil
}

func (s *sharedSource) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Storage(addr, slot)
}

func (s *sharedSource) BlockHash(number uint64) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.BlockHash(number)
}

// MultiFork opens forks, sharing connections per url and remote data per id.
// It is safe for concurrent use.
type MultiFork struct {
	open  Opener
	codes *cache.Code

	mu      sync.Mutex
	remotes map[string]Remote
	pins    map[ID]*pin
}

// NewMultiFork creates a MultiFork. The code cache is shared by every store it creates.
func NewMultiFork(open Opener, codes *cache.Code) *MultiFork {
	if codes == nil {
		codes = cache.NewCode(cache.DefaultCodeSize)
	}
	return &MultiFork{
		open:    open,
		codes:   codes,
		remotes: make(map[string]Remote),
		pins:    make(map[ID]*pin),
	}
}

// Codes returns the shared code cache.
func (m *MultiFork) Codes() *cache.Code { return m.codes }

// remote returns the connection to url, dialing it without holding the lock. Of two
// concurrent dials to the same url the first one stored wins, the other is closed.
func (m *MultiFork) remote(ctx context.Context, url string) (Remote, error) {
	m.mu.Lock()
	r, ok := m.remotes[url]
	m.mu.Unlock()
	if ok {
		return r, nil
	}

	dialed, err := m.open(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", url)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.remotes[url]; ok {
		dialed.Close()
		return r, nil
	}
	m.remotes[url] = dialed
	return dialed, nil
}

// Resolve fills in the block of forks pinned at latest, concurrently.
func (m *MultiFork) Resolve(ctx context.Context, cfs []CreateFork) ([]CreateFork, error) {
	resolved := make([]CreateFork, len(cfs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, cf := range cfs {
		g.Go(func() error {
			r, err := m.remote(ctx, cf.URL)
			if err != nil {
				return err
			}
			if cf.Block == nil {
				number, err := r.BlockNumber()
				if err != nil {
					return errors.Wrapf(err, "resolve latest block of %s", cf.URL)
				}
				cf.Block = &number
			}
			if _, err := m.pin(r, cf); err != nil {
				return err
			}
			resolved[i] = cf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resolved, nil
}

// pin returns the shared state of the pinned fork, creating it on first use.
func (m *MultiFork) pin(r Remote, cf CreateFork) (*pin, error) {
	id := NewID(cf.URL, *cf.Block)
	m.mu.Lock()
	p, ok := m.pins[id]
	m.mu.Unlock()
	if ok {
		return p, nil
	}

	header, err := r.Header(*cf.Block)
	if err != nil {
		return nil, errors.Wrapf(err, "header of %s", id)
	}
	chainID, err := r.ChainID()
	if err != nil {
		return nil, errors.Wrapf(err, "chain id of %s", cf.URL)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pins[id]; ok {
		return p, nil
	}
	p = &pin{
		chainID: chainID,
		block:   BlockEnvFromHeader(header),
		source:  &sharedSource{store: cachedb.New(r.At(*cf.Block), m.codes)},
	}
	m.pins[id] = p
	logger.Debug("pinned fork", "id", id, "chain", chainID, "timestamp", header.Time)
	return p, nil
}

// BlockEnvFromHeader returns the block env of header.
func BlockEnvFromHeader(header *types.Header) evm.BlockEnv {
	env := evm.BlockEnv{
		Number:     header.Number.Uint64(),
		Timestamp:  header.Time,
		Coinbase:   header.Coinbase,
		GasLimit:   header.GasLimit,
		PrevRandao: header.MixDigest,
	}
	if header.BaseFee != nil {
		env.BaseFee, _ = uint256.FromBig(header.BaseFee)
	}
	return env
}

// CreateFork opens the fork described by cf with the given journal.
func (m *MultiFork) CreateFork(ctx context.Context, cf CreateFork, journal *state.Journal) (*Fork, error) {
	r, err := m.remote(ctx, cf.URL)
	if err != nil {
		return nil, err
	}
	if cf.Block == nil {
		number, err := r.BlockNumber()
		if err != nil {
			return nil, errors.Wrapf(err, "resolve latest block of %s", cf.URL)
		}
		cf.Block = &number
	}
	p, err := m.pin(r, cf)
	if err != nil {
		return nil, err
	}
	return New(cf.URL, *cf.Block, p.env(cf.Env), r, cachedb.New(p.source, m.codes), journal), nil
}

// RollFork opens the fork of the same url as f pinned at block.
func (m *MultiFork) RollFork(ctx context.Context, f *Fork, block uint64, journal *state.Journal) (*Fork, error) {
	return m.CreateFork(ctx, CreateFork{URL: f.URL(), Block: &block, Env: f.Env()}, journal)
}

// IDs returns the ids of the pinned forks.
func (m *MultiFork) IDs() []ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.pins))
}

// Close closes every remote connection.
func (m *MultiFork) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for url, r := range m.remotes {
		r.Close()
		delete(m.remotes, url)
	}
	clear(m.pins)

	if l, _ := m.codes.Stats().Report(); l.Hit+l.Miss > 0 {
		logger.Debug("code cache", "hit", l.Hit, "miss", l.Miss, "rate", l.Rate())
	}
}
