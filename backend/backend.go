// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package backend implements the fork aware state backend of a local development node.
//
// The backend owns a local store and any number of forks of remote chains. One of them is
// active at a time; execution, reads and writes go to the active store and its journal.
// Persistent accounts keep their state across fork switches, every other account reflects
// the state of the fork it is read on.
//
// A Backend is not safe for concurrent use. Callers serialize access to it.
package backend

import (
	"context"
	"maps"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/vechain/forkbackend/cachedb"
	"github.com/vechain/forkbackend/evm"
	"github.com/vechain/forkbackend/fork"
	"github.com/vechain/forkbackend/snapshot"
	"github.com/vechain/forkbackend/state"
	"github.com/vechain/forkbackend/strategy"
	"github.com/vechain/forkbackend/upstream"
)

var (
	// CheatcodeAddress is the address of the cheatcode contract.
	CheatcodeAddress = common.HexToAddress("0x7109709ECfa91a80626fF3989D68f67F5b1DD12D")
	// Create2Deployer is the address of the deterministic deployment proxy.
	Create2Deployer = common.HexToAddress("0x4e59b44847b379578588920ca78fbf26c0b4956c")
	// DefaultCaller is the default sender of transactions.
	DefaultCaller = common.HexToAddress("0x1804c8AB1F12E6bbf3894d4083f33e07309d1f38")
	// TestContractAddress is the address the test contract is deployed at.
	TestContractAddress = common.HexToAddress("0xb4c79daB8f259C7Aee6E5b2Aa729821864227e84")
)

// LocalForkID identifies a fork created by a backend. Ids are never reused.
type LocalForkID uint64

// Options configures a Backend.
type Options struct {
	// Strategy defaults to strategy.NewDefault().
	Strategy strategy.Strategy
	// Interpreter defaults to evm.Transfer.
	Interpreter evm.Interpreter
	// Forks opens forks. Defaults to json-rpc connections with upstream.DefaultOptions.
	Forks *fork.MultiFork
	// Launch selects this fork right away.
	Launch *fork.CreateFork
	// Genesis are the accounts of the local store.
	Genesis upstream.Alloc
	// Persistent are marked persistent in addition to the default ones.
	Persistent []common.Address
	Env        evm.Env
}

// Backend is the fork aware state backend.
type Backend struct {
	strategy strategy.Strategy
	interp   evm.Interpreter
	forks    *fork.MultiFork

	memDB      *cachedb.Store
	memJournal *state.Journal
	// forkInitJournal is the journal new forks start with.
	forkInitJournal *state.Journal

	issued map[LocalForkID]*fork.Fork
	nextID LocalForkID
	active *LocalForkID

	persistent      mapset.Set[common.Address]
	cheatcodeAccess mapset.Set[common.Address]
	snapshots       *snapshot.Registry[*stateSnapshot]
	snapshotFailure bool
	env             evm.Env
}

var _ strategy.Backend = (*Backend)(nil)

// New creates a backend in local mode, or in forked mode when opts.Launch is set.
func New(ctx context.Context, opts Options) (*Backend, error) {
	s := opts.Strategy
	if s.Runner == nil {
		s = strategy.NewDefault()
	}
	interp := opts.Interpreter
	if interp == nil {
		interp = evm.Transfer{}
	}
	forks := opts.Forks
	if forks == nil {
		forks = fork.NewMultiFork(fork.DialOpener(upstream.DefaultOptions()), nil)
	}
	var src cachedb.Source = upstream.Empty{}
	if len(opts.Genesis) > 0 {
		src = opts.Genesis
	}

	b := &Backend{
		strategy:        s,
		interp:          interp,
		forks:           forks,
		memDB:           cachedb.New(src, forks.Codes()),
		memJournal:      state.NewJournal(),
		forkInitJournal: state.NewJournal(),
		issued:          make(map[LocalForkID]*fork.Fork),
		persistent:      mapset.NewSet(CheatcodeAddress, Create2Deployer, DefaultCaller),
		cheatcodeAccess: mapset.NewSet(CheatcodeAddress, TestContractAddress, DefaultCaller),
		snapshots:       snapshot.New[*stateSnapshot](),
		env:             opts.Env.Copy(),
	}
	b.persistent.Append(opts.Persistent...)

	if opts.Launch != nil {
		if _, err := b.CreateSelectFork(ctx, *opts.Launch); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Close closes the remote connections of the forks.
func (b *Backend) Close() { b.forks.Close() }

// Strategy returns the strategy of the backend.
func (b *Backend) Strategy() strategy.Strategy { return b.strategy }

// Interpreter implements strategy.Backend.
func (b *Backend) Interpreter() evm.Interpreter { return b.interp }

// Env returns a copy of the current env.
func (b *Backend) Env() evm.Env { return b.env.Copy() }

// SetEnv replaces the current env.
func (b *Backend) SetEnv(env evm.Env) { b.env = env.Copy() }

// Caller returns the current transaction sender.
func (b *Backend) Caller() common.Address { return b.env.Tx.Caller }

// SetCaller changes the current transaction sender.
func (b *Backend) SetCaller(addr common.Address) { b.env.Tx.Caller = addr }

func (b *Backend) activeFork() *fork.Fork {
	if b.active == nil {
		return nil
	}
	f, ok := b.issued[*b.active]
	if !ok {
		panic("backend: active fork is not issued")
	}
	return f
}

// ActiveDB returns the active store.
func (b *Backend) ActiveDB() *cachedb.Store {
	if f := b.activeFork(); f != nil {
		return f.DB
	}
	return b.memDB
}

// ActiveJournal implements strategy.Backend.
func (b *Backend) ActiveJournal() *state.Journal {
	if f := b.activeFork(); f != nil {
		return f.Journal
	}
	return b.memJournal
}

// MemDB returns the local store.
func (b *Backend) MemDB() *cachedb.Store { return b.memDB }

// Basic implements state.Database on the active store.
func (b *Backend) Basic(addr common.Address) (state.AccountInfo, bool, error) {
	return b.ActiveDB().Basic(addr)
}

// CodeByHash implements state.Database on the active store.
func (b *Backend) CodeByHash(hash common.Hash) ([]byte, error) {
	return b.ActiveDB().CodeByHash(hash)
}

// Storage implements state.Database on the active store.
func (b *Backend) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	return b.ActiveDB().Storage(addr, slot)
}

// BlockHash implements state.Database on the active store.
func (b *Backend) BlockHash(number uint64) (common.Hash, error) {
	return b.ActiveDB().BlockHash(number)
}

// Balance returns the balance as seen by the active journal.
func (b *Backend) Balance(addr common.Address) (*uint256.Int, error) {
	info, err := b.ActiveJournal().ReadInfo(b.ActiveDB(), addr)
	if err != nil {
		return nil, err
	}
	return info.Balance, nil
}

// Nonce returns the nonce as seen by the active journal.
func (b *Backend) Nonce(addr common.Address) (uint64, error) {
	info, err := b.ActiveJournal().ReadInfo(b.ActiveDB(), addr)
	if err != nil {
		return 0, err
	}
	return info.Nonce, nil
}

// Code returns the code as seen by the active journal.
func (b *Backend) Code(addr common.Address) ([]byte, error) {
	return b.ActiveJournal().ReadCode(b.ActiveDB(), addr)
}

// StorageAt returns the slot value as seen by the active journal.
func (b *Backend) StorageAt(addr common.Address, slot common.Hash) (common.Hash, error) {
	return b.ActiveJournal().ReadStorage(b.ActiveDB(), addr, slot)
}

// InsertAccountInfo overwrites the account info in the active store. The active
// journal is not updated.
func (b *Backend) InsertAccountInfo(addr common.Address, info state.AccountInfo) {
	b.ActiveDB().InsertAccountInfo(addr, info)
}

// InsertAccountStorage sets a slot in the active store.
func (b *Backend) InsertAccountStorage(addr common.Address, slot, value common.Hash) error {
	return b.ActiveDB().InsertAccountStorage(addr, slot, value)
}

// ReplaceAccountStorage replaces the whole storage of an account in the active store.
func (b *Backend) ReplaceAccountStorage(addr common.Address, storage map[common.Hash]common.Hash) error {
	return b.ActiveDB().ReplaceAccountStorage(addr, storage)
}

// SetBlockHash records a block hash in the active store.
func (b *Backend) SetBlockHash(number uint64, hash common.Hash) {
	b.ActiveDB().SetBlockHash(number, hash)
}

// LoadAllocs writes genesis allocations into the active journal. Accounts are touched
// and committed with the next commit.
func (b *Backend) LoadAllocs(allocs upstream.Alloc) error {
	db, journal := b.ActiveDB(), b.ActiveJournal()
	addrs := slices.SortedFunc(maps.Keys(allocs), func(a, b common.Address) int { return a.Cmp(b) })
	for _, addr := range addrs {
		alloc := allocs[addr]
		acc, err := journal.LoadAccount(db, addr)
		if err != nil {
			return err
		}
		balance := new(uint256.Int)
		if alloc.Balance != nil {
			balance.Set(alloc.Balance)
		}
		if err := journal.SetBalance(db, addr, balance); err != nil {
			return err
		}
		acc.Info.Nonce = alloc.Nonce
		if alloc.Code != nil {
			if err := journal.SetCode(db, addr, alloc.Code); err != nil {
				return err
			}
		}
		for key, value := range alloc.Storage {
			if _, err := journal.SStore(db, addr, key, value); err != nil {
				return err
			}
		}
		journal.Touch(addr)
	}
	return nil
}

// AddPersistentAccount marks addr persistent.
func (b *Backend) AddPersistentAccount(addr common.Address) bool {
	logger.Trace("add persistent account", "addr", addr)
	return b.persistent.Add(addr)
}

// RemovePersistentAccount removes the persistent mark of addr.
func (b *Backend) RemovePersistentAccount(addr common.Address) bool {
	logger.Trace("remove persistent account", "addr", addr)
	if !b.persistent.Contains(addr) {
		return false
	}
	b.persistent.Remove(addr)
	return true
}

// ExtendPersistentAccounts marks every address persistent.
func (b *Backend) ExtendPersistentAccounts(addrs ...common.Address) {
	b.persistent.Append(addrs...)
}

// IsPersistent returns whether addr is persistent.
func (b *Backend) IsPersistent(addr common.Address) bool { return b.persistent.Contains(addr) }

// PersistentAccounts returns the persistent accounts in address order.
func (b *Backend) PersistentAccounts() []common.Address {
	addrs := b.persistent.ToSlice()
	slices.SortFunc(addrs, func(a, b common.Address) int { return a.Cmp(b) })
	return addrs
}

// AllowCheatcodeAccess grants addr access to cheatcodes.
func (b *Backend) AllowCheatcodeAccess(addr common.Address) bool {
	return b.cheatcodeAccess.Add(addr)
}

// RevokeCheatcodeAccess revokes the cheatcode access of addr.
func (b *Backend) RevokeCheatcodeAccess(addr common.Address) bool {
	if !b.cheatcodeAccess.Contains(addr) {
		return false
	}
	b.cheatcodeAccess.Remove(addr)
	return true
}

// HasCheatcodeAccess returns whether addr may call cheatcodes.
func (b *Backend) HasCheatcodeAccess(addr common.Address) bool {
	return b.cheatcodeAccess.Contains(addr)
}

// EnsureCheatcodeAccess fails in forked mode for addresses without access. Whatever
// runs in local mode has access.
func (b *Backend) EnsureCheatcodeAccess(addr common.Address) error {
	if !b.IsForkedMode() || b.HasCheatcodeAccess(addr) {
		return nil
	}
	return &NoCheatcodeAccessError{Addr: addr}
}
