// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package cachedb implements the account store: a memoising cache of accounts, code,
// storage and block hashes in front of an upstream Source.
//
// Stores are copy-on-write. Clone shares every tree with the original and both sides copy
// only the parts they modify afterwards, so snapshots and ephemeral executions are cheap.
package cachedb

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/btree"
	"github.com/pkg/errors"
	"github.com/vechain/forkbackend/cache"
	"github.com/vechain/forkbackend/state"
)

// ErrCodeNotFound is returned when code is requested by a hash the store never saw.
var ErrCodeNotFound = errors.New("code not found")

// Source is the upstream a store falls back to on a miss.
type Source interface {
	// Account returns the account info, or nil if the account does not exist.
	Account(addr common.Address) (*state.AccountInfo, error)
	Storage(addr common.Address, slot common.Hash) (common.Hash, error)
	BlockHash(number uint64) (common.Hash, error)
}

// Error is the error caused by the upstream source.
type Error struct {
	Op    string
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cachedb: %s: %v", e.Op, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

type accountItem struct {
	addr common.Address
	acc  *DBAccount
}

type codeItem struct {
	hash common.Hash
	code []byte
}

type hashItem struct {
	number uint64
	hash   common.Hash
}

var generations atomic.Uint64

func nextGeneration() uint64 { return generations.Add(1) }

// Store is a copy-on-write account store. It is not safe for concurrent use.
type Store struct {
	src    Source
	codes  *cache.Code
	gen    uint64
	accts  *btree.BTreeG[accountItem]
	code   *btree.BTreeG[codeItem]
	hashes *btree.BTreeG[hashItem]
}

// New creates an empty store over src. The code cache may be shared between stores and may be nil.
func New(src Source, codes *cache.Code) *Store {
	return &Store{
		src:   src,
		codes: codes,
		gen:   nextGeneration(),
		accts: btree.NewG(degree, func(a, b accountItem) bool {
			return bytes.Compare(a.addr[:], b.addr[:]) < 0
		}),
		code: btree.NewG(degree, func(a, b codeItem) bool {
			return bytes.Compare(a.hash[:], b.hash[:]) < 0
		}),
		hashes: btree.NewG(degree, func(a, b hashItem) bool {
			return a.number < b.number
		}),
	}
}

// Clone returns a store with the same content. Both stores keep sharing unmodified data.
func (s *Store) Clone() *Store {
	c := &Store{
		src:    s.src,
		codes:  s.codes,
		gen:    nextGeneration(),
		accts:  s.accts.Clone(),
		code:   s.code.Clone(),
		hashes: s.hashes.Clone(),
	}
	// accounts reachable from both stores now belong to neither
	s.gen = nextGeneration()
	return c
}

// Source returns the upstream of the store.
func (s *Store) Source() Source { return s.src }

// Len returns the number of cached accounts.
func (s *Store) Len() int { return s.accts.Len() }

// Contains returns whether the account is cached, without fetching it.
func (s *Store) Contains(addr common.Address) bool {
	_, ok := s.accts.Get(accountItem{addr: addr})
	return ok
}

// Account returns a private copy of the cached account, without fetching it.
func (s *Store) Account(addr common.Address) (*DBAccount, bool) {
	item, ok := s.accts.Get(accountItem{addr: addr})
	if !ok {
		return nil, false
	}
	return item.acc.detach(), true
}

// Accounts iterates cached accounts in address order until fn returns false.
// The accounts passed to fn must not be modified.
func (s *Store) Accounts(fn func(addr common.Address, acc *DBAccount) bool) {
	s.accts.Ascend(func(item accountItem) bool {
		return fn(item.addr, item.acc)
	})
}

// PutAccount stores acc at addr. The store takes ownership of acc.
func (s *Store) PutAccount(addr common.Address, acc *DBAccount) {
	if acc.storage == nil {
		acc.storage = newStorage()
	}
	acc.gen = s.gen
	s.accts.ReplaceOrInsert(accountItem{addr: addr, acc: acc})
}

// Code returns cached code by hash, without fetching it.
func (s *Store) Code(hash common.Hash) ([]byte, bool) {
	if item, ok := s.code.Get(codeItem{hash: hash}); ok {
		return item.code, true
	}
	return nil, false
}

// PutCode stores code under hash.
func (s *Store) PutCode(hash common.Hash, code []byte) {
	s.code.ReplaceOrInsert(codeItem{hash: hash, code: code})
	if s.codes != nil {
		s.codes.Add(hash, code)
	}
}

// mutable returns the cached account at addr owned by this store generation.
func (s *Store) mutable(addr common.Address) (*DBAccount, bool) {
	item, ok := s.accts.Get(accountItem{addr: addr})
	if !ok {
		return nil, false
	}
	if item.acc.gen == s.gen {
		return item.acc, true
	}
	acc := item.acc.ownedBy(s.gen)
	s.accts.ReplaceOrInsert(accountItem{addr: addr, acc: acc})
	return acc, true
}

// mutableOrDefault is mutable, inserting an empty account when addr is not cached.
func (s *Store) mutableOrDefault(addr common.Address) *DBAccount {
	if acc, ok := s.mutable(addr); ok {
		return acc
	}
	acc := NewDBAccount(state.NewAccountInfo(), StateNone)
	s.PutAccount(addr, acc)
	return acc
}

// load returns the cached account, fetching it on a miss.
func (s *Store) load(addr common.Address) (*DBAccount, error) {
	if item, ok := s.accts.Get(accountItem{addr: addr}); ok {
		metricLookups().AddWithLabel(1, map[string]string{"kind": "account", "result": "hit"})
		return item.acc, nil
	}
	metricLookups().AddWithLabel(1, map[string]string{"kind": "account", "result": "miss"})

	info, err := s.src.Account(addr)
	if err != nil {
		return nil, &Error{"account " + addr.Hex(), err}
	}
	var acc *DBAccount
	if info == nil {
		acc = NewDBAccount(state.NewAccountInfo(), StateNotExisting)
	} else {
		acc = NewDBAccount(info.Copy(), StateNone)
		s.insertCode(&acc.Info)
	}
	s.PutAccount(addr, acc)
	return acc, nil
}

// insertCode moves code bytes of info into the code table and fixes up the hash.
func (s *Store) insertCode(info *state.AccountInfo) {
	if len(info.Code) == 0 {
		if info.CodeHash == (common.Hash{}) {
			info.CodeHash = types.EmptyCodeHash
		}
		return
	}
	if !info.HasCode() {
		info.CodeHash = hashCode(info.Code)
	}
	s.PutCode(info.CodeHash, info.Code)
}

func hashCode(code []byte) common.Hash { return crypto.Keccak256Hash(code) }

// Basic implements state.Database.
func (s *Store) Basic(addr common.Address) (state.AccountInfo, bool, error) {
	acc, err := s.load(addr)
	if err != nil {
		return state.AccountInfo{}, false, err
	}
	if acc.State == StateNotExisting {
		return state.NewAccountInfo(), false, nil
	}
	return acc.Info.Copy(), true, nil
}

// CodeByHash implements state.Database.
func (s *Store) CodeByHash(hash common.Hash) ([]byte, error) {
	if hash == types.EmptyCodeHash || hash == (common.Hash{}) {
		return nil, nil
	}
	if code, ok := s.Code(hash); ok {
		metricLookups().AddWithLabel(1, map[string]string{"kind": "code", "result": "hit"})
		return code, nil
	}
	if s.codes != nil {
		if code, ok := s.codes.Get(hash); ok {
			metricLookups().AddWithLabel(1, map[string]string{"kind": "code", "result": "shared"})
			s.code.ReplaceOrInsert(codeItem{hash: hash, code: code})
			return code, nil
		}
	}
	metricLookups().AddWithLabel(1, map[string]string{"kind": "code", "result": "miss"})
	// code always arrives with its account, there is no way to fetch it by hash
	return nil, &Error{"code " + hash.Hex(), ErrCodeNotFound}
}

// Storage implements state.Database.
func (s *Store) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	acc, err := s.load(addr)
	if err != nil {
		return common.Hash{}, err
	}
	if value, ok := acc.Slot(slot); ok {
		metricLookups().AddWithLabel(1, map[string]string{"kind": "storage", "result": "hit"})
		return value, nil
	}
	if acc.State == StateStorageCleared || acc.State == StateNotExisting {
		return common.Hash{}, nil
	}
	metricLookups().AddWithLabel(1, map[string]string{"kind": "storage", "result": "miss"})

	value, err := s.src.Storage(addr, slot)
	if err != nil {
		return common.Hash{}, &Error{"storage " + addr.Hex(), err}
	}
	acc, _ = s.mutable(addr)
	acc.SetSlot(slot, value)
	return value, nil
}

// BlockHash implements state.Database.
func (s *Store) BlockHash(number uint64) (common.Hash, error) {
	if item, ok := s.hashes.Get(hashItem{number: number}); ok {
		metricLookups().AddWithLabel(1, map[string]string{"kind": "blockhash", "result": "hit"})
		return item.hash, nil
	}
	metricLookups().AddWithLabel(1, map[string]string{"kind": "blockhash", "result": "miss"})
	hash, err := s.src.BlockHash(number)
	if err != nil {
		return common.Hash{}, &Error{fmt.Sprintf("blockhash %d", number), err}
	}
	s.hashes.ReplaceOrInsert(hashItem{number: number, hash: hash})
	return hash, nil
}

// SetBlockHash records the hash of a block.
func (s *Store) SetBlockHash(number uint64, hash common.Hash) {
	s.hashes.ReplaceOrInsert(hashItem{number: number, hash: hash})
}

// InsertAccountInfo overwrites the info of an account, keeping its storage.
func (s *Store) InsertAccountInfo(addr common.Address, info state.AccountInfo) {
	info = info.Copy()
	s.insertCode(&info)
	acc := s.mutableOrDefault(addr)
	acc.Info = info
	if acc.State == StateNotExisting {
		// nothing upstream, the storage is local
		acc.State = StateStorageCleared
	}
}

// InsertAccountStorage sets a slot, loading the account first.
func (s *Store) InsertAccountStorage(addr common.Address, slot, value common.Hash) error {
	if _, err := s.load(addr); err != nil {
		return err
	}
	acc, _ := s.mutable(addr)
	if acc.State == StateNotExisting {
		acc.State = StateStorageCleared
	}
	acc.SetSlot(slot, value)
	return nil
}

// ReplaceAccountStorage replaces the whole storage of an account. Slots not in
// storage read zero afterwards.
func (s *Store) ReplaceAccountStorage(addr common.Address, storage map[common.Hash]common.Hash) error {
	if _, err := s.load(addr); err != nil {
		return err
	}
	acc, _ := s.mutable(addr)
	acc.ClearStorage()
	acc.State = StateStorageCleared
	for key, value := range storage {
		acc.SetSlot(key, value)
	}
	return nil
}

// Commit applies the changes of an execution.
//
// Untouched accounts are skipped. Self-destructed accounts are dropped and read as
// absent afterwards. Created accounts lose their previous storage first.
func (s *Store) Commit(changes state.Changeset) {
	for addr, change := range changes {
		if !change.IsTouched() {
			continue
		}
		if change.IsSelfDestructed() {
			acc := s.mutableOrDefault(addr)
			acc.ClearStorage()
			acc.State = StateNotExisting
			acc.Info = state.NewAccountInfo()
			continue
		}

		info := change.Info.Copy()
		s.insertCode(&info)
		acc := s.mutableOrDefault(addr)
		acc.Info = info

		switch {
		case change.IsCreated():
			acc.ClearStorage()
			acc.State = StateStorageCleared
		case acc.State == StateStorageCleared:
		case acc.State == StateNotExisting:
			acc.State = StateStorageCleared
		default:
			acc.State = StateTouched
		}
		for key, slot := range change.Storage {
			acc.SetSlot(key, slot.Present)
		}
	}
}
