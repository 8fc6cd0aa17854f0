// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cachedb

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/btree"
	"github.com/vechain/forkbackend/state"
)

const degree = 16

// AccountState tells how much of an account the store knows locally.
type AccountState uint8

const (
	// StateNone is an account loaded from the source. Unknown slots are fetched.
	StateNone AccountState = iota
	// StateTouched is an account modified locally. Unknown slots are still fetched.
	StateTouched
	// StateStorageCleared is an account whose whole storage is local. Unknown slots read zero.
	StateStorageCleared
	// StateNotExisting is an account the source reported as absent.
	StateNotExisting
)

func (s AccountState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateTouched:
		return "touched"
	case StateStorageCleared:
		return "storage-cleared"
	case StateNotExisting:
		return "not-existing"
	}
	return "unknown"
}

type slotItem struct {
	key   common.Hash
	value common.Hash
}

func slotLess(a, b slotItem) bool { return bytes.Compare(a.key[:], b.key[:]) < 0 }

func newStorage() *btree.BTreeG[slotItem] {
	return btree.NewG(degree, slotLess)
}

// DBAccount is an account held by a Store.
//
// Accounts returned by Store.Account are private copies. They may be modified freely
// and handed back with Store.PutAccount.
type DBAccount struct {
	Info  state.AccountInfo
	State AccountState

	storage *btree.BTreeG[slotItem]
	// gen is the generation of the store owning this value, zero when detached.
	gen uint64
}

// NewDBAccount creates a detached account with empty storage.
func NewDBAccount(info state.AccountInfo, st AccountState) *DBAccount {
	return &DBAccount{Info: info, State: st, storage: newStorage()}
}

// Slot returns the locally known value of the slot.
func (a *DBAccount) Slot(key common.Hash) (common.Hash, bool) {
	item, ok := a.storage.Get(slotItem{key: key})
	return item.value, ok
}

// SetSlot sets the local value of the slot.
func (a *DBAccount) SetSlot(key, value common.Hash) {
	a.storage.ReplaceOrInsert(slotItem{key: key, value: value})
}

// SlotCount returns the number of locally known slots.
func (a *DBAccount) SlotCount() int {
	return a.storage.Len()
}

// Slots iterates local slots in key order until fn returns false.
func (a *DBAccount) Slots(fn func(key, value common.Hash) bool) {
	a.storage.Ascend(func(item slotItem) bool {
		return fn(item.key, item.value)
	})
}

// ClearStorage drops every local slot.
func (a *DBAccount) ClearStorage() {
	a.storage = newStorage()
}

// MergeStorage copies every slot of from into a, overwriting slots both hold.
func (a *DBAccount) MergeStorage(from *DBAccount) {
	from.Slots(func(key, value common.Hash) bool {
		a.SetSlot(key, value)
		return true
	})
}

// SwapStorage exchanges the storage of a and other.
func (a *DBAccount) SwapStorage(other *DBAccount) {
	a.storage, other.storage = other.storage, a.storage
}

// detach returns a private copy sharing nothing mutable with a.
func (a *DBAccount) detach() *DBAccount {
	return &DBAccount{
		Info:    a.Info.Copy(),
		State:   a.State,
		storage: a.storage.Clone(),
	}
}

// ownedBy returns a copy of a belonging to the store generation gen.
func (a *DBAccount) ownedBy(gen uint64) *DBAccount {
	cpy := a.detach()
	cpy.gen = gen
	return cpy
}
