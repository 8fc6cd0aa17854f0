// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package state

import (
	"maps"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// AccountInfo is the account data every store holds.
// Code may be nil when only the code hash is known.
type AccountInfo struct {
	Balance  *uint256.Int
	Nonce    uint64
	CodeHash common.Hash
	Code     []byte
}

// NewAccountInfo returns the info of an account that does not exist.
func NewAccountInfo() AccountInfo {
	return AccountInfo{
		Balance:  new(uint256.Int),
		CodeHash: types.EmptyCodeHash,
	}
}

// HasCode returns whether the info refers to non-empty code.
func (a *AccountInfo) HasCode() bool {
	return a.CodeHash != types.EmptyCodeHash && a.CodeHash != (common.Hash{})
}

// IsEmpty returns whether the account is empty in the EIP-161 sense.
func (a *AccountInfo) IsEmpty() bool {
	return !a.HasCode() && a.Nonce == 0 && (a.Balance == nil || a.Balance.IsZero())
}

// Copy returns a copy safe to mutate. Code bytes are shared since they are never modified.
func (a AccountInfo) Copy() AccountInfo {
	if a.Balance == nil {
		a.Balance = new(uint256.Int)
	} else {
		a.Balance = new(uint256.Int).Set(a.Balance)
	}
	return a
}

// StorageSlot records the value of a slot when first loaded and its present value.
type StorageSlot struct {
	Original common.Hash
	Present  common.Hash
}

// IsChanged returns whether the present value differs from the original one.
func (s StorageSlot) IsChanged() bool {
	return s.Original != s.Present
}

// AccountStatus is a set of flags describing what happened to an account in the overlay.
type AccountStatus uint8

const (
	// Touched marks accounts modified by execution. Only touched accounts are committed.
	Touched AccountStatus = 1 << iota
	// Created marks accounts created in this overlay. Their storage starts empty.
	Created
	// SelfDestructed marks accounts to be removed on commit.
	SelfDestructed
	// LoadedAsNotExisting marks accounts the store reported as absent.
	LoadedAsNotExisting
)

// Account is an account loaded into a journal overlay.
type Account struct {
	Info    AccountInfo
	Storage map[common.Hash]StorageSlot
	Status  AccountStatus
}

// NewAccount wraps info into an account with empty storage.
func NewAccount(info AccountInfo) *Account {
	return &Account{
		Info:    info,
		Storage: make(map[common.Hash]StorageSlot),
	}
}

func (a *Account) IsTouched() bool             { return a.Status&Touched != 0 }
func (a *Account) IsCreated() bool             { return a.Status&Created != 0 }
func (a *Account) IsSelfDestructed() bool      { return a.Status&SelfDestructed != 0 }
func (a *Account) IsLoadedAsNotExisting() bool { return a.Status&LoadedAsNotExisting != 0 }

// Clone deep-copies the account.
func (a *Account) Clone() *Account {
	storage := maps.Clone(a.Storage)
	if storage == nil {
		storage = make(map[common.Hash]StorageSlot)
	}
	return &Account{
		Info:    a.Info.Copy(),
		Storage: storage,
		Status:  a.Status,
	}
}

// Changeset is the state diff produced by an execution, keyed by address.
type Changeset map[common.Address]*Account

// Database is the read interface a journal loads accounts through.
type Database interface {
	// Basic returns the account info and whether the account exists.
	// A missing account yields NewAccountInfo() and false.
	Basic(addr common.Address) (AccountInfo, bool, error)
	// CodeByHash returns the bytecode with the given hash.
	CodeByHash(hash common.Hash) ([]byte, error)
	// Storage returns the value of the slot.
	Storage(addr common.Address, slot common.Hash) (common.Hash, error)
	// BlockHash returns the hash of the block with the given number.
	BlockHash(number uint64) (common.Hash, error)
}
