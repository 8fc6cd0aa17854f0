// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package fork pins account stores to a block of a remote chain.
package fork

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/vechain/forkbackend/cachedb"
	"github.com/vechain/forkbackend/evm"
	"github.com/vechain/forkbackend/state"
)

// ID is the identity of a remote endpoint pinned at a block, formatted url@block.
type ID string

// NewID returns the id of url pinned at block.
func NewID(url string, block uint64) ID {
	return ID(fmt.Sprintf("%s@%d", url, block))
}

// CreateFork describes a fork to open.
type CreateFork struct {
	URL string
	// Block is the block to pin, nil for the latest one.
	Block *uint64
	// Env is the template env of the fork. Its block part and chain id are
	// replaced with the values of the pinned block.
	Env evm.Env
}

// Fork is an account store and a journal over a remote chain pinned at a block.
// The pin never changes; moving to another block creates another Fork.
type Fork struct {
	id     ID
	url    string
	block  uint64
	env    evm.Env
	remote Remote

	DB      *cachedb.Store
	Journal *state.Journal
}

// New assembles a fork.
func New(url string, block uint64, env evm.Env, remote Remote, db *cachedb.Store, journal *state.Journal) *Fork {
	return &Fork{
		id:      NewID(url, block),
		url:     url,
		block:   block,
		env:     env,
		remote:  remote,
		DB:      db,
		Journal: journal,
	}
}

func (f *Fork) ID() ID         { return f.id }
func (f *Fork) URL() string    { return f.url }
func (f *Fork) Block() uint64  { return f.block }
func (f *Fork) Remote() Remote { return f.remote }

// Env returns a copy of the env of the pinned block.
func (f *Fork) Env() evm.Env { return f.env.Copy() }

// UpdateBlock records block number and timestamp changes made while the fork was active.
// The pinned block is unaffected.
func (f *Fork) UpdateBlock(number, timestamp uint64) {
	f.env.Block.Number = number
	f.env.Block.Timestamp = timestamp
}

// Balance returns the balance of the account as seen by the fork.
func (f *Fork) Balance(addr common.Address) (*uint256.Int, error) {
	info, err := f.Journal.ReadInfo(f.DB, addr)
	if err != nil {
		return nil, err
	}
	return info.Balance, nil
}

// Nonce returns the nonce of the account as seen by the fork.
func (f *Fork) Nonce(addr common.Address) (uint64, error) {
	info, err := f.Journal.ReadInfo(f.DB, addr)
	if err != nil {
		return 0, err
	}
	return info.Nonce, nil
}

// Code returns the code of the account as seen by the fork.
func (f *Fork) Code(addr common.Address) ([]byte, error) {
	return f.Journal.ReadCode(f.DB, addr)
}

// StorageAt returns the value of a slot as seen by the fork.
func (f *Fork) StorageAt(addr common.Address, slot common.Hash) (common.Hash, error) {
	return f.Journal.ReadStorage(f.DB, addr, slot)
}

// IsContract returns whether the account has code on the fork.
func (f *Fork) IsContract(addr common.Address) (bool, error) {
	info, err := f.Journal.ReadInfo(f.DB, addr)
	if err != nil {
		return false, err
	}
	return info.HasCode(), nil
}

// Clone returns an independent copy of the fork. Stores share unmodified data.
func (f *Fork) Clone() *Fork {
	cpy := *f
	cpy.env = f.env.Copy()
	cpy.DB = f.DB.Clone()
	cpy.Journal = f.Journal.Clone()
	return &cpy
}
