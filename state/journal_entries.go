// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// journalEntry is a modification that can be undone. Entries hold values only,
// so a cloned journal may share them.
type journalEntry interface {
	revert(j *Journal)
}

type (
	touchChange struct {
		addr common.Address
	}
	balanceChange struct {
		addr common.Address
		prev *uint256.Int
	}
	nonceChange struct {
		addr common.Address
		prev uint64
	}
	codeChange struct {
		addr     common.Address
		prevHash common.Hash
		prevCode []byte
	}
	storageChange struct {
		addr common.Address
		key  common.Hash
		prev common.Hash
	}
	// noopChange pads the entries of a journal aligned to another one.
	noopChange struct{}
	// accountReset restores a whole account, used by creation and self-destruct.
	accountReset struct {
		addr common.Address
		prev *Account
	}
)

func (noopChange) revert(*Journal) {}

func (ch touchChange) revert(j *Journal) {
	if acc, ok := j.state[ch.addr]; ok {
		acc.Status &^= Touched
	}
}

func (ch balanceChange) revert(j *Journal) {
	if acc, ok := j.state[ch.addr]; ok {
		acc.Info.Balance = new(uint256.Int).Set(ch.prev)
	}
}

func (ch nonceChange) revert(j *Journal) {
	if acc, ok := j.state[ch.addr]; ok {
		acc.Info.Nonce = ch.prev
	}
}

func (ch codeChange) revert(j *Journal) {
	if acc, ok := j.state[ch.addr]; ok {
		acc.Info.CodeHash, acc.Info.Code = ch.prevHash, ch.prevCode
	}
}

func (ch storageChange) revert(j *Journal) {
	if acc, ok := j.state[ch.addr]; ok {
		slot := acc.Storage[ch.key]
		slot.Present = ch.prev
		acc.Storage[ch.key] = slot
	}
}

func (ch accountReset) revert(j *Journal) {
	j.state[ch.addr] = ch.prev.Clone()
}
