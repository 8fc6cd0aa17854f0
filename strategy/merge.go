// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package strategy

import (
	"maps"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vechain/forkbackend/cachedb"
	"github.com/vechain/forkbackend/state"
)

// MergeDBAccountData copies the cached account addr from src into dst. Slots held by
// both stores take the value of src. Accounts src does not hold are skipped.
func MergeDBAccountData(addr common.Address, src, dst *cachedb.Store) {
	acc, ok := src.Account(addr)
	if !ok {
		return
	}
	logger.Trace("merging database data", "addr", addr, "slots", acc.SlotCount())

	if acc.Info.HasCode() {
		if code, ok := src.Code(acc.Info.CodeHash); ok {
			dst.PutCode(acc.Info.CodeHash, code)
		}
	}
	if existing, ok := dst.Account(addr); ok {
		existing.MergeStorage(acc)
		acc.SwapStorage(existing)
	}
	dst.PutAccount(addr, acc)
}

// MergeJournaledStateData copies the journal entry of addr from src into dst, with the
// same slot precedence as MergeDBAccountData.
func MergeJournaledStateData(addr common.Address, src, dst *state.Journal) {
	acc, ok := src.Account(addr)
	if !ok {
		return
	}
	logger.Trace("updating journaled state account data", "addr", addr)

	acc = acc.Clone()
	if existing, ok := dst.Account(addr); ok {
		storage := maps.Clone(existing.Storage)
		maps.Copy(storage, acc.Storage)
		acc.Storage = storage
	}
	dst.Insert(addr, acc)
}
