// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package upstream provides the sources account stores fetch from on a miss:
// nothing at all, a set of genesis allocations, or a remote chain pinned at a block.
package upstream

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/vechain/forkbackend/cachedb"
	"github.com/vechain/forkbackend/state"
)

var (
	_ cachedb.Source = Empty{}
	_ cachedb.Source = Alloc{}
	_ cachedb.Source = (*RPC)(nil)
)

// Error is a failed upstream request.
type Error struct {
	Op      string
	Timeout bool
	Cause   error
}

func (e *Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("upstream: %s: timed out: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("upstream: %s: %v", e.Op, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// localBlockHash is the hash of a block that only exists locally.
func localBlockHash(number uint64) common.Hash {
	return crypto.Keccak256Hash([]byte(strconv.FormatUint(number, 10)))
}

// Empty is a source where no account exists.
type Empty struct{}

func (Empty) Account(common.Address) (*state.AccountInfo, error) { return nil, nil }

func (Empty) Storage(common.Address, common.Hash) (common.Hash, error) { return common.Hash{}, nil }

func (Empty) BlockHash(number uint64) (common.Hash, error) { return localBlockHash(number), nil }

// GenesisAccount is an account allocated at genesis.
type GenesisAccount struct {
	Balance *uint256.Int
	Nonce   uint64
	Code    []byte
	Storage map[common.Hash]common.Hash
}

// Info returns the account info of the allocation.
func (g *GenesisAccount) Info() state.AccountInfo {
	info := state.NewAccountInfo()
	if g.Balance != nil {
		info.Balance.Set(g.Balance)
	}
	info.Nonce = g.Nonce
	if len(g.Code) > 0 {
		info.Code = g.Code
		info.CodeHash = crypto.Keccak256Hash(g.Code)
	} else {
		info.CodeHash = types.EmptyCodeHash
	}
	return info
}

// Alloc is a source serving genesis allocations.
type Alloc map[common.Address]GenesisAccount

func (a Alloc) Account(addr common.Address) (*state.AccountInfo, error) {
	g, ok := a[addr]
	if !ok {
		return nil, nil
	}
	info := g.Info()
	return &info, nil
}

func (a Alloc) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	return a[addr].Storage[slot], nil
}

func (a Alloc) BlockHash(number uint64) (common.Hash, error) { return localBlockHash(number), nil }
