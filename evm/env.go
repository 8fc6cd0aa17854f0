// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package evm

import (
	"bytes"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// CfgEnv holds the chain configuration of an execution.
type CfgEnv struct {
	ChainID uint64
	Spec    SpecID
}

// BlockEnv describes the block an execution runs in.
type BlockEnv struct {
	Number     uint64
	Timestamp  uint64
	Coinbase   common.Address
	BaseFee    *uint256.Int
	GasLimit   uint64
	PrevRandao common.Hash
}

// TxEnv describes the transaction being executed.
type TxEnv struct {
	Caller      common.Address
	To          *common.Address // nil for contract creation
	Value       *uint256.Int
	Data        []byte
	GasLimit    uint64
	GasPrice    *uint256.Int
	PriorityFee *uint256.Int
	Nonce       *uint64 // nil skips the nonce check
	AccessList  types.AccessList
	ChainID     *uint64
}

// Env is the whole execution environment.
type Env struct {
	Cfg   CfgEnv
	Block BlockEnv
	Tx    TxEnv
}

// Copy returns a deep copy of the env.
func (e *Env) Copy() Env {
	cpy := *e
	cpy.Block.BaseFee = cloneU256(e.Block.BaseFee)
	cpy.Tx = e.Tx.Copy()
	return cpy
}

// Copy returns a deep copy of the tx env.
func (t *TxEnv) Copy() TxEnv {
	cpy := *t
	if t.To != nil {
		to := *t.To
		cpy.To = &to
	}
	if t.Nonce != nil {
		nonce := *t.Nonce
		cpy.Nonce = &nonce
	}
	if t.ChainID != nil {
		id := *t.ChainID
		cpy.ChainID = &id
	}
	cpy.Value = cloneU256(t.Value)
	cpy.GasPrice = cloneU256(t.GasPrice)
	cpy.PriorityFee = cloneU256(t.PriorityFee)
	cpy.Data = bytes.Clone(t.Data)
	cpy.AccessList = slices.Clone(t.AccessList)
	return cpy
}

func cloneU256(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return new(uint256.Int).Set(v)
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
