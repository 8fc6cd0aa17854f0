// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// TransactionRequest is a transaction as submitted by a user, before it is resolved
// into a tx env.
type TransactionRequest struct {
	From                 *common.Address
	To                   *common.Address
	Gas                  *uint64
	GasPrice             *uint256.Int
	MaxFeePerGas         *uint256.Int
	MaxPriorityFeePerGas *uint256.Int
	Value                *uint256.Int
	Nonce                *uint64
	Input                []byte
	AccessList           types.AccessList
	ChainID              *uint64
}

// MissingFieldError is a request lacking a mandatory field.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("transaction request: no `%s` field found", e.Field)
}

// TxEnvFromRequest resolves a request into a tx env. The from, to, gas and value
// fields are mandatory.
func TxEnvFromRequest(req *TransactionRequest) (TxEnv, error) {
	switch {
	case req.From == nil:
		return TxEnv{}, &MissingFieldError{"from"}
	case req.To == nil:
		return TxEnv{}, &MissingFieldError{"to"}
	case req.Gas == nil:
		return TxEnv{}, &MissingFieldError{"gas"}
	case req.Value == nil:
		return TxEnv{}, &MissingFieldError{"value"}
	}

	to := *req.To
	tx := TxEnv{
		Caller:      *req.From,
		To:          &to,
		Value:       new(uint256.Int).Set(req.Value),
		Data:        req.Input,
		GasLimit:    *req.Gas,
		GasPrice:    cloneU256(req.GasPrice),
		PriorityFee: cloneU256(req.MaxPriorityFeePerGas),
		AccessList:  req.AccessList,
	}
	if req.GasPrice == nil && req.MaxFeePerGas != nil {
		tx.GasPrice = new(uint256.Int).Set(req.MaxFeePerGas)
	}
	if req.Nonce != nil {
		nonce := *req.Nonce
		tx.Nonce = &nonce
	}
	if req.ChainID != nil {
		id := *req.ChainID
		tx.ChainID = &id
	}
	return tx.Copy(), nil
}

// TxEnvFromTransaction builds the tx env replaying a signed transaction sent by from.
func TxEnvFromTransaction(tx *types.Transaction, from common.Address) TxEnv {
	nonce := tx.Nonce()
	env := TxEnv{
		Caller:     from,
		To:         tx.To(),
		Value:      u256FromBig(tx.Value()),
		Data:       tx.Data(),
		GasLimit:   tx.Gas(),
		GasPrice:   u256FromBig(tx.GasFeeCap()),
		Nonce:      &nonce,
		AccessList: tx.AccessList(),
	}
	if tx.Type() != types.LegacyTxType && tx.Type() != types.AccessListTxType {
		env.PriorityFee = u256FromBig(tx.GasTipCap())
	}
	if tx.Protected() {
		id := tx.ChainId().Uint64()
		env.ChainID = &id
	}
	return env
}
