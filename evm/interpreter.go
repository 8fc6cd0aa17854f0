// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package evm defines the boundary to the bytecode interpreter: the execution environment,
// results and the Interpreter interface, plus a builtin interpreter for plain transfers.
package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/holiman/uint256"
	"github.com/vechain/forkbackend/state"
)

// Interpreter executes a transaction described by env against db.
//
// Reads go through journal, which is loaded from db on demand. The interpreter must not
// write to db; its changes are returned as the state of the result. An error is returned
// only when the transaction is invalid or db fails, reverts and halts are results.
type Interpreter interface {
	Transact(env *Env, db state.Database, journal *state.Journal, hooks *tracing.Hooks) (*ResultAndState, error)
}

// InterpreterFunc adapts a function to Interpreter.
type InterpreterFunc func(env *Env, db state.Database, journal *state.Journal, hooks *tracing.Hooks) (*ResultAndState, error)

func (f InterpreterFunc) Transact(env *Env, db state.Database, journal *state.Journal, hooks *tracing.Hooks) (*ResultAndState, error) {
	return f(env, db, journal, hooks)
}

// InvalidTransactionError is a transaction rejected before execution.
type InvalidTransactionError struct {
	Reason string
}

func (e *InvalidTransactionError) Error() string {
	return "invalid transaction: " + e.Reason
}

const (
	txGas             = 21000
	txDataZeroGas     = 4
	txDataNonZeroGas  = 16
	txAccessListAddr  = 2400
	txAccessListSlot  = 1900
	opCall       byte = 0xf1
)

// IntrinsicGas returns the gas charged before execution.
func IntrinsicGas(tx *TxEnv) uint64 {
	gas := uint64(txGas)
	for _, b := range tx.Data {
		if b == 0 {
			gas += txDataZeroGas
		} else {
			gas += txDataNonZeroGas
		}
	}
	for _, tuple := range tx.AccessList {
		gas += txAccessListAddr + uint64(len(tuple.StorageKeys))*txAccessListSlot
	}
	return gas
}

// effectiveGasPrice returns the price paid per gas and the part of it going to the coinbase.
func effectiveGasPrice(env *Env) (price, tip *uint256.Int) {
	price = orZero(env.Tx.GasPrice)
	baseFee := orZero(env.Block.BaseFee)
	if env.Tx.PriorityFee != nil {
		// dynamic fee: GasPrice is the max fee
		if capped := new(uint256.Int).Add(baseFee, env.Tx.PriorityFee); capped.Lt(price) {
			price = capped
		}
	}
	if price.Lt(baseFee) {
		return price, new(uint256.Int)
	}
	return price, new(uint256.Int).Sub(price, baseFee)
}

// Transfer executes plain value transfers. Calling an account with code, or creating
// a contract, halts with HaltNotSupported since that requires a bytecode interpreter.
type Transfer struct{}

var _ Interpreter = Transfer{}

// Transact implements Interpreter.
func (Transfer) Transact(env *Env, db state.Database, journal *state.Journal, hooks *tracing.Hooks) (*ResultAndState, error) {
	tx := &env.Tx
	if tx.ChainID != nil && *tx.ChainID != env.Cfg.ChainID {
		return nil, &InvalidTransactionError{fmt.Sprintf("chain id mismatch: have %d, want %d", *tx.ChainID, env.Cfg.ChainID)}
	}
	intrinsic := IntrinsicGas(tx)
	if tx.GasLimit < intrinsic {
		return nil, &InvalidTransactionError{fmt.Sprintf("intrinsic gas too low: have %d, want %d", tx.GasLimit, intrinsic)}
	}
	price, tip := effectiveGasPrice(env)
	if env.Block.BaseFee != nil && tx.GasPrice != nil && tx.GasPrice.Lt(env.Block.BaseFee) {
		return nil, &InvalidTransactionError{"gas price less than block base fee"}
	}

	caller, err := journal.LoadAccount(db, tx.Caller)
	if err != nil {
		return nil, err
	}
	if tx.Nonce != nil && *tx.Nonce != caller.Info.Nonce {
		return nil, &InvalidTransactionError{fmt.Sprintf("nonce mismatch: have %d, want %d", *tx.Nonce, caller.Info.Nonce)}
	}
	value := orZero(tx.Value)
	maxFee := new(uint256.Int).Mul(uint256.NewInt(tx.GasLimit), price)
	if cost := new(uint256.Int).Add(maxFee, value); caller.Info.Balance.Lt(cost) {
		return nil, &InvalidTransactionError{fmt.Sprintf("insufficient funds: have %v, want %v", caller.Info.Balance, cost)}
	}

	// buy gas
	if err := journal.SetBalance(db, tx.Caller, new(uint256.Int).Sub(caller.Info.Balance, maxFee)); err != nil {
		return nil, err
	}
	if _, err := journal.IncNonce(db, tx.Caller); err != nil {
		return nil, err
	}

	result := ExecutionResult{Status: Success, GasUsed: intrinsic}
	var to common.Address
	if tx.To != nil {
		to = *tx.To
	}
	if hooks != nil && hooks.OnEnter != nil {
		hooks.OnEnter(journal.Depth(), opCall, tx.Caller, to, tx.Data, tx.GasLimit-intrinsic, value.ToBig())
	}

	// checkpoint to be reverted on failure
	checkpoint := journal.Checkpoint()
	if err := transfer(journal, db, tx, value, &result); err != nil {
		journal.CheckpointRevert(checkpoint)
		return nil, err
	}
	if result.IsSuccess() {
		journal.CheckpointCommit(checkpoint)
	} else {
		journal.CheckpointRevert(checkpoint)
	}

	if hooks != nil && hooks.OnExit != nil {
		var exitErr error
		if !result.IsSuccess() {
			exitErr = fmt.Errorf("%s", result.Reason)
		}
		hooks.OnExit(journal.Depth(), nil, result.GasUsed-intrinsic, exitErr, !result.IsSuccess())
	}

	// return unused gas and reward the coinbase
	sender, _ := journal.Account(tx.Caller)
	refund := new(uint256.Int).Mul(uint256.NewInt(tx.GasLimit-result.GasUsed), price)
	if err := journal.SetBalance(db, tx.Caller, new(uint256.Int).Add(sender.Info.Balance, refund)); err != nil {
		return nil, err
	}
	if reward := new(uint256.Int).Mul(uint256.NewInt(result.GasUsed), tip); !reward.IsZero() {
		coinbase, err := journal.LoadAccount(db, env.Block.Coinbase)
		if err != nil {
			return nil, err
		}
		if err := journal.SetBalance(db, env.Block.Coinbase, new(uint256.Int).Add(coinbase.Info.Balance, reward)); err != nil {
			return nil, err
		}
	}

	changes, logs := journal.Finalize()
	result.Logs = logs
	return &ResultAndState{Result: result, State: changes}, nil
}

func transfer(journal *state.Journal, db state.Database, tx *TxEnv, value *uint256.Int, result *ExecutionResult) error {
	if tx.To == nil {
		result.Status, result.Reason, result.GasUsed = Halt, HaltNotSupported, tx.GasLimit
		return nil
	}
	callee, err := journal.LoadCode(db, *tx.To)
	if err != nil {
		return err
	}
	if callee.Info.HasCode() {
		result.Status, result.Reason, result.GasUsed = Halt, HaltNotSupported, tx.GasLimit
		return nil
	}
	return journal.Transfer(db, tx.Caller, *tx.To, value)
}

// u256FromBig converts an optional big integer.
func u256FromBig(v *big.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	u, _ := uint256.FromBig(v)
	return u
}
