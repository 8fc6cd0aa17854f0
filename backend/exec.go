// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package backend

import (
	"context"
	"maps"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/vechain/forkbackend/evm"
	"github.com/vechain/forkbackend/fork"
	"github.com/vechain/forkbackend/state"
	"github.com/vechain/forkbackend/strategy"
)

// depositTxType is the type of rollup system transactions, which are never replayed.
const depositTxType = 0x7e

var (
	// ArbitrumSender is the sender of arbitrum system transactions.
	ArbitrumSender = common.HexToAddress("0x00000000000000000000000000000000000a4b05")
	// OptimismSystemAddress is the sender of optimism system transactions.
	OptimismSystemAddress = common.HexToAddress("0xdeaddeaddeaddeaddeaddeaddeaddeaddead0001")
)

// isSystemTransaction reports the rollup system transactions. They carry no pricing and
// would revert when replayed.
func isSystemTransaction(tx *types.Transaction, from common.Address) bool {
	return tx.Type() == depositTxType || from == ArbitrumSender || from == OptimismSystemAddress
}

// Transact executes the transaction of env against the active state. Nothing is
// committed; the caller decides what to do with the returned state.
// A nil env runs the current env.
func (b *Backend) Transact(env *evm.Env, hooks *tracing.Hooks) (*evm.ResultAndState, error) {
	if env == nil {
		env = &b.env
	}
	return b.strategy.Runner.Inspect(b.strategy.Context, b, env, hooks)
}

// Commit implements strategy.Backend.
func (b *Backend) Commit(changes state.Changeset) error {
	db := b.ActiveDB()
	db.Commit(changes)
	return b.ActiveJournal().Sync(db, nil)
}

// CowCopy implements strategy.Backend. The copy shares unmodified data with b, and
// nothing done to it is visible in b.
func (b *Backend) CowCopy() strategy.Backend {
	cpy := *b
	cpy.persistent = b.persistent.Clone()
	cpy.cheatcodeAccess = b.cheatcodeAccess.Clone()
	cpy.env = b.env.Copy()
	if f := b.activeFork(); f != nil {
		cpy.issued = maps.Clone(b.issued)
		cpy.issued[*b.active] = f.Clone()
		id := *b.active
		cpy.active = &id
	} else {
		cpy.memDB = b.memDB.Clone()
		cpy.memJournal = b.memJournal.Clone()
	}
	return &cpy
}

// TransactFromTx executes req in isolation, then commits its outcome into the active
// store and resyncs the active journal.
func (b *Backend) TransactFromTx(req *evm.TransactionRequest, hooks *tracing.Hooks) error {
	logger.Trace("execute transaction request", "from", req.From, "to", req.To)
	return b.strategy.Runner.TransactFromTx(b.strategy.Context, b, req, &b.env, b.ActiveJournal(), hooks)
}

// CallFromTx executes req the way TransactFromTx does, on an ephemeral copy of the
// active state, and returns the outcome without committing anything.
func (b *Backend) CallFromTx(req *evm.TransactionRequest, hooks *tracing.Hooks) (*evm.ResultAndState, error) {
	tx, err := evm.TxEnvFromRequest(req)
	if err != nil {
		return nil, errors.Wrap(err, "call from tx")
	}
	env := b.env.Copy()
	env.Tx = tx
	env.Cfg.Spec = b.strategy.Spec(&env)
	return strategy.Replay(b, &env, b.ActiveJournal().Depth()+1, hooks)
}

// TransactOnFork executes a mined transaction of the fork with the given id, as it was
// mined, and commits its outcome into the fork. Persistent accounts in the fork journal
// keep their journaled state.
func (b *Backend) TransactOnFork(id LocalForkID, hash common.Hash, hooks *tracing.Hooks) error {
	f, ok := b.issued[id]
	if !ok {
		return &ForkSwitchError{ID: id}
	}
	remote := f.Remote()
	if remote == nil {
		return errors.Errorf("backend: fork %d has no remote", id)
	}
	tx, from, number, err := remote.Transaction(hash)
	if err != nil {
		return errors.Wrapf(err, "transaction %v", hash)
	}
	header, err := remote.Header(number)
	if err != nil {
		return errors.Wrapf(err, "header of block %d", number)
	}
	env := b.env.Copy()
	env.Block = fork.BlockEnvFromHeader(header)
	return b.commitTransaction(f, &env, tx, from, hooks)
}

// RollForkToTransaction rolls the fork to the parent of the block holding the transaction
// and replays the transactions mined before it in the same block.
func (b *Backend) RollForkToTransaction(ctx context.Context, id LocalForkID, hash common.Hash) error {
	f, ok := b.issued[id]
	if !ok {
		return &ForkSwitchError{ID: id}
	}
	remote := f.Remote()
	if remote == nil {
		return errors.Errorf("backend: fork %d has no remote", id)
	}
	_, _, number, err := remote.Transaction(hash)
	if err != nil {
		return errors.Wrapf(err, "transaction %v", hash)
	}
	if number == 0 {
		return errors.Errorf("transaction %v is in the genesis block", hash)
	}
	if err := b.RollFork(ctx, id, number-1); err != nil {
		return err
	}

	header, err := remote.Header(number)
	if err != nil {
		return errors.Wrapf(err, "header of block %d", number)
	}
	env := b.env.Copy()
	env.Block = fork.BlockEnvFromHeader(header)
	if b.IsActiveFork(id) {
		b.env.Block = env.Block
	}
	return b.replayUntil(id, &env, hash)
}

// RollActiveForkToTransaction rolls the active fork to the transaction, see RollForkToTransaction.
func (b *Backend) RollActiveForkToTransaction(ctx context.Context, hash common.Hash) error {
	id, ok := b.ActiveForkID()
	if !ok {
		return ErrNoActiveFork
	}
	return b.RollForkToTransaction(ctx, id, hash)
}

// CreateForkAtTransaction creates a fork at the block of the transaction, with the
// transactions mined before it in the block committed.
func (b *Backend) CreateForkAtTransaction(ctx context.Context, cf fork.CreateFork, hash common.Hash) (LocalForkID, error) {
	logger.Trace("create fork at transaction", "tx", hash)
	id, err := b.CreateFork(ctx, cf)
	if err != nil {
		return 0, err
	}
	// the fork is not active, rolling it leaves the active journal alone
	if err := b.RollForkToTransaction(ctx, id, hash); err != nil {
		return 0, err
	}
	return id, nil
}

// CreateSelectForkAtTransaction creates a fork at the transaction and selects it.
func (b *Backend) CreateSelectForkAtTransaction(ctx context.Context, cf fork.CreateFork, hash common.Hash) (LocalForkID, error) {
	id, err := b.CreateForkAtTransaction(ctx, cf, hash)
	if err != nil {
		return 0, err
	}
	if err := b.SelectFork(id); err != nil {
		return 0, err
	}
	return id, nil
}

// replayUntil commits the transactions of the env block mined before hash.
func (b *Backend) replayUntil(id LocalForkID, env *evm.Env, hash common.Hash) error {
	f := b.issued[id]
	txs, err := f.Remote().BlockTransactions(env.Block.Number)
	if err != nil {
		return errors.Wrapf(err, "transactions of block %d", env.Block.Number)
	}
	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(f.Env().Cfg.ChainID))
	for _, tx := range txs {
		if tx.Hash() == hash {
			return nil
		}
		var from common.Address
		if tx.Type() != depositTxType {
			if from, err = types.Sender(signer, tx); err != nil {
				return errors.Wrapf(err, "sender of %v", tx.Hash())
			}
		}
		if isSystemTransaction(tx, from) {
			logger.Trace("skipping system transaction", "tx", tx.Hash())
			continue
		}
		logger.Trace("committing transaction", "tx", tx.Hash())
		if err := b.commitTransaction(f, env, tx, from, nil); err != nil {
			return err
		}
	}
	return nil
}

// commitTransaction executes tx on a copy of the fork and commits the outcome into it.
// Only the fork journal is resynced. It is the active journal when the fork is active;
// the journal of another fork is never resynced against this store.
func (b *Backend) commitTransaction(f *fork.Fork, env *evm.Env, tx *types.Transaction, from common.Address, hooks *tracing.Hooks) error {
	e := env.Copy()
	e.Tx = evm.TxEnvFromTransaction(tx, from)
	e.Cfg.Spec = b.strategy.Spec(&e)

	start := time.Now()
	journal := state.NewJournal()
	journal.SetDepth(f.Journal.Depth() + 1)
	res, err := b.interp.Transact(&e, f.DB.Clone(), journal, hooks)
	if err != nil {
		return errors.Wrap(err, "backend: failed committing transaction")
	}
	logger.Trace("transacted transaction", "tx", tx.Hash(), "status", res.Result.Status, "elapsed", time.Since(start))

	f.DB.Commit(res.State)
	return f.Journal.Sync(f.DB, b.IsPersistent)
}
