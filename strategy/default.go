// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package strategy

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/pkg/errors"
	"github.com/vechain/forkbackend/cachedb"
	"github.com/vechain/forkbackend/evm"
	"github.com/vechain/forkbackend/fork"
	"github.com/vechain/forkbackend/state"
)

// EVMContext is the empty context of the default runner.
type EVMContext struct{}

func (c *EVMContext) Clone() Context { return &EVMContext{} }

// Default is the runner of plain single chain semantics.
type Default struct{}

var _ Runner = Default{}

// Spec returns the spec env is configured with.
func (Default) Spec(_ Context, env *evm.Env) evm.SpecID { return env.Cfg.Spec }

func (d Default) Inspect(c Context, b Backend, env *evm.Env, hooks *tracing.Hooks) (*evm.ResultAndState, error) {
	return inspect(d.Spec(c, env), b, env, hooks)
}

func (d Default) UpdateForkDB(c Context, active *fork.Fork, memDB *cachedb.Store, persistent []common.Address, activeJournal *state.Journal, target *fork.Fork) *state.Journal {
	return updateForkDB(d, c, active, memDB, persistent, activeJournal, target)
}

func (Default) MergeJournaledStateData(_ Context, addr common.Address, src, dst *state.Journal) {
	MergeJournaledStateData(addr, src, dst)
}

func (Default) MergeDBAccountData(_ Context, addr common.Address, src, dst *cachedb.Store) {
	MergeDBAccountData(addr, src, dst)
}

func (d Default) TransactFromTx(c Context, b Backend, req *evm.TransactionRequest, env *evm.Env, journal *state.Journal, hooks *tracing.Hooks) error {
	return transactFromTx(d.Spec(c, env), b, req, env, journal, hooks)
}

// inspect runs env on a copy of the active journal, leaving the backend untouched.
func inspect(spec evm.SpecID, b Backend, env *evm.Env, hooks *tracing.Hooks) (*evm.ResultAndState, error) {
	e := env.Copy()
	e.Cfg.Spec = spec
	return b.Interpreter().Transact(&e, b, b.ActiveJournal().Clone(), hooks)
}

// updateForkDB merges through r. Runners overriding the merge steps define their own
// UpdateForkDB calling it with themselves, the promoted one merges the Default way.
func updateForkDB(r Runner, c Context, active *fork.Fork, memDB *cachedb.Store, persistent []common.Address, activeJournal *state.Journal, target *fork.Fork) *state.Journal {
	src := memDB
	if active != nil {
		src = active.DB
	}
	for _, addr := range persistent {
		r.MergeDBAccountData(c, addr, src, target.DB)
		r.MergeJournaledStateData(c, addr, activeJournal, target.Journal)
	}
	target.Journal.Align(activeJournal)
	return target.Journal
}

// Replay executes the transaction of env at depth on an ephemeral copy of b and returns
// the outcome without committing it.
func Replay(b Backend, env *evm.Env, depth int, hooks *tracing.Hooks) (*evm.ResultAndState, error) {
	ephemeral := b.CowCopy()
	journal := state.NewJournal()
	journal.SetDepth(depth)
	return b.Interpreter().Transact(env, ephemeral, journal, hooks)
}

func transactFromTx(spec evm.SpecID, b Backend, req *evm.TransactionRequest, env *evm.Env, journal *state.Journal, hooks *tracing.Hooks) error {
	// the replay starts from the fully materialized state
	if err := b.Commit(journal.State()); err != nil {
		return err
	}

	tx, err := evm.TxEnvFromRequest(req)
	if err != nil {
		return errors.Wrap(err, "transact from tx")
	}
	e := env.Copy()
	e.Cfg.Spec = spec
	e.Tx = tx

	res, err := Replay(b, &e, journal.Depth()+1, hooks)
	if err != nil {
		return errors.Wrap(err, "transact from tx")
	}
	logger.Debug("replayed transaction", "from", tx.Caller, "status", res.Result.Status, "gas", res.Result.GasUsed)

	if err := b.Commit(res.State); err != nil {
		return err
	}
	return journal.Sync(b, nil)
}
