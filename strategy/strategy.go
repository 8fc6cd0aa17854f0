// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package strategy holds the chain family specific behaviour of the backend.
//
// A Strategy pairs a stateless Runner with a cloneable Context carrying the data the runner
// needs. The backend only ever calls through the Runner interface.
package strategy

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/vechain/forkbackend/cachedb"
	"github.com/vechain/forkbackend/evm"
	"github.com/vechain/forkbackend/fork"
	"github.com/vechain/forkbackend/log"
	"github.com/vechain/forkbackend/state"
)

var logger = log.WithContext("pkg", "strategy")

// Context is the chain family specific data of a strategy.
type Context interface {
	Clone() Context
}

// Backend is the view of the backend the runners operate on.
type Backend interface {
	state.Database

	// ActiveJournal returns the journal of the active store.
	ActiveJournal() *state.Journal
	// Interpreter returns the interpreter transactions are executed with.
	Interpreter() evm.Interpreter
	// Commit applies changes to the active store and resyncs the active journal.
	Commit(changes state.Changeset) error
	// CowCopy returns a copy of the backend whose stores share unmodified data with the original.
	CowCopy() Backend
}

// Runner is the pluggable behaviour of the backend.
type Runner interface {
	// Spec returns the execution spec to run env with.
	Spec(c Context, env *evm.Env) evm.SpecID
	// Inspect executes the transaction of env against the active state of b. Nothing is committed.
	Inspect(c Context, b Backend, env *evm.Env, hooks *tracing.Hooks) (*evm.ResultAndState, error)
	// UpdateForkDB merges the persistent accounts into target, reading them from the active
	// fork if there is one and from memDB otherwise. The returned journal, the journal of
	// target, becomes the active one.
	UpdateForkDB(c Context, active *fork.Fork, memDB *cachedb.Store, persistent []common.Address, activeJournal *state.Journal, target *fork.Fork) *state.Journal
	// MergeJournaledStateData merges the journal entry of addr from src into dst.
	MergeJournaledStateData(c Context, addr common.Address, src, dst *state.Journal)
	// MergeDBAccountData merges the cached account addr, code and storage, from src into dst.
	MergeDBAccountData(c Context, addr common.Address, src, dst *cachedb.Store)
	// TransactFromTx executes req on an ephemeral copy of b, commits the outcome and resyncs journal.
	TransactFromTx(c Context, b Backend, req *evm.TransactionRequest, env *evm.Env, journal *state.Journal, hooks *tracing.Hooks) error
}

// Strategy pairs a runner with its context.
type Strategy struct {
	Runner  Runner
	Context Context
}

// NewDefault returns the strategy of plain single chain semantics.
func NewDefault() Strategy {
	return Strategy{Runner: Default{}, Context: &EVMContext{}}
}

// NewRollup returns the strategy of a rollup with the given hardfork activations.
func NewRollup(activations []RollupActivation) Strategy {
	return Strategy{Runner: Rollup{}, Context: &RollupContext{Activations: activations}}
}

// Clone returns a strategy with a private copy of the context.
func (s Strategy) Clone() Strategy {
	if s.Context != nil {
		s.Context = s.Context.Clone()
	}
	return s
}

// Spec returns the execution spec to run env with.
func (s Strategy) Spec(env *evm.Env) evm.SpecID { return s.Runner.Spec(s.Context, env) }
