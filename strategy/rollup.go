// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package strategy

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/vechain/forkbackend/cachedb"
	"github.com/vechain/forkbackend/evm"
	"github.com/vechain/forkbackend/fork"
	"github.com/vechain/forkbackend/state"
)

// RollupFork is a rollup hardfork.
type RollupFork uint8

const (
	Bedrock RollupFork = iota
	Regolith
	Canyon
	Delta
	Ecotone
	Fjord
	Granite
	Holocene
	Isthmus
)

var rollupForks = [...]struct {
	name string
	spec evm.SpecID
}{
	Bedrock:  {"bedrock", evm.Merge},
	Regolith: {"regolith", evm.Merge},
	Canyon:   {"canyon", evm.Shanghai},
	Delta:    {"delta", evm.Shanghai},
	Ecotone:  {"ecotone", evm.Cancun},
	Fjord:    {"fjord", evm.Cancun},
	Granite:  {"granite", evm.Cancun},
	Holocene: {"holocene", evm.Cancun},
	Isthmus:  {"isthmus", evm.Prague},
}

func (f RollupFork) String() string {
	if int(f) < len(rollupForks) {
		return rollupForks[f].name
	}
	return fmt.Sprintf("rollup-fork(%d)", uint8(f))
}

// Spec returns the base chain spec equivalent to the hardfork.
func (f RollupFork) Spec() evm.SpecID {
	if int(f) < len(rollupForks) {
		return rollupForks[f].spec
	}
	return evm.Latest
}

// ParseRollupFork parses a hardfork name, case insensitive.
func ParseRollupFork(name string) (RollupFork, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, f := range rollupForks {
		if f.name == name {
			return RollupFork(i), nil
		}
	}
	return 0, fmt.Errorf("unknown rollup hardfork %q", name)
}

// RollupActivation is the timestamp a hardfork activates at.
type RollupActivation struct {
	Fork RollupFork
	Time uint64
}

// RollupContext holds the hardfork schedule of a rollup.
type RollupContext struct {
	Activations []RollupActivation
}

func (c *RollupContext) Clone() Context {
	return &RollupContext{Activations: slices.Clone(c.Activations)}
}

// Active returns the latest hardfork active at timestamp.
func (c *RollupContext) Active(timestamp uint64) (RollupFork, bool) {
	var (
		active RollupFork
		found  bool
	)
	for _, a := range c.Activations {
		if a.Time <= timestamp && (!found || a.Fork > active) {
			active, found = a.Fork, true
		}
	}
	return active, found
}

// Rollup is the runner of rollup chains. Execution runs with the base chain spec
// equivalent to the active rollup hardfork. The merge steps are the default ones.
type Rollup struct {
	Default
}

var _ Runner = Rollup{}

// Spec translates the rollup hardfork active at the block timestamp. Without a schedule,
// or before the first activation, the spec of env is kept.
func (Rollup) Spec(c Context, env *evm.Env) evm.SpecID {
	rc, ok := c.(*RollupContext)
	if !ok {
		return env.Cfg.Spec
	}
	active, ok := rc.Active(env.Block.Timestamp)
	if !ok {
		return env.Cfg.Spec
	}
	return active.Spec()
}

func (r Rollup) Inspect(c Context, b Backend, env *evm.Env, hooks *tracing.Hooks) (*evm.ResultAndState, error) {
	return inspect(r.Spec(c, env), b, env, hooks)
}

func (r Rollup) UpdateForkDB(c Context, active *fork.Fork, memDB *cachedb.Store, persistent []common.Address, activeJournal *state.Journal, target *fork.Fork) *state.Journal {
	return updateForkDB(r, c, active, memDB, persistent, activeJournal, target)
}

func (r Rollup) TransactFromTx(c Context, b Backend, req *evm.TransactionRequest, env *evm.Env, journal *state.Journal, hooks *tracing.Hooks) error {
	return transactFromTx(r.Spec(c, env), b, req, env, journal, hooks)
}
