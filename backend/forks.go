// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package backend

import (
	"context"
	"maps"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vechain/forkbackend/evm"
	"github.com/vechain/forkbackend/fork"
	"github.com/vechain/forkbackend/state"
)

// CreateFork opens a fork and issues a local id for it. The fork starts with the fork
// init journal. The current env is the template of the fork env; cf.Env is ignored.
func (b *Backend) CreateFork(ctx context.Context, cf fork.CreateFork) (LocalForkID, error) {
	cf.Env = b.env.Copy()
	f, err := b.forks.CreateFork(ctx, cf, b.forkInitJournal.Clone())
	if err != nil {
		return 0, err
	}
	id := b.nextID
	b.nextID++
	b.issued[id] = f
	metricForks().Set(int64(len(b.issued)))
	logger.Debug("created fork", "id", id, "fork", f.ID())
	return id, nil
}

// CreateSelectFork creates a fork and selects it.
func (b *Backend) CreateSelectFork(ctx context.Context, cf fork.CreateFork) (LocalForkID, error) {
	id, err := b.CreateFork(ctx, cf)
	if err != nil {
		return 0, err
	}
	if err := b.SelectFork(id); err != nil {
		return 0, err
	}
	return id, nil
}

// ActiveForkID returns the id of the active fork.
func (b *Backend) ActiveForkID() (LocalForkID, bool) {
	if b.active == nil {
		return 0, false
	}
	return *b.active, true
}

// IsForkedMode returns whether a fork is active.
func (b *Backend) IsForkedMode() bool { return b.active != nil }

// IsActiveFork returns whether id is the active fork.
func (b *Backend) IsActiveFork(id LocalForkID) bool {
	return b.active != nil && *b.active == id
}

// ForkIDs returns the issued fork ids in ascending order.
func (b *Backend) ForkIDs() []LocalForkID {
	return slices.Sorted(maps.Keys(b.issued))
}

// Fork returns the fork with the given id.
func (b *Backend) Fork(id LocalForkID) (*fork.Fork, error) {
	f, ok := b.issued[id]
	if !ok {
		return nil, &ForkSwitchError{ID: id}
	}
	return f, nil
}

// ActiveForkURL returns the url of the active fork.
func (b *Backend) ActiveForkURL() (string, bool) {
	f := b.activeFork()
	if f == nil {
		return "", false
	}
	return f.URL(), true
}

// SelectFork makes the fork with the given id active, carrying the persistent accounts
// over from the outgoing store. Selecting the active fork does nothing.
func (b *Backend) SelectFork(id LocalForkID) error {
	target, ok := b.issued[id]
	if !ok {
		return &ForkSwitchError{ID: id}
	}
	if b.IsActiveFork(id) {
		return nil
	}
	logger.Debug("select fork", "id", id, "fork", target.ID())

	caller := b.env.Tx.Caller
	outgoing := b.ActiveJournal()
	if active := b.activeFork(); active != nil {
		// keep block changes made while the fork was active
		active.UpdateBlock(b.env.Block.Number, b.env.Block.Timestamp)

		// depth 0 is the depth of a fork never selected before
		if target.Journal.Depth() == 0 {
			if acc, ok := outgoing.Account(caller); ok {
				info, _, err := target.DB.Basic(caller)
				if err != nil {
					return err
				}
				acc = acc.Clone()
				acc.Info = info
				target.Journal.Insert(caller, acc)
			}
		}
	} else {
		// first selection: everything up to here happened in the local journal,
		// which is the journal every fork starts with from now on
		b.forkInitJournal = outgoing.Clone()
		b.forkInitJournal.SetDepth(0)
		if err := b.prepareInitJournal(); err != nil {
			return err
		}
	}

	// the target continues at the depth it is selected at, so that checkpoints
	// opened before the switch can be closed after it
	target.Journal.Align(outgoing)
	b.ensureCaller(target, outgoing, caller)

	target.Journal = b.strategy.Runner.UpdateForkDB(b.strategy.Context, b.activeFork(), b.memDB, b.PersistentAccounts(), outgoing, target)

	b.active = &id
	b.applyForkEnv(target.Env())
	metricForkSwitch().Add(1)
	return nil
}

// prepareInitJournal rebases the accounts loaded before the first fork selection onto
// each fork, so that they reflect the fork data instead of the local one. Created and
// persistent accounts, and precompiles, are kept.
func (b *Backend) prepareInitJournal() error {
	var loaded []common.Address
	b.forkInitJournal.Accounts(func(addr common.Address, _ *state.Account) bool {
		if !evm.IsPrecompile(addr, b.env.Cfg.Spec) && !b.IsPersistent(addr) {
			loaded = append(loaded, addr)
		}
		return true
	})

	for _, id := range b.ForkIDs() {
		f := b.issued[id]
		journal := b.forkInitJournal.Clone()
		for _, addr := range loaded {
			acc, _ := journal.Account(addr)
			if acc.IsCreated() {
				logger.Trace("skipping created account", "addr", addr)
				continue
			}
			logger.Trace("replacing account on init", "addr", addr, "fork", f.ID())
			info, _, err := f.DB.Basic(addr)
			if err != nil {
				return err
			}
			acc.Info = info
		}
		f.Journal = journal
	}
	return nil
}

// ensureCaller makes sure the caller is loaded in the fork, in case the fork was
// created or selected with another caller.
func (b *Backend) ensureCaller(f *fork.Fork, current *state.Journal, caller common.Address) {
	if _, ok := f.Journal.Account(caller); ok {
		return
	}
	info := state.NewAccountInfo()
	if acc, ok := current.Account(caller); ok {
		info = acc.Info.Copy()
	}
	if !f.DB.Contains(caller) {
		f.DB.InsertAccountInfo(caller, info)
	}
	f.Journal.Insert(caller, state.NewAccount(info.Copy()))
}

// applyForkEnv takes the chain and block config of env.
func (b *Backend) applyForkEnv(env evm.Env) {
	b.env.Cfg = env.Cfg
	b.env.Block = env.Block
	b.env.Tx.ChainID = env.Tx.ChainID
}

// RollActiveFork rolls the active fork to block, see RollFork.
func (b *Backend) RollActiveFork(ctx context.Context, block uint64) error {
	id, ok := b.ActiveForkID()
	if !ok {
		return ErrNoActiveFork
	}
	return b.RollFork(ctx, id, block)
}

// RollFork re-pins the fork with the given id at block. Persistent accounts keep their
// state in the new store. Rolling the active fork also resets the active journal: loaded
// accounts that are neither persistent nor created reflect their state at block afterwards.
func (b *Backend) RollFork(ctx context.Context, id LocalForkID, block uint64) error {
	f, ok := b.issued[id]
	if !ok {
		return &ForkSwitchError{ID: id}
	}
	logger.Debug("roll fork", "id", id, "from", f.Block(), "to", block)

	rolled, err := b.forks.RollFork(ctx, f, block, f.Journal)
	if err != nil {
		return err
	}
	persistent := b.PersistentAccounts()
	for _, addr := range persistent {
		b.strategy.Runner.MergeDBAccountData(b.strategy.Context, addr, f.DB, rolled.DB)
	}
	b.issued[id] = rolled

	if !b.IsActiveFork(id) {
		return nil
	}
	b.applyForkEnv(rolled.Env())

	outgoing := f.Journal
	journal := b.forkInitJournal.Clone()
	journal.Align(outgoing)
	for _, addr := range append(persistent, b.env.Tx.Caller) {
		b.strategy.Runner.MergeJournaledStateData(b.strategy.Context, addr, outgoing, journal)
	}
	// previously loaded accounts stay loaded: created ones keep their state when touched,
	// the others are reloaded from the new block
	var loadErr error
	outgoing.Accounts(func(addr common.Address, acc *state.Account) bool {
		if acc.IsCreated() {
			if acc.IsTouched() {
				b.strategy.Runner.MergeJournaledStateData(b.strategy.Context, addr, outgoing, journal)
			}
			return true
		}
		if _, err := journal.LoadAccount(rolled.DB, addr); err != nil {
			loadErr = err
			return false
		}
		return true
	})
	rolled.Journal = journal
	return loadErr
}
