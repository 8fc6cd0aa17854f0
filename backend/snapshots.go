// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package backend

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/vechain/forkbackend/cachedb"
	"github.com/vechain/forkbackend/evm"
	"github.com/vechain/forkbackend/fork"
	"github.com/vechain/forkbackend/snapshot"
	"github.com/vechain/forkbackend/state"
)

// GlobalFailSlot is the slot of the cheatcode account a failed test sets to a non zero value.
var GlobalFailSlot = common.HexToHash("0x6661696c65640000000000000000000000000000000000000000000000000000")

// stateSnapshot is the backend state captured by Snapshot. It is never modified once taken.
type stateSnapshot struct {
	// forked mode
	forkID LocalForkID
	fork   *fork.Fork

	// local mode
	memDB   *cachedb.Store
	journal *state.Journal

	env evm.Env
}

func (s *stateSnapshot) isForked() bool { return s.fork != nil }

// Snapshot captures the active store, the active journal, the active fork id and the env.
func (b *Backend) Snapshot() snapshot.ID {
	s := &stateSnapshot{env: b.env.Copy()}
	if f := b.activeFork(); f != nil {
		s.forkID, s.fork = *b.active, f.Clone()
	} else {
		s.memDB, s.journal = b.memDB.Clone(), b.memJournal.Clone()
	}
	id := b.snapshots.Insert(s)
	countSnapshot("create")
	logger.Debug("created snapshot", "id", id, "forked", s.isForked())
	return id
}

// RevertToSnapshot restores the state captured by the snapshot with the given id.
// Unless action is snapshot.Keep, the snapshot is deleted. Other snapshots, taken
// before or after, stay valid. The logs of the active journal carry over into the
// restored one, and a failure recorded in the active journal is remembered, see
// HasSnapshotFailure.
func (b *Backend) RevertToSnapshot(id snapshot.ID, action snapshot.Action) error {
	s, ok := b.snapshots.Remove(id)
	if !ok {
		logger.Warn("no snapshot to revert", "id", id)
		countSnapshot("miss")
		return &SnapshotError{ID: id}
	}
	if action.IsKeep() {
		b.snapshots.InsertAt(id, s)
	}

	current := b.ActiveJournal()
	if isGlobalFailure(current) {
		logger.Debug("failure recorded before revert", "id", id)
		b.snapshotFailure = true
	}

	if s.isForked() {
		f := s.fork.Clone()
		f.Journal.SetLogs(current.Logs())
		// the snapshot may be taken with another caller
		b.ensureCaller(f, current, b.env.Tx.Caller)
		b.issued[s.forkID] = f
		forkID := s.forkID
		b.active = &forkID
	} else {
		b.memDB, b.memJournal = s.memDB.Clone(), s.journal.Clone()
		b.memJournal.SetLogs(current.Logs())
		b.active = nil
	}
	b.applyForkEnv(s.env)

	countSnapshot("revert")
	logger.Debug("reverted snapshot", "id", id, "forked", s.isForked())
	return nil
}

// DeleteSnapshot deletes the snapshot with the given id and returns whether it existed.
func (b *Backend) DeleteSnapshot(id snapshot.ID) bool {
	_, ok := b.snapshots.Remove(id)
	if ok {
		countSnapshot("delete")
	}
	return ok
}

// DeleteSnapshots deletes every snapshot.
func (b *Backend) DeleteSnapshots() {
	b.snapshots.Clear()
}

// HasSnapshotFailure returns whether a failure was recorded when reverting a snapshot.
func (b *Backend) HasSnapshotFailure() bool { return b.snapshotFailure }

// SetSnapshotFailure overrides the recorded snapshot failure.
func (b *Backend) SetSnapshotFailure(failed bool) { b.snapshotFailure = failed }

func isGlobalFailure(j *state.Journal) bool {
	acc, ok := j.Account(CheatcodeAddress)
	if !ok {
		return false
	}
	slot, ok := acc.Storage[GlobalFailSlot]
	return ok && slot.Present != (common.Hash{})
}

// MergedLogs returns the logs of every fork, in fork id order. The active fork
// contributes logs, the others the logs of their journal. In local mode logs is
// returned as is.
func (b *Backend) MergedLogs(logs []*types.Log) []*types.Log {
	if b.active == nil {
		return logs
	}
	all := make([]*types.Log, 0, len(logs))
	for _, id := range b.ForkIDs() {
		if id == *b.active {
			all = append(all, logs...)
		} else {
			all = append(all, b.issued[id].Journal.Logs()...)
		}
	}
	return all
}
