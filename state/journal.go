// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package state

import (
	"fmt"
	"maps"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// ErrInsufficientBalance is returned by Transfer when the sender cannot cover the amount.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Error is the error caused by the underlying database.
type Error struct {
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("state: %v", e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Checkpoint marks a position in the journal that can be reverted to.
type Checkpoint struct {
	entries int
	logs    int
	depth   int
}

// Journal is an overlay of loaded and modified accounts on top of a Database,
// able to undo changes made after a checkpoint. Checkpoints nest; the number of
// open checkpoints is the journal depth.
type Journal struct {
	state   map[common.Address]*Account
	logs    []*types.Log
	entries []journalEntry
	depth   int
}

// NewJournal creates an empty journal at depth 0.
func NewJournal() *Journal {
	return &Journal{
		state: make(map[common.Address]*Account),
	}
}

// Depth returns the number of open checkpoints.
func (j *Journal) Depth() int { return j.depth }

// SetDepth overrides the journal depth.
func (j *Journal) SetDepth(depth int) { j.depth = depth }

// Align takes the depth of src and pads the undo entries up to those of src, so that
// checkpoints opened on src can be closed on j.
func (j *Journal) Align(src *Journal) {
	j.depth = src.depth
	for len(j.entries) < len(src.entries) {
		j.entries = append(j.entries, noopChange{})
	}
}

// Len returns the number of loaded accounts.
func (j *Journal) Len() int { return len(j.state) }

// Account returns the loaded account. The returned account is owned by the journal.
func (j *Journal) Account(addr common.Address) (*Account, bool) {
	acc, ok := j.state[addr]
	return acc, ok
}

// Insert replaces the loaded account at addr. The journal takes ownership of acc.
func (j *Journal) Insert(addr common.Address, acc *Account) {
	j.state[addr] = acc
}

// Accounts iterates loaded accounts in address order until fn returns false.
func (j *Journal) Accounts(fn func(addr common.Address, acc *Account) bool) {
	addrs := slices.SortedFunc(maps.Keys(j.state), func(a, b common.Address) int {
		return a.Cmp(b)
	})
	for _, addr := range addrs {
		if !fn(addr, j.state[addr]) {
			return
		}
	}
}

// Logs returns the logs emitted since the last Finalize.
func (j *Journal) Logs() []*types.Log { return j.logs }

// SetLogs replaces the logs with a copy of logs.
func (j *Journal) SetLogs(logs []*types.Log) { j.logs = slices.Clone(logs) }

// AddLog appends a log, removed again when an enclosing checkpoint is reverted.
func (j *Journal) AddLog(log *types.Log) {
	j.logs = append(j.logs, log)
}

// LoadAccount loads the account into the overlay if not loaded yet.
func (j *Journal) LoadAccount(db Database, addr common.Address) (*Account, error) {
	if acc, ok := j.state[addr]; ok {
		return acc, nil
	}
	info, exists, err := db.Basic(addr)
	if err != nil {
		return nil, &Error{err}
	}
	acc := NewAccount(info.Copy())
	if !exists {
		acc.Status |= LoadedAsNotExisting
	}
	j.state[addr] = acc
	return acc, nil
}

// LoadCode loads the account and makes sure its code bytes are present.
func (j *Journal) LoadCode(db Database, addr common.Address) (*Account, error) {
	acc, err := j.LoadAccount(db, addr)
	if err != nil {
		return nil, err
	}
	if acc.Info.Code == nil && acc.Info.HasCode() {
		code, err := db.CodeByHash(acc.Info.CodeHash)
		if err != nil {
			return nil, &Error{err}
		}
		acc.Info.Code = code
	}
	return acc, nil
}

// SLoad returns the present value of the slot, loading it from db on first access.
func (j *Journal) SLoad(db Database, addr common.Address, key common.Hash) (common.Hash, error) {
	acc, err := j.LoadAccount(db, addr)
	if err != nil {
		return common.Hash{}, err
	}
	if slot, ok := acc.Storage[key]; ok {
		return slot.Present, nil
	}
	var value common.Hash
	if !acc.IsCreated() {
		if value, err = db.Storage(addr, key); err != nil {
			return common.Hash{}, &Error{err}
		}
	}
	acc.Storage[key] = StorageSlot{Original: value, Present: value}
	return value, nil
}

// SStore sets the slot and returns its previous present value.
func (j *Journal) SStore(db Database, addr common.Address, key, value common.Hash) (common.Hash, error) {
	prev, err := j.SLoad(db, addr, key)
	if err != nil {
		return common.Hash{}, err
	}
	if prev == value {
		return prev, nil
	}
	acc := j.state[addr]
	j.append(storageChange{addr: addr, key: key, prev: prev})
	slot := acc.Storage[key]
	slot.Present = value
	acc.Storage[key] = slot
	j.Touch(addr)
	return prev, nil
}

// Touch marks a loaded account as touched. Unknown addresses are ignored.
func (j *Journal) Touch(addr common.Address) {
	acc, ok := j.state[addr]
	if !ok || acc.IsTouched() {
		return
	}
	j.append(touchChange{addr: addr})
	acc.Status |= Touched
}

// SetBalance sets the balance of the account.
func (j *Journal) SetBalance(db Database, addr common.Address, balance *uint256.Int) error {
	acc, err := j.LoadAccount(db, addr)
	if err != nil {
		return err
	}
	j.append(balanceChange{addr: addr, prev: acc.Info.Balance})
	acc.Info.Balance = new(uint256.Int).Set(balance)
	j.Touch(addr)
	return nil
}

// Transfer moves amount from one account to another.
func (j *Journal) Transfer(db Database, from, to common.Address, amount *uint256.Int) error {
	sender, err := j.LoadAccount(db, from)
	if err != nil {
		return err
	}
	if _, err := j.LoadAccount(db, to); err != nil {
		return err
	}
	if sender.Info.Balance.Lt(amount) {
		return errors.Wrapf(ErrInsufficientBalance, "transfer %v from %v", amount, from)
	}
	if err := j.SetBalance(db, from, new(uint256.Int).Sub(sender.Info.Balance, amount)); err != nil {
		return err
	}
	recipient := j.state[to]
	return j.SetBalance(db, to, new(uint256.Int).Add(recipient.Info.Balance, amount))
}

// IncNonce increments the nonce of the account and returns the previous one.
func (j *Journal) IncNonce(db Database, addr common.Address) (uint64, error) {
	acc, err := j.LoadAccount(db, addr)
	if err != nil {
		return 0, err
	}
	prev := acc.Info.Nonce
	j.append(nonceChange{addr: addr, prev: prev})
	acc.Info.Nonce++
	j.Touch(addr)
	return prev, nil
}

// SetCode installs code on the account.
func (j *Journal) SetCode(db Database, addr common.Address, code []byte) error {
	acc, err := j.LoadAccount(db, addr)
	if err != nil {
		return err
	}
	j.append(codeChange{addr: addr, prevHash: acc.Info.CodeHash, prevCode: acc.Info.Code})
	if len(code) == 0 {
		acc.Info.CodeHash, acc.Info.Code = types.EmptyCodeHash, nil
	} else {
		acc.Info.CodeHash, acc.Info.Code = crypto.Keccak256Hash(code), code
	}
	j.Touch(addr)
	return nil
}

// CreateAccount marks the account as created, dropping any storage it had.
func (j *Journal) CreateAccount(db Database, addr common.Address) error {
	acc, err := j.LoadAccount(db, addr)
	if err != nil {
		return err
	}
	j.append(accountReset{addr: addr, prev: acc.Clone()})
	acc.Status = (acc.Status | Created) &^ (SelfDestructed | LoadedAsNotExisting)
	acc.Storage = make(map[common.Hash]StorageSlot)
	j.Touch(addr)
	return nil
}

// SelfDestruct sends the whole balance of addr to target and marks addr for removal.
func (j *Journal) SelfDestruct(db Database, addr, target common.Address) error {
	acc, err := j.LoadAccount(db, addr)
	if err != nil {
		return err
	}
	if addr != target {
		if err := j.Transfer(db, addr, target, acc.Info.Balance); err != nil {
			return err
		}
	}
	j.append(accountReset{addr: addr, prev: acc.Clone()})
	acc.Status |= SelfDestructed
	acc.Info.Balance = new(uint256.Int)
	j.Touch(addr)
	return nil
}

// Checkpoint opens a checkpoint and increases the depth.
func (j *Journal) Checkpoint() Checkpoint {
	cp := Checkpoint{entries: len(j.entries), logs: len(j.logs), depth: j.depth}
	j.depth++
	return cp
}

// CheckpointCommit closes the innermost checkpoint keeping its changes.
func (j *Journal) CheckpointCommit(cp Checkpoint) {
	j.checkInnermost(cp)
	j.depth--
}

// CheckpointRevert closes the innermost checkpoint undoing every change made after it.
func (j *Journal) CheckpointRevert(cp Checkpoint) {
	j.checkInnermost(cp)
	for i := len(j.entries) - 1; i >= cp.entries; i-- {
		j.entries[i].revert(j)
	}
	j.entries = j.entries[:cp.entries]
	// the logs of a checkpoint opened on another journal may be gone already
	j.logs = j.logs[:min(cp.logs, len(j.logs))]
	j.depth--
}

func (j *Journal) checkInnermost(cp Checkpoint) {
	if cp.depth != j.depth-1 || cp.entries > len(j.entries) {
		panic(fmt.Errorf("checkpoint at depth %d is not the innermost one (depth %d)", cp.depth, j.depth))
	}
}

// Finalize hands over the loaded accounts and the logs, leaving an empty overlay
// at the same depth.
func (j *Journal) Finalize() (Changeset, []*types.Log) {
	changes, logs := Changeset(j.state), j.logs
	j.state = make(map[common.Address]*Account)
	j.logs = nil
	j.entries = nil
	return changes, logs
}

// State returns a deep copy of the loaded accounts.
func (j *Journal) State() Changeset {
	changes := make(Changeset, len(j.state))
	for addr, acc := range j.state {
		changes[addr] = acc.Clone()
	}
	return changes
}

// Clone returns a deep copy of the journal.
func (j *Journal) Clone() *Journal {
	return &Journal{
		state:   j.State(),
		logs:    slices.Clone(j.logs),
		entries: slices.Clone(j.entries),
		depth:   j.depth,
	}
}

// Sync re-reads the info and the loaded slots of every account from db, except
// the accounts skip reports. Synced accounts carry no pending changes afterwards.
func (j *Journal) Sync(db Database, skip func(common.Address) bool) error {
	for addr, acc := range j.state {
		if skip != nil && skip(addr) {
			continue
		}
		info, exists, err := db.Basic(addr)
		if err != nil {
			return &Error{err}
		}
		acc.Info = info.Copy()
		acc.Status = 0
		if !exists {
			acc.Status = LoadedAsNotExisting
		}
		for key := range acc.Storage {
			value, err := db.Storage(addr, key)
			if err != nil {
				return &Error{err}
			}
			acc.Storage[key] = StorageSlot{Original: value, Present: value}
		}
	}
	return nil
}

// ReadInfo returns the account info from the overlay, falling back to db without loading.
func (j *Journal) ReadInfo(db Database, addr common.Address) (AccountInfo, error) {
	if acc, ok := j.state[addr]; ok {
		return acc.Info.Copy(), nil
	}
	info, _, err := db.Basic(addr)
	if err != nil {
		return AccountInfo{}, &Error{err}
	}
	return info.Copy(), nil
}

// ReadCode returns the account code from the overlay, falling back to db without loading.
func (j *Journal) ReadCode(db Database, addr common.Address) ([]byte, error) {
	info, err := j.ReadInfo(db, addr)
	if err != nil {
		return nil, err
	}
	if info.Code != nil || !info.HasCode() {
		return info.Code, nil
	}
	code, err := db.CodeByHash(info.CodeHash)
	if err != nil {
		return nil, &Error{err}
	}
	return code, nil
}

// ReadStorage returns the slot value from the overlay, falling back to db without loading.
func (j *Journal) ReadStorage(db Database, addr common.Address, key common.Hash) (common.Hash, error) {
	if acc, ok := j.state[addr]; ok {
		if slot, ok := acc.Storage[key]; ok {
			return slot.Present, nil
		}
		if acc.IsCreated() {
			return common.Hash{}, nil
		}
	}
	value, err := db.Storage(addr, key)
	if err != nil {
		return common.Hash{}, &Error{err}
	}
	return value, nil
}

func (j *Journal) append(entry journalEntry) {
	j.entries = append(j.entries, entry)
}
