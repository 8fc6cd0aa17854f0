// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package snapshot

// ID identifies a snapshot. Ids increase monotonically and are never reused.
type ID uint64

// Action tells what happens to a snapshot after reverting to it.
type Action uint8

const (
	// Remove drops the snapshot once it was reverted to.
	Remove Action = iota
	// Keep leaves the snapshot in place, so it can be reverted to again.
	Keep
)

// IsKeep returns whether the snapshot survives the revert.
func (a Action) IsKeep() bool { return a == Keep }

// Registry is the version control of saved states.
// Removing a snapshot does not affect any other one.
type Registry[T any] struct {
	next      ID
	snapshots map[ID]T
}

// New return a new empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		snapshots: make(map[ID]T),
	}
}

// Insert saves v and returns its id, starting from 0.
func (r *Registry[T]) Insert(v T) ID {
	id := r.next
	r.snapshots[id] = v
	r.next++
	return id
}

// InsertAt saves v under an id issued before, used to put back a kept snapshot.
func (r *Registry[T]) InsertAt(id ID, v T) {
	if id >= r.next {
		panic("snapshot id was never issued")
	}
	r.snapshots[id] = v
}

// Get returns the snapshot with the given id.
func (r *Registry[T]) Get(id ID) (T, bool) {
	v, ok := r.snapshots[id]
	return v, ok
}

// Remove deletes and returns the snapshot with the given id.
func (r *Registry[T]) Remove(id ID) (T, bool) {
	v, ok := r.snapshots[id]
	if ok {
		delete(r.snapshots, id)
	}
	return v, ok
}

// Clear deletes all snapshots. Issued ids stay used.
func (r *Registry[T]) Clear() {
	clear(r.snapshots)
}

// Len returns the number of live snapshots.
func (r *Registry[T]) Len() int {
	return len(r.snapshots)
}
