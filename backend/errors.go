// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package backend

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/vechain/forkbackend/snapshot"
)

// ErrNoActiveFork is returned by the operations on the active fork in local mode.
var ErrNoActiveFork = errors.New("backend: no fork active")

// ForkSwitchError is returned for fork ids the backend never issued.
type ForkSwitchError struct {
	ID LocalForkID
}

func (e *ForkSwitchError) Error() string {
	return fmt.Sprintf("backend: requested fork %d does not exist", e.ID)
}

// SnapshotError is returned for unknown snapshot ids.
type SnapshotError struct {
	ID snapshot.ID
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("backend: no snapshot %d to revert to", e.ID)
}

// NoCheatcodeAccessError is returned when an account without access calls cheatcodes in forked mode.
type NoCheatcodeAccessError struct {
	Addr common.Address
}

func (e *NoCheatcodeAccessError) Error() string {
	return fmt.Sprintf("backend: no cheatcode access for %v, it must be marked persistent or granted access", e.Addr)
}
