// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package backend

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// RevertDiagnostic explains a call reverting because the callee has no code on the active fork.
type RevertDiagnostic struct {
	Contract   common.Address
	Active     LocalForkID
	Persistent bool
	// AvailableOn are the other forks the contract exists on.
	AvailableOn []LocalForkID
}

func (d *RevertDiagnostic) String() string {
	if len(d.AvailableOn) == 0 {
		msg := fmt.Sprintf("contract %v does not exist on active fork with id `%d`", d.Contract, d.Active)
		if d.Persistent {
			msg += " but exists in the persistent state"
		}
		return msg
	}
	ids := make([]string, 0, len(d.AvailableOn))
	for _, id := range d.AvailableOn {
		ids = append(ids, fmt.Sprintf("`%d`", id))
	}
	return fmt.Sprintf("contract %v does not exist on active fork with id `%d` but exists on non active forks: [%s]",
		d.Contract, d.Active, strings.Join(ids, ", "))
}

// DiagnoseRevert tells whether a call to callee reverted because the contract is missing
// on the active fork. It only diagnoses when more than one fork exists.
func (b *Backend) DiagnoseRevert(callee common.Address) *RevertDiagnostic {
	active, ok := b.ActiveForkID()
	if !ok || len(b.issued) <= 1 {
		return nil
	}
	if isContract(b.issued[active].IsContract(callee)) {
		return nil
	}

	d := &RevertDiagnostic{Contract: callee, Active: active, Persistent: b.IsPersistent(callee)}
	for _, id := range b.ForkIDs() {
		if id == active {
			continue
		}
		logger.Trace("checking if account exists", "id", id, "addr", callee)
		if isContract(b.issued[id].IsContract(callee)) {
			d.AvailableOn = append(d.AvailableOn, id)
		}
	}
	return d
}

// isContract treats lookup failures as missing code.
func isContract(ok bool, err error) bool {
	return err == nil && ok
}
