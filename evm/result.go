// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package evm

import (
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/vechain/forkbackend/state"
)

// Status is the outcome of an execution.
type Status uint8

const (
	Success Status = iota
	Revert
	Halt
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Revert:
		return "revert"
	case Halt:
		return "halt"
	}
	return "unknown"
}

// HaltReason tells why an execution halted.
type HaltReason string

const (
	HaltOutOfGas      HaltReason = "out of gas"
	HaltNotSupported  HaltReason = "not supported"
	HaltInvalidOpcode HaltReason = "invalid opcode"
)

// ExecutionResult is the outcome of an execution. Reverts and halts are results, not errors.
type ExecutionResult struct {
	Status  Status
	GasUsed uint64
	Output  []byte
	Logs    []*types.Log
	Reason  HaltReason
}

// IsSuccess returns whether the execution succeeded.
func (r *ExecutionResult) IsSuccess() bool { return r.Status == Success }

// ResultAndState is an execution result and the state diff to commit.
type ResultAndState struct {
	Result ExecutionResult
	State  state.Changeset
}
