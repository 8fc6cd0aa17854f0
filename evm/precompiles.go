// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package evm

import "github.com/ethereum/go-ethereum/common"

// p256Verify is the secp256r1 verification precompile added by Osaka.
var p256Verify = common.BytesToAddress([]byte{0x01, 0x00})

// precompileCount returns the number of consecutive precompiles starting at 0x01.
func precompileCount(spec SpecID) int {
	switch {
	case spec.IsEnabledIn(Prague):
		return 0x11
	case spec.IsEnabledIn(Cancun):
		return 0x0a
	case spec.IsEnabledIn(Istanbul):
		return 0x09
	case spec.IsEnabledIn(Byzantium):
		return 0x08
	default:
		return 0x04
	}
}

// IsPrecompile returns whether addr is a precompiled contract under spec.
func IsPrecompile(addr common.Address, spec SpecID) bool {
	if spec.IsEnabledIn(Osaka) && addr == p256Verify {
		return true
	}
	for _, b := range addr[:common.AddressLength-1] {
		if b != 0 {
			return false
		}
	}
	last := int(addr[common.AddressLength-1])
	return last >= 1 && last <= precompileCount(spec)
}
