// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package evm

import (
	"strings"

	"github.com/pkg/errors"
)

// SpecID identifies a set of protocol rules by the hard fork introducing them.
type SpecID uint8

const (
	Frontier SpecID = iota
	Homestead
	Tangerine
	SpuriousDragon
	Byzantium
	Constantinople
	Petersburg
	Istanbul
	Berlin
	London
	Merge
	Shanghai
	Cancun
	Prague
	Osaka

	// Latest is the most recent activated rule set.
	Latest = Prague
)

var specNames = [...]string{
	Frontier:       "frontier",
	Homestead:      "homestead",
	Tangerine:      "tangerine",
	SpuriousDragon: "spuriousdragon",
	Byzantium:      "byzantium",
	Constantinople: "constantinople",
	Petersburg:     "petersburg",
	Istanbul:       "istanbul",
	Berlin:         "berlin",
	London:         "london",
	Merge:          "merge",
	Shanghai:       "shanghai",
	Cancun:         "cancun",
	Prague:         "prague",
	Osaka:          "osaka",
}

func (s SpecID) String() string {
	if int(s) < len(specNames) {
		return specNames[s]
	}
	return "unknown"
}

// IsEnabledIn returns whether the rules of s include the rules of other.
func (s SpecID) IsEnabledIn(other SpecID) bool {
	return s >= other
}

// ParseSpecID parses a spec name, case insensitive. "latest" maps to Latest.
func ParseSpecID(name string) (SpecID, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "latest" || name == "" {
		return Latest, nil
	}
	for id, n := range specNames {
		if n == name {
			return SpecID(id), nil
		}
	}
	return 0, errors.Errorf("unknown spec %q", name)
}
