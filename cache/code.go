// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cache

import (
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
)

// DefaultCodeSize is the number of bytecodes kept by NewCode when size is not positive.
const DefaultCodeSize = 512

// Code caches contract bytecode by code hash. Entries are content addressed,
// so one cache can be shared by the stores of every fork and by their clones.
// Cached slices must not be modified.
type Code struct {
	arc   *lru.ARCCache
	stats Stats
}

// NewCode creates a bytecode cache holding up to size entries.
func NewCode(size int) *Code {
	if size <= 0 {
		size = DefaultCodeSize
	}
	arc, err := lru.NewARC(size)
	if err != nil {
		// only fails for a non positive size
		panic(err)
	}
	return &Code{arc: arc}
}

// Get returns the bytecode with the given hash.
func (c *Code) Get(hash common.Hash) ([]byte, bool) {
	if v, ok := c.arc.Get(hash); ok {
		c.stats.Hit()
		return v.([]byte), true
	}
	c.stats.Miss()
	return nil, false
}

// Add caches code under hash.
func (c *Code) Add(hash common.Hash, code []byte) {
	c.arc.Add(hash, code)
}

// Len returns the number of cached bytecodes.
func (c *Code) Len() int {
	return c.arc.Len()
}

// Stats returns the hit/miss counters of the cache.
func (c *Code) Stats() *Stats {
	return &c.stats
}
