// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cache

import "sync/atomic"

// Lookups is a point in time view of the counters of a Stats.
type Lookups struct {
	Hit, Miss int64
}

// Rate returns the hit rate, 0 when nothing was looked up.
func (l Lookups) Rate() float64 {
	if total := l.Hit + l.Miss; total > 0 {
		return float64(l.Hit) / float64(total)
	}
	return 0
}

// Stats counts cache hits and misses.
type Stats struct {
	hit, miss atomic.Int64
	permille  atomic.Int32
}

// Hit records a hit.
func (s *Stats) Hit() int64 { return s.hit.Add(1) }

// Miss records a miss.
func (s *Stats) Miss() int64 { return s.miss.Add(1) }

// Report returns the counters, and whether the hit rate in permille moved since
// the previous report.
func (s *Stats) Report() (Lookups, bool) {
	l := Lookups{Hit: s.hit.Load(), Miss: s.miss.Load()}
	permille := int32(l.Rate() * 1000)
	return l, s.permille.Swap(permille) != permille
}
