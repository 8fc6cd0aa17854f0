// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsReport(t *testing.T) {
	var s Stats
	l, moved := s.Report()
	assert.Equal(t, Lookups{}, l)
	assert.False(t, moved)
	assert.Zero(t, l.Rate())

	s.Hit()
	s.Miss()
	l, moved = s.Report()
	assert.Equal(t, Lookups{Hit: 1, Miss: 1}, l)
	assert.Equal(t, 0.5, l.Rate())
	assert.True(t, moved)

	_, moved = s.Report()
	assert.False(t, moved, "same rate")

	assert.Equal(t, int64(2), s.Hit())
	s.Hit()
	l, moved = s.Report()
	assert.Equal(t, 0.75, l.Rate())
	assert.True(t, moved)
}
