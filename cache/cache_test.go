// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cache

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUGetOrLoad(t *testing.T) {
	c, err := NewLRU[uint64, string](2)
	require.NoError(t, err)

	loads := 0
	loader := func(k uint64) (string, error) {
		loads++
		if k == 0 {
			return "", errors.New("no genesis")
		}
		return "block", nil
	}

	v, err := c.GetOrLoad(1, loader)
	require.NoError(t, err)
	assert.Equal(t, "block", v)

	v, err = c.GetOrLoad(1, loader)
	require.NoError(t, err)
	assert.Equal(t, "block", v)
	assert.Equal(t, 1, loads)

	_, err = c.GetOrLoad(0, loader)
	assert.Error(t, err)
	_, ok := c.Get(0)
	assert.False(t, ok, "failed loads are not cached")

	c.Add(2, "two")
	c.Add(3, "three")
	assert.Equal(t, 2, c.Len())
	_, ok = c.Get(1)
	assert.False(t, ok, "least recently used entry evicted")

	l, _ := c.Stats().Report()
	assert.Equal(t, Lookups{Hit: 1, Miss: 4}, l)
}

func TestCode(t *testing.T) {
	c := NewCode(0)
	hash := common.HexToHash("0x01")

	_, ok := c.Get(hash)
	assert.False(t, ok)

	c.Add(hash, []byte{0x60, 0x00})
	code, ok := c.Get(hash)
	assert.True(t, ok)
	assert.Equal(t, []byte{0x60, 0x00}, code)
	assert.Equal(t, 1, c.Len())

	l, _ := c.Stats().Report()
	assert.Equal(t, Lookups{Hit: 1, Miss: 1}, l)
}
