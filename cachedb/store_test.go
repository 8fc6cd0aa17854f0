// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cachedb

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vechain/forkbackend/cache"
	"github.com/vechain/forkbackend/state"
)

type fakeSource struct {
	accounts map[common.Address]state.AccountInfo
	storage  map[common.Address]map[common.Hash]common.Hash
	calls    map[string]int
	err      error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		accounts: make(map[common.Address]state.AccountInfo),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
		calls:    make(map[string]int),
	}
}

func (f *fakeSource) Account(addr common.Address) (*state.AccountInfo, error) {
	f.calls["account"]++
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.accounts[addr]
	if !ok {
		return nil, nil
	}
	return &info, nil
}

func (f *fakeSource) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	f.calls["storage"]++
	if f.err != nil {
		return common.Hash{}, f.err
	}
	return f.storage[addr][slot], nil
}

func (f *fakeSource) BlockHash(number uint64) (common.Hash, error) {
	f.calls["blockhash"]++
	return common.BigToHash(uint256.NewInt(number + 1000).ToBig()), nil
}

var (
	addrA = common.HexToAddress("0xaaaa")
	addrB = common.HexToAddress("0xbbbb")
	slot0 = common.Hash{}
	slot1 = common.HexToHash("0x01")
)

func contractInfo(balance uint64, code []byte) state.AccountInfo {
	return state.AccountInfo{Balance: uint256.NewInt(balance), CodeHash: crypto.Keccak256Hash(code), Code: code}
}

func TestReadsAreMemoised(t *testing.T) {
	src := newFakeSource()
	code := []byte{0x60, 0x01, 0x60, 0x00}
	src.accounts[addrA] = contractInfo(7, code)
	src.storage[addrA] = map[common.Hash]common.Hash{slot1: common.HexToHash("0x2a")}
	s := New(src, nil)

	for range 3 {
		info, exists, err := s.Basic(addrA)
		require.NoError(t, err)
		assert.True(t, exists)
		assert.Equal(t, uint64(7), info.Balance.Uint64())

		value, err := s.Storage(addrA, slot1)
		require.NoError(t, err)
		assert.Equal(t, common.HexToHash("0x2a"), value)

		got, err := s.CodeByHash(crypto.Keccak256Hash(code))
		require.NoError(t, err)
		assert.Equal(t, code, got)

		hash, err := s.BlockHash(5)
		require.NoError(t, err)
		assert.Equal(t, common.BigToHash(uint256.NewInt(1005).ToBig()), hash)
	}
	assert.Equal(t, map[string]int{"account": 1, "storage": 1, "blockhash": 1}, src.calls)
}

func TestNotExisting(t *testing.T) {
	src := newFakeSource()
	s := New(src, nil)

	info, exists, err := s.Basic(addrA)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.True(t, info.IsEmpty())

	value, err := s.Storage(addrA, slot1)
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, value)
	assert.Equal(t, 0, src.calls["storage"], "absent accounts have no upstream storage")

	// storage read of an unseen account loads the account first
	_, err = s.Storage(addrB, slot1)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls["account"])
}

func TestSourceError(t *testing.T) {
	src := newFakeSource()
	src.err = errors.New("connection refused")
	s := New(src, nil)

	_, _, err := s.Basic(addrA)
	var dbErr *Error
	require.True(t, errors.As(err, &dbErr))
	assert.ErrorIs(t, err, src.err)
	assert.False(t, s.Contains(addrA), "failed fetches are not cached")

	_, err = s.CodeByHash(common.HexToHash("0x1234"))
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestSharedCodeCache(t *testing.T) {
	codes := cache.NewCode(16)
	src := newFakeSource()
	code := []byte{0x60, 0x02}
	src.accounts[addrA] = contractInfo(0, code)

	s1 := New(src, codes)
	_, _, err := s1.Basic(addrA)
	require.NoError(t, err)

	s2 := New(newFakeSource(), codes)
	got, err := s2.CodeByHash(crypto.Keccak256Hash(code))
	require.NoError(t, err)
	assert.Equal(t, code, got)
}

func TestCloneIsolation(t *testing.T) {
	src := newFakeSource()
	src.accounts[addrA] = state.NewAccountInfo()
	src.storage[addrA] = map[common.Hash]common.Hash{slot0: common.HexToHash("0x01")}
	s := New(src, nil)

	_, err := s.Storage(addrA, slot0)
	require.NoError(t, err)
	s.InsertAccountInfo(addrB, state.AccountInfo{Balance: uint256.NewInt(1), CodeHash: types.EmptyCodeHash})

	clone := s.Clone()
	require.NoError(t, clone.InsertAccountStorage(addrA, slot0, common.HexToHash("0x02")))
	clone.InsertAccountInfo(addrB, state.AccountInfo{Balance: uint256.NewInt(2), CodeHash: types.EmptyCodeHash})

	require.NoError(t, s.InsertAccountStorage(addrA, slot1, common.HexToHash("0x03")))

	value, err := s.Storage(addrA, slot0)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x01"), value)
	info, _, err := s.Basic(addrB)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.Balance.Uint64())

	value, err = clone.Storage(addrA, slot0)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x02"), value)
	acc, ok := clone.Account(addrA)
	require.True(t, ok)
	_, ok = acc.Slot(slot1)
	assert.False(t, ok, "writes to the original after cloning stay in the original")

	// a detached copy never writes through
	acc.SetSlot(slot0, common.HexToHash("0xff"))
	value, err = clone.Storage(addrA, slot0)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x02"), value)
}

func TestReplaceAccountStorage(t *testing.T) {
	src := newFakeSource()
	src.accounts[addrA] = state.NewAccountInfo()
	src.storage[addrA] = map[common.Hash]common.Hash{slot1: common.HexToHash("0x09")}
	s := New(src, nil)

	require.NoError(t, s.ReplaceAccountStorage(addrA, map[common.Hash]common.Hash{slot0: common.HexToHash("0x01")}))
	value, err := s.Storage(addrA, slot1)
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, value)
	assert.Equal(t, 0, src.calls["storage"])

	acc, _ := s.Account(addrA)
	assert.Equal(t, StateStorageCleared, acc.State)
	assert.Equal(t, 1, acc.SlotCount())
}

func TestCommit(t *testing.T) {
	src := newFakeSource()
	src.accounts[addrA] = state.NewAccountInfo()
	src.storage[addrA] = map[common.Hash]common.Hash{slot1: common.HexToHash("0x09")}
	src.accounts[addrB] = state.AccountInfo{Balance: uint256.NewInt(5), CodeHash: types.EmptyCodeHash}
	s := New(src, nil)
	require.NoError(t, s.InsertAccountStorage(addrB, slot0, common.HexToHash("0x01")))

	code := []byte{0x60, 0x03}
	touched := state.NewAccount(state.AccountInfo{Balance: uint256.NewInt(3), CodeHash: types.EmptyCodeHash, Code: code})
	touched.Storage[slot0] = state.StorageSlot{Present: common.HexToHash("0x07")}
	touched.Status = state.Touched

	untouched := state.NewAccount(state.AccountInfo{Balance: uint256.NewInt(100)})

	destroyed := state.NewAccount(state.NewAccountInfo())
	destroyed.Status = state.Touched | state.SelfDestructed

	c := common.HexToAddress("0xcccc")
	s.Commit(state.Changeset{addrA: touched, addrB: destroyed, c: untouched})

	assert.False(t, s.Contains(c))

	info, exists, err := s.Basic(addrA)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, uint64(3), info.Balance.Uint64())
	assert.Equal(t, crypto.Keccak256Hash(code), info.CodeHash)
	got, err := s.CodeByHash(info.CodeHash)
	require.NoError(t, err)
	assert.Equal(t, code, got)

	value, err := s.Storage(addrA, slot0)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x07"), value)
	value, err = s.Storage(addrA, slot1)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x09"), value, "touched accounts keep fetching unknown slots")

	_, exists, err = s.Basic(addrB)
	require.NoError(t, err)
	assert.False(t, exists)
	value, err = s.Storage(addrB, slot0)
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, value)
}

func TestCommitCreated(t *testing.T) {
	src := newFakeSource()
	src.accounts[addrA] = state.NewAccountInfo()
	src.storage[addrA] = map[common.Hash]common.Hash{slot1: common.HexToHash("0x09")}
	s := New(src, nil)
	_, err := s.Storage(addrA, slot1)
	require.NoError(t, err)

	created := state.NewAccount(state.NewAccountInfo())
	created.Storage[slot0] = state.StorageSlot{Present: common.HexToHash("0x01")}
	created.Status = state.Touched | state.Created
	s.Commit(state.Changeset{addrA: created})

	value, err := s.Storage(addrA, slot1)
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, value)
	value, err = s.Storage(addrA, slot0)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x01"), value)
}

func TestMergeStorage(t *testing.T) {
	dst := NewDBAccount(state.NewAccountInfo(), StateNone)
	dst.SetSlot(slot0, common.HexToHash("0x01"))
	dst.SetSlot(slot1, common.HexToHash("0x02"))

	src := NewDBAccount(state.NewAccountInfo(), StateTouched)
	src.SetSlot(slot1, common.HexToHash("0x03"))

	dst.MergeStorage(src)
	v, _ := dst.Slot(slot1)
	assert.Equal(t, common.HexToHash("0x03"), v)

	src.SwapStorage(dst)
	assert.Equal(t, 2, src.SlotCount())
	assert.Equal(t, 1, dst.SlotCount())

	var keys []common.Hash
	src.Slots(func(key, _ common.Hash) bool {
		keys = append(keys, key)
		return true
	})
	assert.Equal(t, []common.Hash{slot0, slot1}, keys)
}
