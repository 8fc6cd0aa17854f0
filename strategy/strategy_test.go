// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package strategy

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vechain/forkbackend/cachedb"
	"github.com/vechain/forkbackend/evm"
	"github.com/vechain/forkbackend/fork"
	"github.com/vechain/forkbackend/state"
	"github.com/vechain/forkbackend/upstream"
)

type testBackend struct {
	*cachedb.Store
	journal *state.Journal
}

func (b *testBackend) ActiveJournal() *state.Journal { return b.journal }
func (b *testBackend) Interpreter() evm.Interpreter  { return evm.Transfer{} }

func (b *testBackend) Commit(changes state.Changeset) error {
	b.Store.Commit(changes)
	return b.journal.Sync(b.Store, nil)
}

func (b *testBackend) CowCopy() Backend {
	return &testBackend{Store: b.Store.Clone(), journal: b.journal.Clone()}
}

var (
	persistent = common.HexToAddress("0xabcd")
	other      = common.HexToAddress("0x0123")
	sender     = common.HexToAddress("0x5e4de7")
	receiver   = common.HexToAddress("0x7ece17e7")
)

func slot(n int64) common.Hash { return common.BigToHash(big.NewInt(n)) }

func storeWith(t *testing.T, addr common.Address, slots map[int64]int64) *cachedb.Store {
	s := cachedb.New(upstream.Empty{}, nil)
	if slots == nil {
		return s
	}
	s.InsertAccountInfo(addr, state.AccountInfo{Balance: uint256.NewInt(1)})
	for k, v := range slots {
		require.NoError(t, s.InsertAccountStorage(addr, slot(k), slot(v)))
	}
	return s
}

func readSlots(t *testing.T, s *cachedb.Store, addr common.Address, keys ...int64) []int64 {
	values := make([]int64, 0, len(keys))
	for _, k := range keys {
		v, err := s.Storage(addr, slot(k))
		require.NoError(t, err)
		values = append(values, v.Big().Int64())
	}
	return values
}

func TestMergeDBAccountData(t *testing.T) {
	code := []byte{0x60, 0x01}
	src := storeWith(t, persistent, map[int64]int64{0: 1, 1: 2})
	src.InsertAccountInfo(persistent, state.AccountInfo{Balance: uint256.NewInt(5), Code: code})
	dst := storeWith(t, persistent, map[int64]int64{1: 9, 2: 3})

	MergeDBAccountData(persistent, src, dst)

	assert.Equal(t, []int64{1, 2, 3}, readSlots(t, dst, persistent, 0, 1, 2), "source wins")
	info, exists, err := dst.Basic(persistent)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, uint64(5), info.Balance.Uint64())
	got, err := dst.CodeByHash(crypto.Keccak256Hash(code))
	require.NoError(t, err)
	assert.Equal(t, code, got)

	// source untouched
	assert.Equal(t, []int64{1, 2, 0}, readSlots(t, src, persistent, 0, 1, 2))
}

func TestMergeSkipsAbsentAccounts(t *testing.T) {
	src := storeWith(t, persistent, nil)
	dst := storeWith(t, other, map[int64]int64{0: 7})

	MergeDBAccountData(persistent, src, dst)
	assert.False(t, dst.Contains(persistent))

	dstJournal := state.NewJournal()
	MergeJournaledStateData(persistent, state.NewJournal(), dstJournal)
	assert.Equal(t, 0, dstJournal.Len())
}

func TestMergeIsIdempotent(t *testing.T) {
	src := storeWith(t, persistent, map[int64]int64{0: 1, 1: 2})
	once := storeWith(t, persistent, map[int64]int64{1: 9, 2: 3})
	twice := once.Clone()

	MergeDBAccountData(persistent, src, once)
	MergeDBAccountData(persistent, src, twice)
	MergeDBAccountData(persistent, src, twice)
	assert.Equal(t, readSlots(t, once, persistent, 0, 1, 2), readSlots(t, twice, persistent, 0, 1, 2))

	// merging a store into itself changes nothing
	MergeDBAccountData(persistent, src, src)
	assert.Equal(t, []int64{1, 2}, readSlots(t, src, persistent, 0, 1))
}

func TestMergeJournaledStateData(t *testing.T) {
	db := storeWith(t, persistent, map[int64]int64{})
	src, dst := state.NewJournal(), state.NewJournal()
	_, err := src.SStore(db, persistent, slot(0), slot(1))
	require.NoError(t, err)
	_, err = dst.SStore(db, persistent, slot(0), slot(5))
	require.NoError(t, err)
	_, err = dst.SStore(db, persistent, slot(3), slot(4))
	require.NoError(t, err)

	MergeJournaledStateData(persistent, src, dst)
	MergeJournaledStateData(persistent, src, dst)

	acc, ok := dst.Account(persistent)
	require.True(t, ok)
	assert.Equal(t, slot(1), acc.Storage[slot(0)].Present)
	assert.Equal(t, slot(4), acc.Storage[slot(3)].Present)
	assert.True(t, acc.IsTouched())

	// the merged account is private to dst
	_, err = src.SStore(db, persistent, slot(0), slot(2))
	require.NoError(t, err)
	acc, _ = dst.Account(persistent)
	assert.Equal(t, slot(1), acc.Storage[slot(0)].Present)
}

func TestUpdateForkDB(t *testing.T) {
	memDB := storeWith(t, persistent, map[int64]int64{0: 1})
	memDB.InsertAccountInfo(other, state.AccountInfo{Balance: uint256.NewInt(77)})
	active := state.NewJournal()
	_, err := active.LoadAccount(memDB, persistent)
	require.NoError(t, err)
	active.Checkpoint()
	active.Checkpoint()

	target := fork.New("http://b", 1000, evm.Env{}, nil, storeWith(t, persistent, nil), state.NewJournal())
	journal := NewDefault().Runner.UpdateForkDB(&EVMContext{}, nil, memDB, []common.Address{persistent}, active, target)

	assert.Same(t, target.Journal, journal)
	assert.Equal(t, 2, journal.Depth())
	assert.Equal(t, []int64{1}, readSlots(t, target.DB, persistent, 0))
	_, ok := journal.Account(persistent)
	assert.True(t, ok)
	assert.False(t, target.DB.Contains(other), "only persistent accounts are merged")

	// an active fork is the source when present
	src := fork.New("http://a", 5, evm.Env{}, nil, storeWith(t, persistent, map[int64]int64{0: 42}), state.NewJournal())
	Default{}.UpdateForkDB(&EVMContext{}, src, memDB, []common.Address{persistent}, src.Journal, target)
	assert.Equal(t, []int64{42}, readSlots(t, target.DB, persistent, 0))
}

// countingRunner counts the accounts merged into fork stores.
type countingRunner struct {
	Rollup
	merged *int
}

func (r countingRunner) MergeDBAccountData(c Context, addr common.Address, src, dst *cachedb.Store) {
	*r.merged++
	r.Rollup.MergeDBAccountData(c, addr, src, dst)
}

func (r countingRunner) UpdateForkDB(c Context, active *fork.Fork, memDB *cachedb.Store, persistent []common.Address, activeJournal *state.Journal, target *fork.Fork) *state.Journal {
	return updateForkDB(r, c, active, memDB, persistent, activeJournal, target)
}

func TestUpdateForkDBMergesThroughRunner(t *testing.T) {
	memDB := storeWith(t, persistent, map[int64]int64{0: 1})
	active := state.NewJournal()
	active.Checkpoint()
	_, err := active.SStore(memDB, persistent, slot(1), slot(2))
	require.NoError(t, err)

	target := fork.New("http://b", 1000, evm.Env{}, nil, storeWith(t, persistent, nil), state.NewJournal())
	journal := NewRollup(nil).Runner.UpdateForkDB(&RollupContext{}, nil, memDB, []common.Address{persistent}, active, target)
	assert.Equal(t, []int64{1}, readSlots(t, target.DB, persistent, 0))
	assert.Equal(t, 1, journal.Depth())

	merged := 0
	var r Runner = countingRunner{merged: &merged}
	r.UpdateForkDB(&RollupContext{}, nil, memDB, []common.Address{persistent, other}, active, target)
	assert.Equal(t, 2, merged)
}

func TestUpdateForkDBAlignsCheckpoints(t *testing.T) {
	memDB := storeWith(t, persistent, nil)
	active := state.NewJournal()
	_, err := active.SStore(memDB, persistent, slot(0), slot(1))
	require.NoError(t, err)
	cp := active.Checkpoint()
	_, err = active.SStore(memDB, persistent, slot(1), slot(1))
	require.NoError(t, err)

	target := fork.New("http://b", 1000, evm.Env{}, nil, storeWith(t, persistent, nil), state.NewJournal())
	journal := Default{}.UpdateForkDB(&EVMContext{}, nil, memDB, []common.Address{persistent}, active, target)
	assert.NotPanics(t, func() { journal.CheckpointRevert(cp) })
	assert.Equal(t, 0, journal.Depth())
}

func TestRollupSpec(t *testing.T) {
	s := NewRollup([]RollupActivation{
		{Fork: Bedrock, Time: 0},
		{Fork: Canyon, Time: 100},
		{Fork: Ecotone, Time: 200},
		{Fork: Isthmus, Time: 300},
	})
	env := &evm.Env{Cfg: evm.CfgEnv{Spec: evm.London}}

	for _, tt := range []struct {
		timestamp uint64
		want      evm.SpecID
	}{
		{0, evm.Merge},
		{150, evm.Shanghai},
		{299, evm.Cancun},
		{1000, evm.Prague},
	} {
		env.Block.Timestamp = tt.timestamp
		assert.Equal(t, tt.want, s.Spec(env), "timestamp %d", tt.timestamp)
	}

	empty := NewRollup(nil)
	assert.Equal(t, evm.London, empty.Spec(env))
	assert.Equal(t, evm.London, NewDefault().Spec(env))

	clone := s.Clone()
	clone.Context.(*RollupContext).Activations[0].Fork = Holocene
	assert.Equal(t, Bedrock, s.Context.(*RollupContext).Activations[0].Fork)

	f, err := ParseRollupFork(" Granite ")
	require.NoError(t, err)
	assert.Equal(t, Granite, f)
	assert.Equal(t, "granite", f.String())
	_, err = ParseRollupFork("shanghai")
	assert.Error(t, err)
}

func transferEnv(value uint64) *evm.Env {
	to := receiver
	return &evm.Env{
		Cfg:   evm.CfgEnv{ChainID: 1, Spec: evm.Cancun},
		Block: evm.BlockEnv{Number: 1, GasLimit: 30_000_000},
		Tx: evm.TxEnv{
			Caller:   sender,
			To:       &to,
			Value:    uint256.NewInt(value),
			GasLimit: 21_000,
		},
	}
}

func newTestBackend() *testBackend {
	db := cachedb.New(upstream.Alloc{sender: {Balance: uint256.NewInt(1000)}}, nil)
	return &testBackend{Store: db, journal: state.NewJournal()}
}

func TestInspectLeavesBackendUntouched(t *testing.T) {
	b := newTestBackend()
	res, err := Default{}.Inspect(&EVMContext{}, b, transferEnv(10), nil)
	require.NoError(t, err)
	assert.True(t, res.Result.IsSuccess())
	assert.Equal(t, uint64(10), res.State[receiver].Info.Balance.Uint64())

	info, _, err := b.Basic(sender)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), info.Balance.Uint64())

	require.NoError(t, b.Commit(res.State))
	info, _, err = b.Basic(receiver)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), info.Balance.Uint64())
}

func TestTransactFromTx(t *testing.T) {
	b := newTestBackend()
	journal := b.journal
	_, err := journal.LoadAccount(b, receiver)
	require.NoError(t, err)
	journal.SetDepth(3)

	var depth int
	hooks := &tracing.Hooks{OnEnter: func(d int, _ byte, _, _ common.Address, _ []byte, _ uint64, _ *big.Int) {
		depth = d
	}}
	from, to, gas := sender, receiver, uint64(21_000)
	req := &evm.TransactionRequest{From: &from, To: &to, Gas: &gas, Value: uint256.NewInt(25)}

	require.NoError(t, Default{}.TransactFromTx(&EVMContext{}, b, req, transferEnv(0), journal, hooks))
	assert.Equal(t, 4, depth, "replay runs one level deeper")

	info, _, err := b.Basic(receiver)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), info.Balance.Uint64())
	acc, ok := journal.Account(receiver)
	require.True(t, ok)
	assert.Equal(t, uint64(25), acc.Info.Balance.Uint64(), "journal resynced")
	assert.Equal(t, 3, journal.Depth())

	req.Gas = nil
	var missing *evm.MissingFieldError
	assert.ErrorAs(t, Rollup{}.TransactFromTx(&RollupContext{}, b, req, transferEnv(0), journal, nil), &missing)
}

func TestReplayIsolation(t *testing.T) {
	b := newTestBackend()
	_, _, err := b.Basic(sender)
	require.NoError(t, err)
	before, ok := b.Account(sender)
	require.True(t, ok)

	res, err := Replay(b, transferEnv(100), 1, nil)
	require.NoError(t, err)
	assert.True(t, res.Result.IsSuccess())

	after, ok := b.Account(sender)
	require.True(t, ok)
	assert.Equal(t, before.Info, after.Info)
	assert.False(t, b.Contains(receiver))
}
