// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package evm

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vechain/forkbackend/state"
)

type accountsDB map[common.Address]state.AccountInfo

func (db accountsDB) Basic(addr common.Address) (state.AccountInfo, bool, error) {
	if info, ok := db[addr]; ok {
		return info, true, nil
	}
	return state.NewAccountInfo(), false, nil
}

func (db accountsDB) CodeByHash(common.Hash) ([]byte, error) { return nil, nil }

func (db accountsDB) Storage(common.Address, common.Hash) (common.Hash, error) {
	return common.Hash{}, nil
}

func (db accountsDB) BlockHash(uint64) (common.Hash, error) { return common.Hash{}, nil }

var (
	sender   = common.HexToAddress("0x5e4de7")
	receiver = common.HexToAddress("0x7ece17e7")
	coinbase = common.HexToAddress("0xc014ba5e")
)

func transferEnv(value uint64) *Env {
	to := receiver
	return &Env{
		Cfg:   CfgEnv{ChainID: 1, Spec: Latest},
		Block: BlockEnv{Number: 1, Coinbase: coinbase, BaseFee: uint256.NewInt(1), GasLimit: 30_000_000},
		Tx: TxEnv{
			Caller:   sender,
			To:       &to,
			Value:    uint256.NewInt(value),
			GasLimit: 50_000,
			GasPrice: uint256.NewInt(3),
		},
	}
}

func TestSpecID(t *testing.T) {
	for _, tt := range []struct {
		name string
		want SpecID
	}{
		{"cancun", Cancun},
		{"Prague", Prague},
		{"latest", Latest},
		{" frontier ", Frontier},
	} {
		got, err := ParseSpecID(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
	_, err := ParseSpecID("bedrock")
	assert.Error(t, err)
	assert.Equal(t, "shanghai", Shanghai.String())
	assert.True(t, Cancun.IsEnabledIn(London))
	assert.False(t, London.IsEnabledIn(Cancun))
}

func TestPrecompiles(t *testing.T) {
	assert.True(t, IsPrecompile(common.BytesToAddress([]byte{1}), Frontier))
	assert.False(t, IsPrecompile(common.BytesToAddress([]byte{5}), Homestead))
	assert.True(t, IsPrecompile(common.BytesToAddress([]byte{0x0a}), Cancun))
	assert.True(t, IsPrecompile(common.BytesToAddress([]byte{0x11}), Prague))
	assert.False(t, IsPrecompile(common.BytesToAddress([]byte{0x12}), Osaka))
	assert.True(t, IsPrecompile(common.BytesToAddress([]byte{0x01, 0x00}), Osaka))
	assert.False(t, IsPrecompile(common.Address{}, Osaka))
}

func TestTransfer(t *testing.T) {
	db := accountsDB{sender: {Balance: uint256.NewInt(1_000_000), CodeHash: types.EmptyCodeHash}}
	journal := state.NewJournal()

	var entered, exited int
	hooks := &tracing.Hooks{
		OnEnter: func(depth int, typ byte, from, to common.Address, input []byte, gas uint64, value *big.Int) {
			entered++
			assert.Equal(t, sender, from)
			assert.Equal(t, receiver, to)
			assert.Equal(t, int64(100), value.Int64())
		},
		OnExit: func(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
			exited++
			assert.False(t, reverted)
		},
	}

	res, err := Transfer{}.Transact(transferEnv(100), db, journal, hooks)
	require.NoError(t, err)
	assert.True(t, res.Result.IsSuccess())
	assert.Equal(t, uint64(21000), res.Result.GasUsed)
	assert.Equal(t, 1, entered)
	assert.Equal(t, 1, exited)

	assert.Equal(t, uint64(1_000_000-100-21000*3), res.State[sender].Info.Balance.Uint64())
	assert.Equal(t, uint64(1), res.State[sender].Info.Nonce)
	assert.Equal(t, uint64(100), res.State[receiver].Info.Balance.Uint64())
	assert.Equal(t, uint64(21000*2), res.State[coinbase].Info.Balance.Uint64())
	assert.True(t, res.State[receiver].IsTouched())
	assert.Equal(t, 0, journal.Len(), "journal is finalized")
}

func TestTransferToContractHalts(t *testing.T) {
	code := []byte{0x60, 0x00}
	db := accountsDB{
		sender:   {Balance: uint256.NewInt(1_000_000), CodeHash: types.EmptyCodeHash},
		receiver: {Balance: new(uint256.Int), CodeHash: crypto.Keccak256Hash(code), Code: code},
	}
	env := transferEnv(100)
	res, err := Transfer{}.Transact(env, db, state.NewJournal(), nil)
	require.NoError(t, err)
	assert.Equal(t, Halt, res.Result.Status)
	assert.Equal(t, HaltNotSupported, res.Result.Reason)
	assert.Equal(t, env.Tx.GasLimit, res.Result.GasUsed)
	assert.True(t, res.State[receiver].Info.Balance.IsZero(), "value transfer reverted")
	assert.Equal(t, uint64(1), res.State[sender].Info.Nonce, "nonce still increases")
}

func TestTransferInvalid(t *testing.T) {
	db := accountsDB{sender: {Balance: uint256.NewInt(10), CodeHash: types.EmptyCodeHash}}
	var invalid *InvalidTransactionError

	_, err := Transfer{}.Transact(transferEnv(1), db, state.NewJournal(), nil)
	require.True(t, errors.As(err, &invalid))
	assert.Contains(t, invalid.Reason, "insufficient funds")

	env := transferEnv(0)
	env.Tx.GasLimit = 100
	_, err = Transfer{}.Transact(env, db, state.NewJournal(), nil)
	require.True(t, errors.As(err, &invalid))
	assert.Contains(t, invalid.Reason, "intrinsic gas")

	env = transferEnv(0)
	nonce := uint64(4)
	env.Tx.Nonce = &nonce
	env.Tx.GasPrice = nil
	env.Block.BaseFee = nil
	_, err = Transfer{}.Transact(env, db, state.NewJournal(), nil)
	require.True(t, errors.As(err, &invalid))
	assert.Contains(t, invalid.Reason, "nonce mismatch")
}

func TestTxEnvFromRequest(t *testing.T) {
	from, to := sender, receiver
	gas := uint64(30_000)

	_, err := TxEnvFromRequest(&TransactionRequest{To: &to, Gas: &gas, Value: uint256.NewInt(0)})
	var missing *MissingFieldError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "from", missing.Field)

	_, err = TxEnvFromRequest(&TransactionRequest{From: &from, To: &to, Value: uint256.NewInt(0)})
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "gas", missing.Field)

	req := &TransactionRequest{
		From:                 &from,
		To:                   &to,
		Gas:                  &gas,
		Value:                uint256.NewInt(5),
		MaxFeePerGas:         uint256.NewInt(10),
		MaxPriorityFeePerGas: uint256.NewInt(2),
		Input:                []byte{0x01},
	}
	tx, err := TxEnvFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, sender, tx.Caller)
	assert.Equal(t, uint64(10), tx.GasPrice.Uint64())
	assert.Equal(t, uint64(2), tx.PriorityFee.Uint64())
	assert.Nil(t, tx.Nonce)

	req.Value.SetUint64(9)
	assert.Equal(t, uint64(5), tx.Value.Uint64(), "tx env does not alias the request")
}

func TestEnvCopy(t *testing.T) {
	env := transferEnv(1)
	cpy := env.Copy()
	cpy.Block.BaseFee.SetUint64(100)
	*cpy.Tx.To = common.Address{}
	cpy.Tx.Value.SetUint64(7)

	assert.Equal(t, uint64(1), env.Block.BaseFee.Uint64())
	assert.Equal(t, receiver, *env.Tx.To)
	assert.Equal(t, uint64(1), env.Tx.Value.Uint64())
}
