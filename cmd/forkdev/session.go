// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/vechain/forkbackend/backend"
	"github.com/vechain/forkbackend/evm"
	"github.com/vechain/forkbackend/fork"
	"github.com/vechain/forkbackend/snapshot"
)

// session runs a script against a backend, writing one line per read.
type session struct {
	backend   *backend.Backend
	forks     []backend.LocalForkID
	snapshots map[string]snapshot.ID
	out       io.Writer
}

func newSession(ctx context.Context, cfg *config, forks *fork.MultiFork, out io.Writer) (*session, error) {
	genesis, err := cfg.genesis()
	if err != nil {
		return nil, err
	}
	env := evm.Env{Cfg: evm.CfgEnv{Spec: cfg.spec()}}
	env.Tx.Caller = backend.DefaultCaller
	b, err := backend.New(ctx, backend.Options{
		Strategy:   cfg.newStrategy(),
		Forks:      forks,
		Genesis:    genesis,
		Persistent: cfg.persistent(),
		Env:        env,
	})
	if err != nil {
		return nil, err
	}

	s := &session{backend: b, snapshots: make(map[string]snapshot.ID), out: out}
	// latest blocks are resolved up front so that every fork of a url shares one pin
	cfs, err := forks.Resolve(ctx, cfg.createForks())
	if err != nil {
		b.Close()
		return nil, err
	}
	for _, cf := range cfs {
		id, err := b.CreateFork(ctx, cf)
		if err != nil {
			b.Close()
			return nil, err
		}
		s.forks = append(s.forks, id)
		log.Info("fork created", "id", id, "url", cf.URL, "block", *cf.Block)
	}
	return s, nil
}

func (s *session) Close() { s.backend.Close() }

func (s *session) run(ctx context.Context, steps []step) error {
	for i, st := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Debug("run step", "index", i, "step", st)
		if err := s.exec(ctx, st); err != nil {
			return errors.Wrapf(err, "step %d (%v)", i, st)
		}
	}
	return nil
}

func (s *session) exec(ctx context.Context, st step) error {
	b := s.backend
	switch st.Op {
	case "select":
		return b.SelectFork(s.forks[st.Fork])
	case "roll":
		return b.RollFork(ctx, s.forks[st.Fork], st.Block)
	case "snapshot":
		s.snapshots[st.Name] = b.Snapshot()
		return nil
	case "revert":
		id, ok := s.snapshots[st.Name]
		if !ok {
			return errors.Errorf("unknown snapshot %q", st.Name)
		}
		action := snapshot.Remove
		if st.Keep {
			action = snapshot.Keep
		} else {
			delete(s.snapshots, st.Name)
		}
		return b.RevertToSnapshot(id, action)
	case "persist":
		b.AddPersistentAccount(common.HexToAddress(st.Addr))
		return nil
	case "balance":
		v, err := b.Balance(common.HexToAddress(st.Addr))
		if err != nil {
			return err
		}
		s.printf("balance %s = %s", st.Addr, v.Dec())
	case "nonce":
		v, err := b.Nonce(common.HexToAddress(st.Addr))
		if err != nil {
			return err
		}
		s.printf("nonce %s = %d", st.Addr, v)
	case "code":
		v, err := b.Code(common.HexToAddress(st.Addr))
		if err != nil {
			return err
		}
		s.printf("code %s = %s", st.Addr, hexutil.Encode(v))
	case "storage":
		key, _ := parseWord(st.Slot)
		v, err := b.StorageAt(common.HexToAddress(st.Addr), key)
		if err != nil {
			return err
		}
		s.printf("storage %s[%s] = %s", st.Addr, st.Slot, v.Hex())
	case "transfer":
		return s.transfer(st)
	case "diagnose":
		if d := b.DiagnoseRevert(common.HexToAddress(st.Contract)); d != nil {
			s.printf("diagnose %s: %v", st.Contract, d)
		} else {
			s.printf("diagnose %s: nothing to report", st.Contract)
		}
	}
	return nil
}

func (s *session) transfer(st step) error {
	from, to := common.HexToAddress(st.From), common.HexToAddress(st.To)
	value, err := parseU256(st.Value)
	if err != nil {
		return err
	}
	gas := st.Gas
	return s.backend.TransactFromTx(&evm.TransactionRequest{
		From:  &from,
		To:    &to,
		Gas:   &gas,
		Value: value,
	}, nil)
}

func (s *session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format+"\n", args...)
}
