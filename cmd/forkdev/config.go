// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/vechain/forkbackend/evm"
	"github.com/vechain/forkbackend/fork"
	"github.com/vechain/forkbackend/strategy"
	"github.com/vechain/forkbackend/upstream"
	"gopkg.in/yaml.v3"
)

type rpcConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Retries *int          `yaml:"retries"`
}

type activationConfig struct {
	Fork string `yaml:"fork"`
	Time uint64 `yaml:"time"`
}

type strategyConfig struct {
	Kind        string             `yaml:"kind"`
	Activations []activationConfig `yaml:"activations"`
}

type forkConfig struct {
	URL   string  `yaml:"url"`
	Block *uint64 `yaml:"block"`
}

type allocConfig struct {
	Balance string            `yaml:"balance"`
	Nonce   uint64            `yaml:"nonce"`
	Code    string            `yaml:"code"`
	Storage map[string]string `yaml:"storage"`
}

// step is one instruction of the session script.
type step struct {
	Op       string `yaml:"op"`
	Fork     int    `yaml:"fork"`
	Block    uint64 `yaml:"block"`
	Name     string `yaml:"name"`
	Keep     bool   `yaml:"keep"`
	Addr     string `yaml:"addr"`
	Slot     string `yaml:"slot"`
	Value    string `yaml:"value"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Gas      uint64 `yaml:"gas"`
	Contract string `yaml:"contract"`
}

type config struct {
	Verbosity   *int                   `yaml:"verbosity"`
	JSONLogs    bool                   `yaml:"json-logs"`
	MetricsAddr string                 `yaml:"metrics-addr"`
	RPC         rpcConfig              `yaml:"rpc"`
	Spec        string                 `yaml:"spec"`
	Strategy    strategyConfig         `yaml:"strategy"`
	Persistent  []string               `yaml:"persistent"`
	Forks       []forkConfig           `yaml:"forks"`
	Alloc       map[string]allocConfig `yaml:"alloc"`
	Script      []step                 `yaml:"script"`
}

var stepOps = map[string]bool{
	"select": true, "roll": true, "snapshot": true, "revert": true,
	"balance": true, "nonce": true, "storage": true, "code": true,
	"transfer": true, "persist": true, "diagnose": true,
}

func loadConfig(path string) (*config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*config, error) {
	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *config) applyDefaults() {
	def := upstream.DefaultOptions()
	if c.RPC.Timeout <= 0 {
		c.RPC.Timeout = def.Timeout
	}
	if c.RPC.Retries == nil {
		c.RPC.Retries = &def.Retries
	}
	if c.Spec == "" {
		c.Spec = evm.Latest.String()
	}
	if c.Strategy.Kind == "" {
		c.Strategy.Kind = "default"
	}
	for i := range c.Script {
		if c.Script[i].Op == "transfer" && c.Script[i].Gas == 0 {
			c.Script[i].Gas = 21_000
		}
	}
}

func (c *config) validate() error {
	if _, err := evm.ParseSpecID(c.Spec); err != nil {
		return err
	}
	switch c.Strategy.Kind {
	case "default":
		if len(c.Strategy.Activations) > 0 {
			return errors.New("activations need the rollup strategy")
		}
	case "rollup":
		for _, a := range c.Strategy.Activations {
			if _, err := strategy.ParseRollupFork(a.Fork); err != nil {
				return err
			}
		}
	default:
		return errors.Errorf("unknown strategy %q", c.Strategy.Kind)
	}
	for _, addr := range c.Persistent {
		if !common.IsHexAddress(addr) {
			return errors.Errorf("invalid persistent address %q", addr)
		}
	}
	for i, f := range c.Forks {
		if f.URL == "" {
			return errors.Errorf("fork %d: missing url", i)
		}
	}
	if _, err := c.genesis(); err != nil {
		return err
	}
	for i, s := range c.Script {
		if err := c.validateStep(s); err != nil {
			return errors.Wrapf(err, "step %d", i)
		}
	}
	return nil
}

func (c *config) validateStep(s step) error {
	if !stepOps[s.Op] {
		return errors.Errorf("unknown op %q", s.Op)
	}
	switch s.Op {
	case "select", "roll":
		if s.Fork < 0 || s.Fork >= len(c.Forks) {
			return errors.Errorf("fork index %d out of range", s.Fork)
		}
	case "snapshot", "revert":
		if s.Name == "" {
			return errors.New("missing name")
		}
	case "balance", "nonce", "code", "persist":
		return checkAddress("addr", s.Addr)
	case "diagnose":
		return checkAddress("contract", s.Contract)
	case "storage":
		if err := checkAddress("addr", s.Addr); err != nil {
			return err
		}
		if _, ok := math.ParseBig256(s.Slot); !ok {
			return errors.Errorf("invalid slot %q", s.Slot)
		}
	case "transfer":
		if err := checkAddress("from", s.From); err != nil {
			return err
		}
		if err := checkAddress("to", s.To); err != nil {
			return err
		}
		if _, err := parseU256(s.Value); err != nil {
			return err
		}
	}
	return nil
}

func checkAddress(field, value string) error {
	if !common.IsHexAddress(value) {
		return errors.Errorf("invalid %s address %q", field, value)
	}
	return nil
}

// parseU256 accepts decimal and 0x prefixed hex numbers.
func parseU256(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, ok := math.ParseBig256(s)
	if !ok {
		return nil, errors.Errorf("invalid number %q", s)
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, errors.Errorf("number %q overflows 256 bits", s)
	}
	return u, nil
}

func parseWord(s string) (common.Hash, error) {
	v, ok := math.ParseBig256(s)
	if !ok {
		return common.Hash{}, errors.Errorf("invalid word %q", s)
	}
	return common.BigToHash(v), nil
}

func (c *config) upstreamOptions() upstream.Options {
	opts := upstream.DefaultOptions()
	opts.Timeout = c.RPC.Timeout
	opts.Retries = *c.RPC.Retries
	return opts
}

func (c *config) newStrategy() strategy.Strategy {
	if c.Strategy.Kind != "rollup" {
		return strategy.NewDefault()
	}
	activations := make([]strategy.RollupActivation, 0, len(c.Strategy.Activations))
	for _, a := range c.Strategy.Activations {
		f, _ := strategy.ParseRollupFork(a.Fork)
		activations = append(activations, strategy.RollupActivation{Fork: f, Time: a.Time})
	}
	return strategy.NewRollup(activations)
}

func (c *config) spec() evm.SpecID {
	spec, _ := evm.ParseSpecID(c.Spec)
	return spec
}

func (c *config) persistent() []common.Address {
	addrs := make([]common.Address, 0, len(c.Persistent))
	for _, addr := range c.Persistent {
		addrs = append(addrs, common.HexToAddress(addr))
	}
	return addrs
}

func (c *config) createForks() []fork.CreateFork {
	cfs := make([]fork.CreateFork, 0, len(c.Forks))
	for _, f := range c.Forks {
		cfs = append(cfs, fork.CreateFork{URL: f.URL, Block: f.Block})
	}
	return cfs
}

func (c *config) genesis() (upstream.Alloc, error) {
	if len(c.Alloc) == 0 {
		return nil, nil
	}
	alloc := make(upstream.Alloc, len(c.Alloc))
	for addr, a := range c.Alloc {
		if !common.IsHexAddress(addr) {
			return nil, errors.Errorf("invalid alloc address %q", addr)
		}
		balance, err := parseU256(a.Balance)
		if err != nil {
			return nil, errors.Wrapf(err, "alloc %s", addr)
		}
		acc := upstream.GenesisAccount{Balance: balance, Nonce: a.Nonce}
		if a.Code != "" {
			if acc.Code, err = hexutil.Decode(a.Code); err != nil {
				return nil, errors.Wrapf(err, "alloc %s code", addr)
			}
		}
		if len(a.Storage) > 0 {
			acc.Storage = make(map[common.Hash]common.Hash, len(a.Storage))
			for k, v := range a.Storage {
				key, err := parseWord(k)
				if err != nil {
					return nil, errors.Wrapf(err, "alloc %s", addr)
				}
				value, err := parseWord(v)
				if err != nil {
					return nil, errors.Wrapf(err, "alloc %s", addr)
				}
				acc.Storage[key] = value
			}
		}
		alloc[common.HexToAddress(addr)] = acc
	}
	return alloc, nil
}

func (s step) String() string {
	switch s.Op {
	case "select", "roll":
		return fmt.Sprintf("%s fork %d", s.Op, s.Fork)
	case "snapshot", "revert":
		return fmt.Sprintf("%s %s", s.Op, s.Name)
	case "transfer":
		return fmt.Sprintf("transfer %s from %s to %s", s.Value, s.From, s.To)
	case "diagnose":
		return "diagnose " + s.Contract
	default:
		return fmt.Sprintf("%s %s", s.Op, s.Addr)
	}
}
