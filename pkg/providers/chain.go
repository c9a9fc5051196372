package providers

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"dal/runtime-go/pkg/runtime"
)

const ChainNamespace = "chain"

var (
	ErrUnknownChain      = errors.New("chain: unsupported chain id")
	ErrInsufficientFunds = errors.New("chain: insufficient funds")
)

type ChainConfig struct {
	ID            int64
	Name          string
	GasPrice      float64
	Confirmations int64
	Testnet       bool
}

func DefaultChains() []ChainConfig {
	return []ChainConfig{
		{ID: 1, Name: "Ethereum Mainnet", GasPrice: 20, Confirmations: 12},
		{ID: 137, Name: "Polygon", GasPrice: 30, Confirmations: 256},
		{ID: 56, Name: "Binance Smart Chain", GasPrice: 5, Confirmations: 15},
		{ID: 42161, Name: "Arbitrum One", GasPrice: 0.1, Confirmations: 1},
		{ID: 5, Name: "Ethereum Goerli", GasPrice: 2, Confirmations: 6, Testnet: true},
		{ID: 80001, Name: "Polygon Mumbai", GasPrice: 1, Confirmations: 6, Testnet: true},
	}
}

var baseGas = map[string]int64{
	"transfer": 21000,
	"mint":     50000,
	"burn":     30000,
	"approve":  46000,
	"deploy":   200000,
}

const weiPerUnit int64 = 1_000_000_000_000_000

// Chain is an in-memory ledger standing in for chain RPC. Unknown addresses
// start with a balance derived from their hex digits.
type Chain struct {
	mu       sync.Mutex
	chains   map[int64]ChainConfig
	balances map[string]int64
	blocks   map[int64]int64
	nonce    uint64
}

func NewChain(chains ...ChainConfig) *Chain {
	if len(chains) == 0 {
		chains = DefaultChains()
	}
	c := &Chain{
		chains:   make(map[int64]ChainConfig, len(chains)),
		balances: make(map[string]int64),
		blocks:   make(map[int64]int64, len(chains)),
	}
	for _, cfg := range chains {
		c.chains[cfg.ID] = cfg
		c.blocks[cfg.ID] = 1
	}
	return c
}

func ledgerKey(chainID int64, addr string) string {
	return fmt.Sprintf("%d/%s", chainID, strings.ToLower(addr))
}

func seedBalance(addr string) int64 {
	if !strings.HasPrefix(addr, "0x") {
		return 0
	}
	var sum int64
	for _, r := range addr[2:] {
		switch {
		case r >= '0' && r <= '9':
			sum += int64(r - '0')
		case r >= 'a' && r <= 'f':
			sum += int64(r-'a') + 10
		case r >= 'A' && r <= 'F':
			sum += int64(r-'A') + 10
		}
	}
	return (sum % 1000) * weiPerUnit
}

func (c *Chain) config(chainID int64) (ChainConfig, error) {
	cfg, ok := c.chains[chainID]
	if !ok {
		return ChainConfig{}, fmt.Errorf("%w %d", ErrUnknownChain, chainID)
	}
	return cfg, nil
}

func (c *Chain) balanceLocked(chainID int64, addr string) int64 {
	key := ledgerKey(chainID, addr)
	if b, ok := c.balances[key]; ok {
		return b
	}
	return seedBalance(addr)
}

func (c *Chain) Balance(chainID int64, addr string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.config(chainID); err != nil {
		return 0, err
	}
	return c.balanceLocked(chainID, addr), nil
}

// Transfer moves amount between addresses and mines one block. It returns a
// keccak-256 transaction hash.
func (c *Chain) Transfer(chainID int64, from, to string, amount int64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("chain: amount must be positive, got %d", amount)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.config(chainID); err != nil {
		return "", err
	}
	fromBal := c.balanceLocked(chainID, from)
	if fromBal < amount {
		return "", fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, from, fromBal, amount)
	}
	c.balances[ledgerKey(chainID, from)] = fromBal - amount
	c.balances[ledgerKey(chainID, to)] = c.balanceLocked(chainID, to) + amount
	c.blocks[chainID]++
	c.nonce++

	h := sha3.NewLegacyKeccak256()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], c.nonce)
	fmt.Fprintf(h, "%d|%s|%s|%d|", chainID, from, to, amount)
	h.Write(buf[:])
	hash := "0x" + hex.EncodeToString(h.Sum(nil))
	Logger().Debug("chain transfer",
		zap.Int64("chain", chainID),
		zap.String("from", from),
		zap.String("to", to),
		zap.Int64("amount", amount),
		zap.String("tx", hash))
	return hash, nil
}

func (c *Chain) EstimateGas(chainID int64, operation string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, err := c.config(chainID)
	if err != nil {
		return 0, err
	}
	gas, ok := baseGas[operation]
	if !ok {
		gas = baseGas["transfer"]
	}
	if cfg.Testnet {
		gas /= 2
	}
	return gas, nil
}

func (c *Chain) BlockNumber(chainID int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.config(chainID); err != nil {
		return 0, err
	}
	return c.blocks[chainID], nil
}

func (c *Chain) GasPrice(chainID int64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, err := c.config(chainID)
	if err != nil {
		return 0, err
	}
	return cfg.GasPrice, nil
}

func (c *Chain) Chains() []ChainConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChainConfig, 0, len(c.chains))
	for _, cfg := range c.chains {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Chain) Namespace() string { return ChainNamespace }

func (c *Chain) Builtins() []runtime.Builtin {
	fail := func(fn string, err error) error { return providerError(ChainNamespace, fn, err) }
	return []runtime.Builtin{
		runtime.Fixed("get_balance", 2, func(_ *runtime.NativeCall, args []runtime.Value) (runtime.Value, error) {
			b, err := c.Balance(integer(args, 0), str(args, 1))
			if err != nil {
				return nil, fail("get_balance", err)
			}
			return runtime.Int(b), nil
		}, runtime.KindInt, runtime.KindString),
		runtime.Fixed("transfer", 4, func(_ *runtime.NativeCall, args []runtime.Value) (runtime.Value, error) {
			hash, err := c.Transfer(integer(args, 0), str(args, 1), str(args, 2), integer(args, 3))
			if err != nil {
				return nil, fail("transfer", err)
			}
			return runtime.String(hash), nil
		}, runtime.KindInt, runtime.KindString, runtime.KindString, runtime.KindInt),
		runtime.Fixed("estimate_gas", 2, func(_ *runtime.NativeCall, args []runtime.Value) (runtime.Value, error) {
			gas, err := c.EstimateGas(integer(args, 0), str(args, 1))
			if err != nil {
				return nil, fail("estimate_gas", err)
			}
			return runtime.Int(gas), nil
		}, runtime.KindInt, runtime.KindString),
		runtime.Fixed("block_number", 1, func(_ *runtime.NativeCall, args []runtime.Value) (runtime.Value, error) {
			n, err := c.BlockNumber(integer(args, 0))
			if err != nil {
				return nil, fail("block_number", err)
			}
			return runtime.Int(n), nil
		}, runtime.KindInt),
		runtime.Fixed("gas_price", 1, func(_ *runtime.NativeCall, args []runtime.Value) (runtime.Value, error) {
			p, err := c.GasPrice(integer(args, 0))
			if err != nil {
				return nil, fail("gas_price", err)
			}
			return runtime.Float(p), nil
		}, runtime.KindInt),
		runtime.Fixed("chains", 0, func(*runtime.NativeCall, []runtime.Value) (runtime.Value, error) {
			cfgs := c.Chains()
			out := make([]runtime.Value, len(cfgs))
			for i, cfg := range cfgs {
				out[i] = runtime.NewMap().
					With("id", runtime.Int(cfg.ID)).
					With("name", runtime.String(cfg.Name)).
					With("testnet", runtime.Bool(cfg.Testnet))
			}
			return runtime.NewList(out...), nil
		}),
	}
}
