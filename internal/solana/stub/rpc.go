package stub

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"

	"solana-metrics-oracle/internal/solana"
)

// RPCClient implements solana.RPCClient over in-memory fixtures. Signature
// pagination follows node semantics: newest first, before/until cursors
// exclusive, limit capped at 1000.
type RPCClient struct {
	mu sync.Mutex

	Accounts         map[string]*solana.AccountInfo
	Transactions     map[string]*solana.Transaction
	SignaturesByAddr map[string][]solana.SignatureInfo
	ProgramOwned     map[string][]solana.KeyedAccount
	BlockTimes       map[int64]int64
	Slot             uint64

	// Errs injects an error for a method name ("getSlot", "getTransaction",
	// ...). Consumed on every call until cleared.
	Errs map[string]error

	// Calls counts invocations per method name.
	Calls map[string]int
}

// NewRPCClient creates an empty stub client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Accounts:         make(map[string]*solana.AccountInfo),
		Transactions:     make(map[string]*solana.Transaction),
		SignaturesByAddr: make(map[string][]solana.SignatureInfo),
		ProgramOwned:     make(map[string][]solana.KeyedAccount),
		BlockTimes:       make(map[int64]int64),
		Errs:             make(map[string]error),
		Calls:            make(map[string]int),
	}
}

func (c *RPCClient) enter(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls[method]++
	return c.Errs[method]
}

// SetAccount registers an account with raw data bytes.
func (c *RPCClient) SetAccount(pubkey, owner string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[pubkey] = &solana.AccountInfo{
		Lamports: 1,
		Owner:    owner,
		Data:     base64.StdEncoding.EncodeToString(data),
	}
}

// AddTransaction registers a transaction keyed by its signature.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.Signature] = tx
}

// SetSignatures registers the newest-first signature history of an address.
func (c *RPCClient) SetSignatures(address string, sigs []solana.SignatureInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SignaturesByAddr[address] = sigs
}

// AddProgramAccount registers a scan result for a program.
func (c *RPCClient) AddProgramAccount(program string, acc solana.KeyedAccount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ProgramOwned[program] = append(c.ProgramOwned[program], acc)
}

// GetAccountInfo returns the registered account or nil.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	if err := c.enter("getAccountInfo"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Accounts[pubkey], nil
}

// GetMultipleAccounts returns registered accounts in request order with nil
// entries for unknown keys.
func (c *RPCClient) GetMultipleAccounts(_ context.Context, pubkeys []string) ([]*solana.AccountInfo, error) {
	if err := c.enter("getMultipleAccounts"); err != nil {
		return nil, err
	}
	if len(pubkeys) > solana.MaxBatchAccounts {
		return nil, fmt.Errorf("stub: %d keys exceeds limit %d", len(pubkeys), solana.MaxBatchAccounts)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*solana.AccountInfo, len(pubkeys))
	for i, k := range pubkeys {
		out[i] = c.Accounts[k]
	}
	return out, nil
}

// GetSignaturesForAddress pages the registered newest-first history.
func (c *RPCClient) GetSignaturesForAddress(_ context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	if err := c.enter("getSignaturesForAddress"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	sigs := c.SignaturesByAddr[address]

	start := 0
	end := len(sigs)
	if opts != nil && opts.Before != "" {
		for i, s := range sigs {
			if s.Signature == opts.Before {
				start = i + 1
				break
			}
		}
	}
	if opts != nil && opts.Until != "" {
		for i, s := range sigs {
			if s.Signature == opts.Until {
				end = i
				break
			}
		}
	}
	if start > end {
		return nil, nil
	}

	page := sigs[start:end]
	limit := 1000
	if opts != nil && opts.Limit > 0 && opts.Limit < limit {
		limit = opts.Limit
	}
	if len(page) > limit {
		page = page[:limit]
	}

	out := make([]solana.SignatureInfo, len(page))
	copy(out, page)
	return out, nil
}

// GetTransaction returns the registered transaction or nil.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	if err := c.enter("getTransaction"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Transactions[signature], nil
}

// GetProgramAccounts applies dataSize and memcmp filters to the registered
// accounts of the program.
func (c *RPCClient) GetProgramAccounts(_ context.Context, program string, opts *solana.ProgramAccountsOpts) ([]solana.KeyedAccount, error) {
	if err := c.enter("getProgramAccounts"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []solana.KeyedAccount
	for _, acc := range c.ProgramOwned[program] {
		data, err := acc.Account.Bytes()
		if err != nil {
			continue
		}
		if !matchesFilters(data, opts) {
			continue
		}
		out = append(out, acc)
	}
	return out, nil
}

func matchesFilters(data []byte, opts *solana.ProgramAccountsOpts) bool {
	if opts == nil {
		return true
	}
	if opts.DataSize > 0 && uint64(len(data)) != opts.DataSize {
		return false
	}
	for _, m := range opts.Memcmp {
		want, err := base58.Decode(m.Bytes)
		if err != nil {
			return false
		}
		if m.Offset < 0 || m.Offset+len(want) > len(data) {
			return false
		}
		for i := range want {
			if data[m.Offset+i] != want[i] {
				return false
			}
		}
	}
	return true
}

// GetSlot returns the configured slot.
func (c *RPCClient) GetSlot(_ context.Context) (uint64, error) {
	if err := c.enter("getSlot"); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Slot, nil
}

// GetBlockTime returns the registered block time or nil.
func (c *RPCClient) GetBlockTime(_ context.Context, slot int64) (*int64, error) {
	if err := c.enter("getBlockTime"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.BlockTimes[slot]; ok {
		return &t, nil
	}
	return nil, nil
}

var _ solana.RPCClient = (*RPCClient)(nil)
