// Package stub provides an in-memory gateway.Reader for tests.
package stub

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"

	"solana-metrics-oracle/internal/gateway"
	"solana-metrics-oracle/internal/solana"
)

// Reader implements gateway.Reader over fixtures. Signature pagination
// follows node semantics: newest first, before/until cursors exclusive.
type Reader struct {
	mu sync.Mutex

	Accounts         map[string]*solana.AccountInfo
	Transactions     map[string]*solana.Transaction
	SignaturesByAddr map[string][]solana.SignatureInfo
	ProgramOwned     map[string][]solana.KeyedAccount
	BlockTimes       map[int64]int64
	Slot             uint64

	// Errs injects an error per op name ("FetchAccounts", "Signatures",
	// "Transaction", "ProgramAccounts", "CurrentSlot", "BlockTime").
	Errs map[string]error

	// Calls counts invocations per op name.
	Calls map[string]int
}

// NewReader creates an empty fixture reader.
func NewReader() *Reader {
	return &Reader{
		Accounts:         make(map[string]*solana.AccountInfo),
		Transactions:     make(map[string]*solana.Transaction),
		SignaturesByAddr: make(map[string][]solana.SignatureInfo),
		ProgramOwned:     make(map[string][]solana.KeyedAccount),
		BlockTimes:       make(map[int64]int64),
		Errs:             make(map[string]error),
		Calls:            make(map[string]int),
	}
}

// Pubkey derives a deterministic base58 pubkey from a label so fixtures
// can use readable names while the wire format stays realistic.
func Pubkey(label string) string {
	sum := sha256.Sum256([]byte(label))
	return base58.Encode(sum[:])
}

func mustDecode32(pubkey string) []byte {
	raw, err := base58.Decode(pubkey)
	if err != nil || len(raw) != 32 {
		panic(fmt.Sprintf("stub: %q is not a 32-byte base58 pubkey", pubkey))
	}
	return raw
}

// EncodeTokenAccount builds a 165-byte SPL token account body.
func EncodeTokenAccount(mint, owner string, amount uint64) []byte {
	data := make([]byte, solana.TokenAccountSize)
	copy(data[0:32], mustDecode32(mint))
	copy(data[32:64], mustDecode32(owner))
	binary.LittleEndian.PutUint64(data[64:72], amount)
	data[108] = 1 // initialized
	return data
}

// EncodeMint builds an 82-byte SPL mint body.
func EncodeMint(supply uint64, decimals uint8) []byte {
	data := make([]byte, solana.MintAccountSize)
	binary.LittleEndian.PutUint64(data[36:44], supply)
	data[44] = decimals
	data[45] = 1 // initialized
	return data
}

func (r *Reader) enter(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls[op]++
	return r.Errs[op]
}

// SetRawAccount registers an account with raw data bytes.
func (r *Reader) SetRawAccount(pubkey, owner string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Accounts[pubkey] = &solana.AccountInfo{
		Lamports: 1,
		Owner:    owner,
		Data:     base64.StdEncoding.EncodeToString(data),
	}
}

// SetTokenAccount registers an SPL token account.
func (r *Reader) SetTokenAccount(pubkey, mint, owner string, amount uint64) {
	r.SetRawAccount(pubkey, solana.TokenProgramID, EncodeTokenAccount(mint, owner, amount))
}

// SetMint registers an SPL mint.
func (r *Reader) SetMint(pubkey string, supply uint64, decimals uint8) {
	r.SetRawAccount(pubkey, solana.TokenProgramID, EncodeMint(supply, decimals))
}

// AddProgramAccount registers an account both as a scan result for program
// and as a fetchable account. Re-registering a pubkey replaces its data.
func (r *Reader) AddProgramAccount(program, pubkey string, data []byte) {
	r.SetRawAccount(pubkey, program, data)
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := solana.KeyedAccount{Pubkey: pubkey, Account: *r.Accounts[pubkey]}
	for i, acc := range r.ProgramOwned[program] {
		if acc.Pubkey == pubkey {
			r.ProgramOwned[program][i] = entry
			return
		}
	}
	r.ProgramOwned[program] = append(r.ProgramOwned[program], entry)
}

// SetSignatures registers the newest-first signature history of an address.
func (r *Reader) SetSignatures(address string, sigs []solana.SignatureInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SignaturesByAddr[address] = sigs
}

// AddTransaction registers a transaction keyed by its signature.
func (r *Reader) AddTransaction(tx *solana.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Transactions[tx.Signature] = tx
}

// FetchAccounts returns registered accounts in request order with nil
// entries for unknown keys.
func (r *Reader) FetchAccounts(_ context.Context, pubkeys []string) ([]*solana.AccountInfo, error) {
	if err := r.enter("FetchAccounts"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*solana.AccountInfo, len(pubkeys))
	for i, k := range pubkeys {
		out[i] = r.Accounts[k]
	}
	return out, nil
}

// Signatures pages the registered newest-first history.
func (r *Reader) Signatures(_ context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	if err := r.enter("Signatures"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	sigs := r.SignaturesByAddr[address]

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

// Transaction returns the registered transaction or nil.
func (r *Reader) Transaction(_ context.Context, signature string) (*solana.Transaction, error) {
	if err := r.enter("Transaction"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Transactions[signature], nil
}

// ProgramAccounts applies dataSize and memcmp filters to the registered
// accounts of the program.
func (r *Reader) ProgramAccounts(_ context.Context, program string, opts *solana.ProgramAccountsOpts) ([]solana.KeyedAccount, error) {
	if err := r.enter("ProgramAccounts"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []solana.KeyedAccount
	for _, acc := range r.ProgramOwned[program] {
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

// CurrentSlot returns the configured slot.
func (r *Reader) CurrentSlot(_ context.Context) (uint64, error) {
	if err := r.enter("CurrentSlot"); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Slot, nil
}

// BlockTime returns the registered block time or nil.
func (r *Reader) BlockTime(_ context.Context, slot int64) (*int64, error) {
	if err := r.enter("BlockTime"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.BlockTimes[slot]; ok {
		return &t, nil
	}
	return nil, nil
}

var _ gateway.Reader = (*Reader)(nil)
