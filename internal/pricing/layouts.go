package pricing

import (
	"bytes"
	"fmt"

	"solana-metrics-oracle/internal/solana"
)

// Well-known mints. USD stablecoins anchor the quote side at 1.0; the
// native mint is priced through the stablecoin bootstrap.
const (
	NativeMint = "So11111111111111111111111111111111111111112"
	USDCMint   = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint   = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

// StableswapAMMProgram is the built-in AMM whose pools the aggregator scans.
const StableswapAMMProgram = "EFsgmpbKifyA75ZY5NPHQxrtuAHHB6sYnoGkLi6xoTte"

// PoolLayout declares where a pool account keeps its pair and reserves.
// Inline layouts track reserve balances in the pool account itself;
// vault layouts store the pubkeys of two token accounts instead. Offset 0
// is the discriminator, so 0 means "not present" for every offset field.
type PoolLayout struct {
	Program       string
	Discriminator []byte
	Span          uint64

	MintAOff int
	MintBOff int

	// Inline reserve offsets (u64 little endian).
	ReserveAOff int
	ReserveBOff int

	// Vault pubkey offsets for layouts without inline reserves.
	VaultAOff int
	VaultBOff int
}

func (l PoolLayout) vaultStyle() bool {
	return l.VaultAOff > 0 && l.VaultBOff > 0
}

// Pool is one parsed pool account. For vault layouts the reserves are
// filled in after the vault token accounts are fetched.
type Pool struct {
	Address  string
	MintA    string
	MintB    string
	ReserveA uint64
	ReserveB uint64
	VaultA   string
	VaultB   string
}

// Contains reports whether the pool trades the mint.
func (p *Pool) Contains(mint string) bool {
	return p.MintA == mint || p.MintB == mint
}

// Counter returns the other side of the pair.
func (p *Pool) Counter(mint string) string {
	if p.MintA == mint {
		return p.MintB
	}
	return p.MintA
}

// ReserveOf returns the raw reserve of the given side.
func (p *Pool) ReserveOf(mint string) uint64 {
	if p.MintA == mint {
		return p.ReserveA
	}
	return p.ReserveB
}

// Parse decodes a pool account against the layout.
func (l PoolLayout) Parse(pubkey string, data []byte) (*Pool, error) {
	if l.Span > 0 && uint64(len(data)) != l.Span {
		return nil, fmt.Errorf("pool %s: expected %d bytes, got %d", pubkey, l.Span, len(data))
	}
	if len(l.Discriminator) > 0 && !bytes.HasPrefix(data, l.Discriminator) {
		return nil, fmt.Errorf("pool %s: discriminator mismatch", pubkey)
	}

	mintA, err := solana.ReadPubkey(data, l.MintAOff)
	if err != nil {
		return nil, fmt.Errorf("pool %s: mint A: %w", pubkey, err)
	}
	mintB, err := solana.ReadPubkey(data, l.MintBOff)
	if err != nil {
		return nil, fmt.Errorf("pool %s: mint B: %w", pubkey, err)
	}

	pool := &Pool{Address: pubkey, MintA: mintA, MintB: mintB}

	if l.vaultStyle() {
		if pool.VaultA, err = solana.ReadPubkey(data, l.VaultAOff); err != nil {
			return nil, fmt.Errorf("pool %s: vault A: %w", pubkey, err)
		}
		if pool.VaultB, err = solana.ReadPubkey(data, l.VaultBOff); err != nil {
			return nil, fmt.Errorf("pool %s: vault B: %w", pubkey, err)
		}
		return pool, nil
	}

	if pool.ReserveA, err = solana.ReadUint64LE(data, l.ReserveAOff); err != nil {
		return nil, fmt.Errorf("pool %s: reserve A: %w", pubkey, err)
	}
	if pool.ReserveB, err = solana.ReadUint64LE(data, l.ReserveBOff); err != nil {
		return nil, fmt.Errorf("pool %s: reserve B: %w", pubkey, err)
	}
	return pool, nil
}

// StableswapLayout describes the built-in stableswap pool account: pair
// mints at 40/72 and tracked balances at 256/264, 359 bytes total.
func StableswapLayout() PoolLayout {
	return PoolLayout{
		Program:       StableswapAMMProgram,
		Discriminator: []byte{0xef, 0x5b, 0x5d, 0xa2, 0xab, 0x0e, 0x2a, 0x42},
		Span:          359,
		MintAOff:      40,
		MintBOff:      72,
		ReserveAOff:   256,
		ReserveBOff:   264,
	}
}
