// Package resolver locates a protocol's value-holding token accounts from
// static descriptors, falling back from cheap derivation to history and
// program scans.
package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"solana-metrics-oracle/internal/domain"
	"solana-metrics-oracle/internal/gateway"
	"solana-metrics-oracle/internal/logging"
	"solana-metrics-oracle/internal/solana"
)

// History scan bounds. The authority scan is a fallback; it must stay cheap
// even for busy authorities.
const (
	DefaultHistoryPages   = 3
	DefaultHistoryTxLimit = 25
	historyPageLimit      = 1000
)

// VaultSet is the outcome of one resolution: the vaults found, how they were
// found, and how complete the set is believed to be. Balances are captured
// from the verification fetch; decimals are filled later from mint accounts.
type VaultSet struct {
	Vaults []domain.VaultAccount
	// Requested counts the candidate addresses the winning strategy tried to
	// verify; missing entries in Vaults are fetch or parse casualties.
	Requested int
	Expected  int
	Strategy  string
}

// Coverage reports the resolved share of the expected vault set, 1.0 when
// the expected count is unknown.
func (s *VaultSet) Coverage() float64 {
	if len(s.Vaults) == 0 {
		return 0
	}
	if s.Expected <= 0 {
		return 1.0
	}
	c := float64(len(s.Vaults)) / float64(s.Expected)
	if c > 1.0 {
		return 1.0
	}
	return c
}

// Addresses returns the vault addresses in resolution order.
func (s *VaultSet) Addresses() []string {
	out := make([]string, len(s.Vaults))
	for i, v := range s.Vaults {
		out[i] = v.Address
	}
	return out
}

// Mints returns the unique mints held by the set, in first-seen order.
func (s *VaultSet) Mints() []string {
	seen := make(map[string]struct{}, len(s.Vaults))
	var out []string
	for _, v := range s.Vaults {
		if _, ok := seen[v.Mint]; ok {
			continue
		}
		seen[v.Mint] = struct{}{}
		out = append(out, v.Mint)
	}
	return out
}

// Resolver finds vaults through the descriptor's strategies in order:
// seed derivation, authority history, program scan. The first strategy that
// yields vaults wins.
type Resolver struct {
	reader  gateway.Reader
	logger  *zap.Logger
	pages   int
	txLimit int
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// WithHistoryBounds caps the authority scan's page and transaction budget.
func WithHistoryBounds(pages, txLimit int) Option {
	return func(r *Resolver) {
		r.pages = pages
		r.txLimit = txLimit
	}
}

// New creates a Resolver over the given chain reader.
func New(reader gateway.Reader, opts ...Option) *Resolver {
	r := &Resolver{
		reader:  reader,
		pages:   DefaultHistoryPages,
		txLimit: DefaultHistoryTxLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger)
	return r
}

// ResolveVaults locates the protocol's vaults. A strategy error falls
// through to the next strategy unless the context ended. Zero vaults across
// all strategies is domain.ErrDataUnavailable, never an empty set: an empty
// set would read as zero value downstream.
func (r *Resolver) ResolveVaults(ctx context.Context, desc domain.ProtocolDescriptor) (*VaultSet, error) {
	strategies := []struct {
		name string
		fn   func(context.Context, domain.ProtocolDescriptor) ([]domain.VaultAccount, int, error)
	}{
		{"pda", r.resolveBySeeds},
		{"authority_scan", r.resolveByAuthority},
		{"program_scan", r.resolveByScan},
	}

	for _, s := range strategies {
		vaults, requested, err := s.fn(ctx, desc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("resolution strategy failed",
				zap.String("protocol", desc.ProtocolID),
				zap.String("strategy", s.name),
				zap.Error(err))
			continue
		}
		if len(vaults) > 0 {
			r.logger.Debug("vaults resolved",
				zap.String("protocol", desc.ProtocolID),
				zap.String("strategy", s.name),
				zap.Int("vaults", len(vaults)),
				zap.Int("requested", requested))
			return &VaultSet{
				Vaults:    vaults,
				Requested: requested,
				Expected:  desc.ExpectedVaults,
				Strategy:  s.name,
			}, nil
		}
	}

	return nil, fmt.Errorf("protocol %q: no vaults found: %w", desc.ProtocolID, domain.ErrDataUnavailable)
}

// resolveBySeeds derives vault addresses from the descriptor's seed
// templates and keeps the ones that verify as token accounts.
func (r *Resolver) resolveBySeeds(ctx context.Context, desc domain.ProtocolDescriptor) ([]domain.VaultAccount, int, error) {
	if len(desc.VaultSeeds) == 0 {
		return nil, 0, nil
	}

	addrs := make([]string, 0, len(desc.VaultSeeds))
	for _, seeds := range desc.VaultSeeds {
		addr, _, err := solana.FindProgramAddress(seeds, desc.ProgramID)
		if err != nil {
			return nil, 0, fmt.Errorf("derive vault address: %w", err)
		}
		addrs = append(addrs, addr)
	}
	vaults, err := r.verifyVaults(ctx, addrs)
	return vaults, len(addrs), err
}

// resolveByAuthority walks recent authority history and collects token
// accounts the protocol authority owns.
func (r *Resolver) resolveByAuthority(ctx context.Context, desc domain.ProtocolDescriptor) ([]domain.VaultAccount, int, error) {
	if desc.Authority == "" {
		return nil, 0, nil
	}

	candidates := make(map[string]struct{})
	before := ""
	fetched := 0

	for page := 0; page < r.pages && fetched < r.txLimit; page++ {
		opts := &solana.SignaturesOpts{Before: before, Limit: historyPageLimit}
		sigs, err := r.reader.Signatures(ctx, desc.Authority, opts)
		if err != nil {
			return nil, 0, fmt.Errorf("authority history: %w", err)
		}
		if len(sigs) == 0 {
			break
		}

		for _, sig := range sigs {
			if fetched >= r.txLimit {
				break
			}
			if sig.Failed() {
				continue
			}
			tx, err := r.reader.Transaction(ctx, sig.Signature)
			if err != nil {
				if ctx.Err() != nil {
					return nil, 0, ctx.Err()
				}
				continue
			}
			fetched++
			collectOwnedTokenAccounts(tx, desc.Authority, candidates)
		}

		before = sigs[len(sigs)-1].Signature
		if len(sigs) < historyPageLimit {
			break
		}
	}

	if len(candidates) == 0 {
		return nil, 0, nil
	}
	addrs := make([]string, 0, len(candidates))
	for addr := range candidates {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	vaults, err := r.verifyVaults(ctx, addrs)
	return vaults, len(addrs), err
}

// collectOwnedTokenAccounts pulls accounts out of a transaction's token
// balance meta when their SPL owner is the protocol authority.
func collectOwnedTokenAccounts(tx *solana.Transaction, authority string, into map[string]struct{}) {
	if tx == nil || tx.Meta == nil || tx.Message == nil {
		return
	}
	balances := make([]solana.TokenBalance, 0, len(tx.Meta.PreTokenBalances)+len(tx.Meta.PostTokenBalances))
	balances = append(balances, tx.Meta.PreTokenBalances...)
	balances = append(balances, tx.Meta.PostTokenBalances...)

	for _, tb := range balances {
		if tb.Owner != authority {
			continue
		}
		if tb.AccountIndex < 0 || tb.AccountIndex >= len(tx.Message.AccountKeys) {
			continue
		}
		into[tx.Message.AccountKeys[tb.AccountIndex]] = struct{}{}
	}
}

// resolveByScan finds the protocol's state accounts by discriminator and
// reads vault pubkeys out of their fixed layout.
func (r *Resolver) resolveByScan(ctx context.Context, desc domain.ProtocolDescriptor) ([]domain.VaultAccount, int, error) {
	if len(desc.StateDiscriminator) == 0 || len(desc.StateVaultOffsets) == 0 {
		return nil, 0, nil
	}

	opts := &solana.ProgramAccountsOpts{
		DataSize: desc.StateDataSize,
		Memcmp: []solana.MemcmpFilter{
			{Offset: 0, Bytes: base58.Encode(desc.StateDiscriminator)},
		},
	}
	accounts, err := r.reader.ProgramAccounts(ctx, desc.ProgramID, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("program scan: %w", err)
	}

	seen := make(map[string]struct{})
	var addrs []string
	for _, acc := range accounts {
		data, err := acc.Account.Bytes()
		if err != nil {
			continue
		}
		for _, off := range desc.StateVaultOffsets {
			pk, err := solana.ReadPubkey(data, off)
			if err != nil {
				continue
			}
			if _, ok := seen[pk]; ok {
				continue
			}
			seen[pk] = struct{}{}
			addrs = append(addrs, pk)
		}
	}
	vaults, err := r.verifyVaults(ctx, addrs)
	return vaults, len(addrs), err
}

// verifyVaults fetches candidates and keeps the ones that are real SPL
// token accounts, capturing their balances from the same read.
func (r *Resolver) verifyVaults(ctx context.Context, addrs []string) ([]domain.VaultAccount, error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	accounts, err := r.reader.FetchAccounts(ctx, addrs)
	if err != nil {
		return nil, fmt.Errorf("verify vaults: %w", err)
	}

	var vaults []domain.VaultAccount
	for i, acc := range accounts {
		if acc == nil || acc.Owner != solana.TokenProgramID {
			continue
		}
		data, err := acc.Bytes()
		if err != nil {
			continue
		}
		ta, err := solana.ParseTokenAccount(data)
		if err != nil {
			continue
		}
		vaults = append(vaults, domain.VaultAccount{
			Address:    addrs[i],
			Mint:       ta.Mint,
			Owner:      ta.Owner,
			RawBalance: ta.Amount,
		})
	}
	return vaults, nil
}
