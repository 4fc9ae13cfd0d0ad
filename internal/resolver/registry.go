package resolver

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mr-tron/base58"

	"solana-metrics-oracle/internal/domain"
)

// Program addresses of the built-in protocols.
const (
	StableswapProgramID = "EFsgmpbKifyA75ZY5NPHQxrtuAHHB6sYnoGkLi6xoTte"
	ProtocolProgramID   = "BSn7neicVV2kEzgaZmd6tZEBm4tdgzBRyELov65Lq7dt"
)

// Canonical PDAs of the built-in protocols, derived from their seed
// templates. Tests pin these against FindProgramAddress.
const (
	stableswapPoolPDA   = "7mcHVZS1isMoyk5TBcXasEHWtG7x6aL87DUoKRjCoCLQ"
	stableswapLPMintPDA = "Dd5cAgbYS98hTqbPLMCbHaLznt11CS94Q43LVDLdC9tx"
	protocolStatePDA    = "9NFBiddfEED1wuxwFu4B6bp5UsEDEmAT9QUR39ZZ9Vwo"
)

// StablePool account layout. Borsh packs fields in declaration order after
// the 8-byte discriminator.
const (
	stablePoolSpan         = 359
	stablePoolBagsVaultOff = 104
	stablePoolPumpVaultOff = 136
)

var (
	stablePoolDiscriminator    = []byte{0xef, 0x5b, 0x5d, 0xa2, 0xab, 0x0e, 0x2a, 0x42}
	protocolStateDiscriminator = []byte{0x21, 0x33, 0xad, 0x86, 0x23, 0x8c, 0xc3, 0xf8}
)

// ProtocolState account layout: authority + treasury pubkeys, five u64
// counters, bump and paused flags.
const protocolStateSpan = 114

// Registry maps protocol ids to their on-chain descriptors. The built-in
// entries cover the protocols the oracle resolves out of the box; callers
// may register more at startup.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]domain.ProtocolDescriptor
}

// NewRegistry creates a registry seeded with the built-in protocols.
func NewRegistry() *Registry {
	r := &Registry{descriptors: make(map[string]domain.ProtocolDescriptor)}
	for _, d := range builtins() {
		// Built-ins are static and validated by tests.
		r.descriptors[d.ProtocolID] = d
	}
	return r
}

func builtins() []domain.ProtocolDescriptor {
	return []domain.ProtocolDescriptor{
		{
			ProtocolID: "idl-stableswap",
			ProgramID:  StableswapProgramID,
			// Vaults are owned by the pool PDA.
			Authority: stableswapPoolPDA,
			VaultSeeds: []domain.SeedTuple{
				{[]byte("bags_vault")},
				{[]byte("pump_vault")},
			},
			StateDiscriminator: stablePoolDiscriminator,
			StateDataSize:      stablePoolSpan,
			StateVaultOffsets:  []int{stablePoolBagsVaultOff, stablePoolPumpVaultOff},
			ExpectedVaults:     2,
			PrimaryMint:        stableswapLPMintPDA,
		},
		{
			// Staking and prediction markets; value lives in state
			// counters, not token vaults. Serves signature-driven
			// metrics only.
			ProtocolID:         "idl-protocol",
			ProgramID:          ProtocolProgramID,
			Authority:          protocolStatePDA,
			StateDiscriminator: protocolStateDiscriminator,
			StateDataSize:      protocolStateSpan,
		},
	}
}

// Register adds a descriptor. Registering an existing protocol id is an
// error; descriptors are static configuration, not mutable state.
func (r *Registry) Register(d domain.ProtocolDescriptor) error {
	if err := validateDescriptor(d); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[d.ProtocolID]; exists {
		return fmt.Errorf("protocol %q already registered", d.ProtocolID)
	}
	r.descriptors[d.ProtocolID] = d
	return nil
}

// Lookup returns the descriptor for a protocol id.
func (r *Registry) Lookup(protocolID string) (domain.ProtocolDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[protocolID]
	if !ok {
		return domain.ProtocolDescriptor{}, fmt.Errorf("protocol %q: %w", protocolID, domain.ErrUnknownProtocol)
	}
	return d, nil
}

// IDs returns all registered protocol ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.descriptors))
	for id := range r.descriptors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func validateDescriptor(d domain.ProtocolDescriptor) error {
	if d.ProtocolID == "" {
		return fmt.Errorf("descriptor missing protocol id")
	}
	raw, err := base58.Decode(d.ProgramID)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("protocol %q: program id %q is not a 32-byte base58 key", d.ProtocolID, d.ProgramID)
	}
	for _, off := range d.StateVaultOffsets {
		if off < 0 {
			return fmt.Errorf("protocol %q: negative vault offset %d", d.ProtocolID, off)
		}
		if d.StateDataSize > 0 && uint64(off+32) > d.StateDataSize {
			return fmt.Errorf("protocol %q: vault offset %d exceeds state span %d", d.ProtocolID, off, d.StateDataSize)
		}
	}
	if d.ExpectedVaults < 0 {
		return fmt.Errorf("protocol %q: negative expected vaults", d.ProtocolID)
	}
	return nil
}
