package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/mr-tron/base58"

	"solana-metrics-oracle/internal/domain"
	"solana-metrics-oracle/internal/gateway/stub"
	"solana-metrics-oracle/internal/solana"
)

func stableswapDescriptor(t *testing.T) domain.ProtocolDescriptor {
	t.Helper()
	desc, err := NewRegistry().Lookup("idl-stableswap")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return desc
}

func put32(t *testing.T, buf []byte, off int, pubkey string) {
	t.Helper()
	raw, err := base58.Decode(pubkey)
	if err != nil || len(raw) != 32 {
		t.Fatalf("bad pubkey fixture %q", pubkey)
	}
	copy(buf[off:off+32], raw)
}

func TestRegistry_Builtins(t *testing.T) {
	r := NewRegistry()

	swap, err := r.Lookup("idl-stableswap")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if swap.ProgramID != StableswapProgramID {
		t.Errorf("expected program %s, got %s", StableswapProgramID, swap.ProgramID)
	}
	if swap.ExpectedVaults != 2 {
		t.Errorf("expected 2 vaults, got %d", swap.ExpectedVaults)
	}

	proto, err := r.Lookup("idl-protocol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(proto.VaultSeeds) != 0 {
		t.Errorf("expected no vault seeds for staking protocol, got %d", len(proto.VaultSeeds))
	}

	if _, err := r.Lookup("unknown"); !errors.Is(err, domain.ErrUnknownProtocol) {
		t.Errorf("expected ErrUnknownProtocol, got %v", err)
	}
}

func TestRegistry_AuthorityMatchesSeedDerivation(t *testing.T) {
	desc := stableswapDescriptor(t)

	pool, _, err := solana.FindProgramAddress([][]byte{[]byte("pool")}, desc.ProgramID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pool != desc.Authority {
		t.Errorf("expected authority %s, got derivation %s", desc.Authority, pool)
	}

	lp, _, err := solana.FindProgramAddress([][]byte{[]byte("lp_mint")}, desc.ProgramID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lp != desc.PrimaryMint {
		t.Errorf("expected primary mint %s, got derivation %s", desc.PrimaryMint, lp)
	}
}

func TestRegistry_RegisterValidates(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(domain.ProtocolDescriptor{ProgramID: StableswapProgramID}); err == nil {
		t.Error("expected error for missing protocol id")
	}
	if err := r.Register(domain.ProtocolDescriptor{ProtocolID: "x", ProgramID: "not-base58!"}); err == nil {
		t.Error("expected error for invalid program id")
	}
	if err := r.Register(domain.ProtocolDescriptor{
		ProtocolID:        "x",
		ProgramID:         StableswapProgramID,
		StateDataSize:     100,
		StateVaultOffsets: []int{90},
	}); err == nil {
		t.Error("expected error for offset past state span")
	}
	if err := r.Register(domain.ProtocolDescriptor{ProtocolID: "idl-stableswap", ProgramID: StableswapProgramID}); err == nil {
		t.Error("expected error for duplicate protocol id")
	}

	ok := domain.ProtocolDescriptor{ProtocolID: "fresh", ProgramID: StableswapProgramID}
	if err := r.Register(ok); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := r.Lookup("fresh"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestResolver_SeedDerivation(t *testing.T) {
	desc := stableswapDescriptor(t)
	reader := stub.NewReader()

	bagsVault, _, err := solana.FindProgramAddress([][]byte{[]byte("bags_vault")}, desc.ProgramID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pumpVault, _, err := solana.FindProgramAddress([][]byte{[]byte("pump_vault")}, desc.ProgramID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bagsMint := stub.Pubkey("bags-mint")
	pumpMint := stub.Pubkey("pump-mint")
	reader.SetTokenAccount(bagsVault, bagsMint, desc.Authority, 5_000_000)
	reader.SetTokenAccount(pumpVault, pumpMint, desc.Authority, 7_000_000)

	set, err := New(reader).ResolveVaults(context.Background(), desc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.Strategy != "pda" {
		t.Errorf("expected pda strategy, got %s", set.Strategy)
	}
	if len(set.Vaults) != 2 {
		t.Fatalf("expected 2 vaults, got %d", len(set.Vaults))
	}
	if set.Vaults[0].Mint != bagsMint || set.Vaults[0].RawBalance != 5_000_000 {
		t.Errorf("unexpected first vault: %+v", set.Vaults[0])
	}
	if got := set.Coverage(); got != 1.0 {
		t.Errorf("expected coverage 1.0, got %f", got)
	}
	if set.Requested != 2 {
		t.Errorf("expected 2 requested candidates, got %d", set.Requested)
	}
	// Derivation needs a single verification fetch, no scans.
	if reader.Calls["Signatures"] != 0 || reader.Calls["ProgramAccounts"] != 0 {
		t.Error("expected no fallback calls for seed derivation")
	}
}

func TestResolver_SeedDerivationSkipsNonTokenAccounts(t *testing.T) {
	desc := stableswapDescriptor(t)
	// Add the pool state seeds to the template; the verifier must drop it.
	desc.VaultSeeds = append([]domain.SeedTuple{{[]byte("pool")}}, desc.VaultSeeds...)

	reader := stub.NewReader()
	pool, _, _ := solana.FindProgramAddress([][]byte{[]byte("pool")}, desc.ProgramID)
	reader.SetRawAccount(pool, desc.ProgramID, make([]byte, stablePoolSpan))

	bagsVault, _, _ := solana.FindProgramAddress([][]byte{[]byte("bags_vault")}, desc.ProgramID)
	reader.SetTokenAccount(bagsVault, stub.Pubkey("bags-mint"), desc.Authority, 1)

	set, err := New(reader).ResolveVaults(context.Background(), desc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set.Vaults) != 1 {
		t.Fatalf("expected 1 vault, got %d", len(set.Vaults))
	}
	if set.Vaults[0].Address != bagsVault {
		t.Errorf("expected vault %s, got %s", bagsVault, set.Vaults[0].Address)
	}
}

func TestResolver_AuthorityScan(t *testing.T) {
	authority := stub.Pubkey("authority")
	desc := domain.ProtocolDescriptor{
		ProtocolID: "hist",
		ProgramID:  ProtocolProgramID,
		Authority:  authority,
	}

	reader := stub.NewReader()
	vault := stub.Pubkey("vault")
	mint := stub.Pubkey("mint")
	reader.SetTokenAccount(vault, mint, authority, 9_000)

	reader.SetSignatures(authority, []solana.SignatureInfo{
		{Signature: "sig-2", Slot: 20},
		{Signature: "sig-1", Slot: 10},
	})
	reader.AddTransaction(&solana.Transaction{
		Signature: "sig-2",
		Slot:      20,
		Meta: &solana.TransactionMeta{
			PostTokenBalances: []solana.TokenBalance{
				{AccountIndex: 2, Mint: mint, Owner: authority, Amount: 9_000},
				{AccountIndex: 3, Mint: mint, Owner: stub.Pubkey("someone-else"), Amount: 4},
			},
		},
		Message: &solana.TransactionMessage{
			AccountKeys: []string{stub.Pubkey("payer"), ProtocolProgramID, vault, stub.Pubkey("user-ata")},
		},
	})
	reader.AddTransaction(&solana.Transaction{Signature: "sig-1", Slot: 10})

	set, err := New(reader).ResolveVaults(context.Background(), desc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.Strategy != "authority_scan" {
		t.Errorf("expected authority_scan strategy, got %s", set.Strategy)
	}
	if len(set.Vaults) != 1 {
		t.Fatalf("expected 1 vault, got %d", len(set.Vaults))
	}
	if set.Vaults[0].Address != vault {
		t.Errorf("expected vault %s, got %s", vault, set.Vaults[0].Address)
	}
}

func TestResolver_AuthorityScanSkipsFailedTransactions(t *testing.T) {
	authority := stub.Pubkey("authority")
	desc := domain.ProtocolDescriptor{
		ProtocolID: "hist",
		ProgramID:  ProtocolProgramID,
		Authority:  authority,
	}

	reader := stub.NewReader()
	reader.SetSignatures(authority, []solana.SignatureInfo{
		{Signature: "sig-bad", Slot: 30, Err: map[string]interface{}{"InstructionError": []interface{}{}}},
	})
	// The failed transaction is never fetched, so resolution finds nothing.
	if _, err := New(reader).ResolveVaults(context.Background(), desc); !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if reader.Calls["Transaction"] != 0 {
		t.Errorf("expected failed signature skipped, got %d fetches", reader.Calls["Transaction"])
	}
}

func TestResolver_ProgramScan(t *testing.T) {
	builtin := stableswapDescriptor(t)
	desc := domain.ProtocolDescriptor{
		ProtocolID:         "scan-only",
		ProgramID:          builtin.ProgramID,
		StateDiscriminator: builtin.StateDiscriminator,
		StateDataSize:      builtin.StateDataSize,
		StateVaultOffsets:  builtin.StateVaultOffsets,
	}

	reader := stub.NewReader()
	vaultA := stub.Pubkey("vault-a")
	vaultB := stub.Pubkey("vault-b")
	reader.SetTokenAccount(vaultA, stub.Pubkey("mint-a"), stub.Pubkey("owner"), 100)
	reader.SetTokenAccount(vaultB, stub.Pubkey("mint-b"), stub.Pubkey("owner"), 200)

	state := make([]byte, stablePoolSpan)
	copy(state[0:8], builtin.StateDiscriminator)
	put32(t, state, stablePoolBagsVaultOff, vaultA)
	put32(t, state, stablePoolPumpVaultOff, vaultB)
	reader.AddProgramAccount(desc.ProgramID, stub.Pubkey("pool-state"), state)

	// An account with a different discriminator must not match the filter.
	other := make([]byte, stablePoolSpan)
	reader.AddProgramAccount(desc.ProgramID, stub.Pubkey("other-state"), other)

	set, err := New(reader).ResolveVaults(context.Background(), desc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.Strategy != "program_scan" {
		t.Errorf("expected program_scan strategy, got %s", set.Strategy)
	}
	if len(set.Vaults) != 2 {
		t.Fatalf("expected 2 vaults, got %d", len(set.Vaults))
	}
}

func TestResolver_NoVaultsIsDataUnavailable(t *testing.T) {
	desc := domain.ProtocolDescriptor{ProtocolID: "empty", ProgramID: ProtocolProgramID}

	_, err := New(stub.NewReader()).ResolveVaults(context.Background(), desc)
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Errorf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestResolver_StrategyErrorFallsThrough(t *testing.T) {
	builtin := stableswapDescriptor(t)
	authority := stub.Pubkey("authority")
	desc := domain.ProtocolDescriptor{
		ProtocolID:         "mixed",
		ProgramID:          builtin.ProgramID,
		Authority:          authority,
		StateDiscriminator: builtin.StateDiscriminator,
		StateDataSize:      builtin.StateDataSize,
		StateVaultOffsets:  builtin.StateVaultOffsets,
	}

	reader := stub.NewReader()
	reader.Errs["Signatures"] = errors.New("node down")

	vaultA := stub.Pubkey("vault-a")
	reader.SetTokenAccount(vaultA, stub.Pubkey("mint-a"), authority, 100)
	state := make([]byte, stablePoolSpan)
	copy(state[0:8], builtin.StateDiscriminator)
	put32(t, state, stablePoolBagsVaultOff, vaultA)
	put32(t, state, stablePoolPumpVaultOff, vaultA)
	reader.AddProgramAccount(desc.ProgramID, stub.Pubkey("pool-state"), state)

	set, err := New(reader).ResolveVaults(context.Background(), desc)
	if err != nil {
		t.Fatalf("expected fall-through to program scan, got %v", err)
	}
	if set.Strategy != "program_scan" {
		t.Errorf("expected program_scan strategy, got %s", set.Strategy)
	}
	if len(set.Vaults) != 1 {
		t.Errorf("expected duplicate offsets deduped to 1 vault, got %d", len(set.Vaults))
	}
}

func TestVaultSet_Coverage(t *testing.T) {
	partial := &VaultSet{
		Vaults:   []domain.VaultAccount{{Address: "a"}, {Address: "b"}},
		Expected: 4,
	}
	if got := partial.Coverage(); got != 0.5 {
		t.Errorf("expected coverage 0.5, got %f", got)
	}

	unknown := &VaultSet{Vaults: []domain.VaultAccount{{Address: "a"}}}
	if got := unknown.Coverage(); got != 1.0 {
		t.Errorf("expected coverage 1.0 for unknown expectation, got %f", got)
	}

	empty := &VaultSet{Expected: 2}
	if got := empty.Coverage(); got != 0 {
		t.Errorf("expected coverage 0 for empty set, got %f", got)
	}

	over := &VaultSet{
		Vaults:   []domain.VaultAccount{{Address: "a"}, {Address: "b"}, {Address: "c"}},
		Expected: 2,
	}
	if got := over.Coverage(); got != 1.0 {
		t.Errorf("expected coverage capped at 1.0, got %f", got)
	}
}

func TestVaultSet_MintsDeduplicates(t *testing.T) {
	set := &VaultSet{Vaults: []domain.VaultAccount{
		{Address: "a", Mint: "m1"},
		{Address: "b", Mint: "m2"},
		{Address: "c", Mint: "m1"},
	}}
	mints := set.Mints()
	if len(mints) != 2 {
		t.Fatalf("expected 2 unique mints, got %d", len(mints))
	}
	if mints[0] != "m1" || mints[1] != "m2" {
		t.Errorf("expected first-seen order, got %v", mints)
	}
}
