package solana

import (
	"testing"

	"github.com/mr-tron/base58"
)

// Derivations cross-checked against on-chain addresses of the stableswap
// and prediction-market programs.
func TestFindProgramAddress_KnownVectors(t *testing.T) {
	cases := []struct {
		name     string
		seeds    [][]byte
		program  string
		wantAddr string
		wantBump uint8
	}{
		{
			name:     "stableswap pool",
			seeds:    [][]byte{[]byte("pool")},
			program:  "EFsgmpbKifyA75ZY5NPHQxrtuAHHB6sYnoGkLi6xoTte",
			wantAddr: "7mcHVZS1isMoyk5TBcXasEHWtG7x6aL87DUoKRjCoCLQ",
			wantBump: 255,
		},
		{
			name:     "stableswap bags vault",
			seeds:    [][]byte{[]byte("bags_vault")},
			program:  "EFsgmpbKifyA75ZY5NPHQxrtuAHHB6sYnoGkLi6xoTte",
			wantAddr: "AGxo8zh7NuZiuTi6wiZhvc5kZE5Ejz8uXe5syrHw89tU",
			wantBump: 255,
		},
		{
			// First candidate (bump 255) lands on curve, forcing the walk
			name:     "stableswap pump vault",
			seeds:    [][]byte{[]byte("pump_vault")},
			program:  "EFsgmpbKifyA75ZY5NPHQxrtuAHHB6sYnoGkLi6xoTte",
			wantAddr: "35fefCqq76tDL2upsiZpueRkZPvXPiXU3bfRXTPGU4Nw",
			wantBump: 254,
		},
		{
			name:     "prediction market state",
			seeds:    [][]byte{[]byte("state")},
			program:  "BSn7neicVV2kEzgaZmd6tZEBm4tdgzBRyELov65Lq7dt",
			wantAddr: "9NFBiddfEED1wuxwFu4B6bp5UsEDEmAT9QUR39ZZ9Vwo",
			wantBump: 255,
		},
	}

	for _, tc := range cases {
		addr, bump, err := FindProgramAddress(tc.seeds, tc.program)
		if err != nil {
			t.Errorf("%s: FindProgramAddress: %v", tc.name, err)
			continue
		}
		if addr != tc.wantAddr {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.wantAddr, addr)
		}
		if bump != tc.wantBump {
			t.Errorf("%s: expected bump %d, got %d", tc.name, tc.wantBump, bump)
		}
	}
}

func TestFindProgramAddress_Deterministic(t *testing.T) {
	seeds := [][]byte{[]byte("market"), []byte("idl-stableswap")}
	program := "BSn7neicVV2kEzgaZmd6tZEBm4tdgzBRyELov65Lq7dt"

	a1, b1, err := FindProgramAddress(seeds, program)
	if err != nil {
		t.Fatalf("FindProgramAddress: %v", err)
	}
	a2, b2, err := FindProgramAddress(seeds, program)
	if err != nil {
		t.Fatalf("FindProgramAddress: %v", err)
	}

	if a1 != a2 || b1 != b2 {
		t.Errorf("derivation not deterministic: (%s,%d) vs (%s,%d)", a1, b1, a2, b2)
	}

	decoded, err := base58.Decode(a1)
	if err != nil {
		t.Fatalf("derived address not base58: %v", err)
	}
	if len(decoded) != 32 {
		t.Errorf("expected 32-byte address, got %d", len(decoded))
	}
}

func TestFindProgramAddress_SeedTooLong(t *testing.T) {
	long := make([]byte, 33)
	_, _, err := FindProgramAddress([][]byte{long}, "EFsgmpbKifyA75ZY5NPHQxrtuAHHB6sYnoGkLi6xoTte")
	if err == nil {
		t.Error("expected error for 33-byte seed")
	}
}

func TestFindProgramAddress_BadProgramID(t *testing.T) {
	_, _, err := FindProgramAddress([][]byte{[]byte("pool")}, "not-base58-0OIl")
	if err == nil {
		t.Error("expected error for malformed program id")
	}
}

func TestIsOnCurve_RealPubkeys(t *testing.T) {
	// Actual ed25519 public keys decode as curve points
	for _, key := range []string{SystemProgramID, TokenProgramID} {
		decoded, err := base58.Decode(key)
		if err != nil {
			t.Fatalf("decode %s: %v", key, err)
		}
		if !isOnCurve(decoded) {
			t.Errorf("expected %s on curve", key)
		}
	}
}
