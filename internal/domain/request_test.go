package domain

import (
	"errors"
	"testing"
	"time"
)

func TestMetricRequestValidate_WindowedKindNeedsWindow(t *testing.T) {
	req := &MetricRequest{ProtocolID: "idl-stableswap", Kind: MetricVolume}

	err := req.Validate()

	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for missing window, got %v", err)
	}
}

func TestMetricRequestValidate_WindowMustBeOrdered(t *testing.T) {
	end := time.Now().Add(-time.Hour)
	req := &MetricRequest{
		ProtocolID:  "idl-stableswap",
		Kind:        MetricUsers,
		WindowStart: end.Add(time.Hour), // start after end
		WindowEnd:   end,
	}

	if err := req.Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for inverted window, got %v", err)
	}
}

func TestMetricRequestValidate_InstantKindNeedsNoWindow(t *testing.T) {
	req := &MetricRequest{ProtocolID: "idl-stableswap", Kind: MetricTVL}

	if err := req.Validate(); err != nil {
		t.Errorf("expected TVL request without window to validate, got %v", err)
	}
}

func TestMetricRequestValidate_UnknownKind(t *testing.T) {
	req := &MetricRequest{ProtocolID: "idl-stableswap", Kind: "FEES"}

	if err := req.Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for unknown kind, got %v", err)
	}
}

func TestMetricRequestValidate_PastDeadline(t *testing.T) {
	req := &MetricRequest{
		ProtocolID: "idl-stableswap",
		Kind:       MetricPrice,
		Deadline:   time.Now().Add(-time.Minute),
	}

	if err := req.Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for past deadline, got %v", err)
	}
}

func TestMergeFlags_DeduplicatesPreservingOrder(t *testing.T) {
	a := []Flag{FlagStale, FlagLowLiquidity}
	b := []Flag{FlagLowLiquidity, FlagPriceDivergence, FlagStale}

	out := MergeFlags(a, b)

	want := []Flag{FlagStale, FlagLowLiquidity, FlagPriceDivergence}
	if len(out) != len(want) {
		t.Fatalf("expected %d flags, got %d (%v)", len(want), len(out), out)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("flag %d: expected %s, got %s", i, want[i], out[i])
		}
	}
}

func TestVaultAccountUIBalance(t *testing.T) {
	v := &VaultAccount{RawBalance: 1_500_000, Decimals: 6}

	// 1,500,000 base units at 6 decimals = 1.5 tokens
	if got := v.UIBalance(); got != 1.5 {
		t.Errorf("expected 1.5, got %f", got)
	}

	v = &VaultAccount{RawBalance: 42, Decimals: 0}
	if got := v.UIBalance(); got != 42 {
		t.Errorf("expected 42, got %f", got)
	}
}
