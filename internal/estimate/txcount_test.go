package estimate

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"solana-metrics-oracle/internal/gateway/stub"
	"solana-metrics-oracle/internal/resolver"
	"solana-metrics-oracle/internal/solana"
)

func TestTxCount_CountsSuccessesExactly(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	reader := stub.NewReader()

	var sigs []solana.SignatureInfo
	for i := 24; i >= 0; i-- {
		at := start.Add(time.Duration(i) * 2 * time.Minute)
		sigs = append(sigs, sigAt(fmt.Sprintf("tx-%02d", i), at, i < 5))
	}
	reader.SetSignatures(testProgram, sigs)

	eng := New(reader, resolver.NewRegistry(), &fakeVaults{}, &fakePrices{})
	m, err := eng.TxCount(context.Background(), testDescriptor(), start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Value != 20 {
		t.Errorf("expected 20 successful transactions, got %v", m.Value)
	}
	if m.Coverage != 1.0 {
		t.Errorf("expected coverage 1.0, got %v", m.Coverage)
	}
	if !m.Exact() {
		t.Error("expected an exact count")
	}
}

func TestTxCount_WindowIsHalfOpen(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	reader := stub.NewReader()

	reader.SetSignatures(testProgram, []solana.SignatureInfo{
		sigAt("at-end", end, false),                     // excluded: [start, end)
		sigAt("mid", start.Add(30*time.Minute), false),  // counted
		sigAt("at-start", start, false),                 // counted
		sigAt("before", start.Add(-time.Second), false), // stops the walk
	})

	eng := New(reader, resolver.NewRegistry(), &fakeVaults{}, &fakePrices{})
	m, err := eng.TxCount(context.Background(), testDescriptor(), start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Value != 2 {
		t.Errorf("expected 2 transactions inside the window, got %v", m.Value)
	}
}

func TestTxCount_TruncatedWalkScalesCoverage(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	reader := stub.NewReader()

	// One full page covering only the newest half of the window.
	sigs := make([]solana.SignatureInfo, 0, 1000)
	for i := 999; i >= 0; i-- {
		at := start.Add(30*time.Minute + time.Duration(i)*time.Second)
		sigs = append(sigs, sigAt(fmt.Sprintf("tx-%04d", i), at, false))
	}
	reader.SetSignatures(testProgram, sigs)

	eng := New(reader, resolver.NewRegistry(), &fakeVaults{}, &fakePrices{}, WithMaxPages(1))
	m, err := eng.TxCount(context.Background(), testDescriptor(), start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Value != 1000 {
		t.Errorf("expected 1000 transactions counted, got %v", m.Value)
	}
	if math.Abs(m.Coverage-0.5) > 1e-9 {
		t.Errorf("expected coverage 0.5 for half the window, got %v", m.Coverage)
	}
}
