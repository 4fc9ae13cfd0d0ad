package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"solana-metrics-oracle/internal/solana"
	solstub "solana-metrics-oracle/internal/solana/stub"
)

// failingBatches fails getMultipleAccounts for the batch starting at failKey.
type failingBatches struct {
	solana.RPCClient
	failKey string
}

func (f *failingBatches) GetMultipleAccounts(ctx context.Context, pubkeys []string) ([]*solana.AccountInfo, error) {
	if len(pubkeys) > 0 && pubkeys[0] == f.failKey {
		return nil, errors.New("node unavailable")
	}
	return f.RPCClient.GetMultipleAccounts(ctx, pubkeys)
}

func TestGateway_FetchAccountsChunks(t *testing.T) {
	client := solstub.NewRPCClient()
	keys := make([]string, 250)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%03d", i)
		client.SetAccount(keys[i], solana.SystemProgramID, []byte{1})
	}

	gw, err := New([]Endpoint{{Client: client, URL: "primary"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	accounts, err := gw.FetchAccounts(context.Background(), keys)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(accounts) != 250 {
		t.Fatalf("expected 250 results, got %d", len(accounts))
	}
	for i, acc := range accounts {
		if acc == nil {
			t.Fatalf("expected account at index %d, got nil", i)
		}
	}
	if got := client.Calls["getMultipleAccounts"]; got != 3 {
		t.Errorf("expected 3 batch calls for 250 keys, got %d", got)
	}
}

func TestGateway_FetchAccountsPartialResults(t *testing.T) {
	client := solstub.NewRPCClient()
	keys := make([]string, 250)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%03d", i)
		client.SetAccount(keys[i], solana.SystemProgramID, []byte{1})
	}
	flaky := &failingBatches{RPCClient: client, failKey: keys[100]}

	gw, err := New([]Endpoint{{Client: flaky, URL: "primary"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	accounts, err := gw.FetchAccounts(context.Background(), keys)
	if err != nil {
		t.Fatalf("expected partial results without error, got %v", err)
	}

	fetched := 0
	for _, acc := range accounts {
		if acc != nil {
			fetched++
		}
	}
	if fetched != 150 {
		t.Errorf("expected 150 fetched accounts, got %d", fetched)
	}
	if accounts[99] == nil || accounts[200] == nil {
		t.Error("expected surviving batches to be populated")
	}
	if accounts[100] != nil || accounts[199] != nil {
		t.Error("expected failed batch to leave nil holes")
	}
}

func TestGateway_FetchAccountsAllBatchesFailed(t *testing.T) {
	client := solstub.NewRPCClient()
	client.Errs["getMultipleAccounts"] = solana.ErrRateLimited

	gw, err := New([]Endpoint{{Client: client, URL: "primary"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = gw.FetchAccounts(context.Background(), []string{"a", "b"})
	if err == nil {
		t.Fatal("expected error when every batch failed")
	}
	if !errors.Is(err, solana.ErrRateLimited) {
		t.Errorf("expected wrapped rate limit error, got %v", err)
	}
}

func TestGateway_FetchAccountsEmpty(t *testing.T) {
	client := solstub.NewRPCClient()
	gw, err := New([]Endpoint{{Client: client, URL: "primary"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	accounts, err := gw.FetchAccounts(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(accounts) != 0 {
		t.Errorf("expected empty result, got %d", len(accounts))
	}
	if client.Calls["getMultipleAccounts"] != 0 {
		t.Errorf("expected no RPC calls, got %d", client.Calls["getMultipleAccounts"])
	}
}

func TestGateway_FailoverOnTransientError(t *testing.T) {
	primary := solstub.NewRPCClient()
	primary.Errs["getSlot"] = solana.ErrRateLimited
	secondary := solstub.NewRPCClient()
	secondary.Slot = 777

	gw, err := New([]Endpoint{
		{Client: primary, URL: "primary", Priority: 0},
		{Client: secondary, URL: "secondary", Priority: 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	slot, err := gw.CurrentSlot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slot != 777 {
		t.Errorf("expected slot 777 from secondary, got %d", slot)
	}
	if primary.Calls["getSlot"] != 1 {
		t.Errorf("expected primary tried once, got %d", primary.Calls["getSlot"])
	}
	if secondary.Calls["getSlot"] != 1 {
		t.Errorf("expected secondary tried once, got %d", secondary.Calls["getSlot"])
	}
}

func TestGateway_NonTransientErrorDoesNotFailover(t *testing.T) {
	primary := solstub.NewRPCClient()
	primary.Errs["getSlot"] = &solana.RPCError{Code: -32602, Message: "invalid params"}
	secondary := solstub.NewRPCClient()

	gw, err := New([]Endpoint{
		{Client: primary, URL: "primary", Priority: 0},
		{Client: secondary, URL: "secondary", Priority: 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = gw.CurrentSlot(context.Background())
	var rpcErr *solana.RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPC error, got %v", err)
	}
	if secondary.Calls["getSlot"] != 0 {
		t.Errorf("expected secondary untouched on node-level error, got %d calls", secondary.Calls["getSlot"])
	}
}

func TestGateway_ParksFailingEndpoint(t *testing.T) {
	primary := solstub.NewRPCClient()
	primary.Errs["getSlot"] = solana.ErrRateLimited
	secondary := solstub.NewRPCClient()
	secondary.Slot = 42

	gw, err := New(
		[]Endpoint{
			{Client: primary, URL: "primary", Priority: 0},
			{Client: secondary, URL: "secondary", Priority: 1},
		},
		WithParking(0.5, 4, time.Hour),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 6; i++ {
		if _, err := gw.CurrentSlot(context.Background()); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}

	// Parked after the fourth failure; the last two ops skip it.
	if primary.Calls["getSlot"] != 4 {
		t.Errorf("expected primary parked after 4 failures, got %d calls", primary.Calls["getSlot"])
	}
	if secondary.Calls["getSlot"] != 6 {
		t.Errorf("expected secondary to serve all 6 ops, got %d calls", secondary.Calls["getSlot"])
	}
}

func TestGateway_HealthOrdersEqualPriority(t *testing.T) {
	flaky := solstub.NewRPCClient()
	flaky.Errs["getSlot"] = solana.ErrRateLimited
	steady := solstub.NewRPCClient()
	steady.Slot = 99

	gw, err := New([]Endpoint{
		{Client: flaky, URL: "flaky", Priority: 0},
		{Client: steady, URL: "steady", Priority: 0},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// First op tries flaky (insertion order), fails over to steady and
	// dents flaky's health.
	if _, err := gw.CurrentSlot(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Second op goes straight to the healthier endpoint.
	if _, err := gw.CurrentSlot(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if flaky.Calls["getSlot"] != 1 {
		t.Errorf("expected flaky demoted after one failure, got %d calls", flaky.Calls["getSlot"])
	}
	if steady.Calls["getSlot"] != 2 {
		t.Errorf("expected steady to serve both ops, got %d calls", steady.Calls["getSlot"])
	}
}

func TestGateway_PriorityBeatsHealth(t *testing.T) {
	flaky := solstub.NewRPCClient()
	flaky.Errs["getSlot"] = solana.ErrRateLimited
	steady := solstub.NewRPCClient()

	gw, err := New([]Endpoint{
		{Client: flaky, URL: "flaky", Priority: 0},
		{Client: steady, URL: "steady", Priority: 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := gw.CurrentSlot(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if flaky.Calls["getSlot"] != 3 {
		t.Errorf("expected lower priority tried first every time, got %d calls", flaky.Calls["getSlot"])
	}
}

func TestGateway_ScanBudgetIsSeparate(t *testing.T) {
	client := solstub.NewRPCClient()
	client.Slot = 5

	gw, err := New(
		[]Endpoint{{Client: client, URL: "primary"}},
		WithRates(100, 1, time.Hour),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// First scan consumes the whole scan budget.
	if _, err := gw.ProgramAccounts(context.Background(), "prog", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := gw.ProgramAccounts(ctx, "prog", nil); err == nil {
		t.Fatal("expected scan to be throttled once the budget is spent")
	}

	// The general budget is untouched.
	if _, err := gw.CurrentSlot(context.Background()); err != nil {
		t.Errorf("expected general op to pass, got %v", err)
	}
}

func TestGateway_OutcomeHook(t *testing.T) {
	primary := solstub.NewRPCClient()
	primary.Errs["getSlot"] = solana.ErrRateLimited
	secondary := solstub.NewRPCClient()

	var outcomes []bool
	gw, err := New(
		[]Endpoint{
			{Client: primary, URL: "primary", Priority: 0},
			{Client: secondary, URL: "secondary", Priority: 1},
		},
		WithOutcomeFunc(func(ok bool) { outcomes = append(outcomes, ok) }),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := gw.CurrentSlot(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if outcomes[0] != false || outcomes[1] != true {
		t.Errorf("expected failure then success, got %v", outcomes)
	}
}

func TestGateway_SlotHook(t *testing.T) {
	client := solstub.NewRPCClient()
	client.Slot = 12345

	var seen uint64
	gw, err := New(
		[]Endpoint{{Client: client, URL: "primary"}},
		WithSlotFunc(func(slot uint64) { seen = slot }),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := gw.CurrentSlot(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != 12345 {
		t.Errorf("expected slot hook to see 12345, got %d", seen)
	}
}

func TestGateway_TransactionNotFound(t *testing.T) {
	client := solstub.NewRPCClient()
	gw, err := New([]Endpoint{{Client: client, URL: "primary"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tx, err := gw.Transaction(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx != nil {
		t.Errorf("expected nil for unknown signature, got %+v", tx)
	}
}

func TestGateway_NoEndpoints(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrNoEndpoints) {
		t.Errorf("expected ErrNoEndpoints, got %v", err)
	}
}

func TestGateway_InvalidBatchSize(t *testing.T) {
	client := solstub.NewRPCClient()
	if _, err := New([]Endpoint{{Client: client, URL: "x"}}, WithBatchSize(101)); err == nil {
		t.Error("expected error for batch size over node limit")
	}
	if _, err := New([]Endpoint{{Client: client, URL: "x"}}, WithBatchSize(0)); err == nil {
		t.Error("expected error for zero batch size")
	}
}
