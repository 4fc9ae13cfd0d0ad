package solana

import "context"

// RPCClient defines the read-only Solana RPC surface the oracle consumes.
type RPCClient interface {
	// GetAccountInfo retrieves one account. Returns nil when not found.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetMultipleAccounts retrieves up to 100 accounts in one call.
	// The result preserves order; missing accounts are nil entries.
	GetMultipleAccounts(ctx context.Context, pubkeys []string) ([]*AccountInfo, error)

	// GetSignaturesForAddress retrieves signatures for an address, newest
	// first, with cursor pagination.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetTransaction retrieves a transaction by signature. Returns nil
	// when not found.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetProgramAccounts scans accounts owned by a program, optionally
	// narrowed by data size and memcmp filters.
	GetProgramAccounts(ctx context.Context, program string, opts *ProgramAccountsOpts) ([]KeyedAccount, error)

	// GetSlot retrieves the current slot.
	GetSlot(ctx context.Context) (uint64, error)

	// GetBlockTime retrieves the estimated production time of a block.
	// Returns nil for skipped or unavailable slots.
	GetBlockTime(ctx context.Context, slot int64) (*int64, error)
}
