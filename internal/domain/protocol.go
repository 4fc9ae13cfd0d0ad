package domain

// SeedTuple is the ordered seed list deriving one program address.
type SeedTuple [][]byte

// ProtocolDescriptor describes how to locate a protocol's on-chain footprint.
// Descriptors are static registry data; the resolver never mutates them.
type ProtocolDescriptor struct {
	ProtocolID string // registry key, matches MetricRequest.ProtocolID
	ProgramID  string // base58 program address
	Authority  string // base58 operational authority, used by the history scan

	// VaultSeeds derive the protocol's value-holding token accounts.
	// Preferred resolution strategy when present.
	VaultSeeds []SeedTuple

	// StateDiscriminator is the 8-byte account tag of the protocol's state
	// accounts, used by program-account scans.
	StateDiscriminator []byte
	// StateDataSize filters scans to state accounts of this exact span.
	// 0 = any.
	StateDataSize uint64
	// StateVaultOffsets are byte offsets of vault pubkeys inside a matching
	// state account.
	StateVaultOffsets []int

	// ExpectedVaults bounds coverage accounting. 0 = unknown.
	ExpectedVaults int

	// PrimaryMint is the base58 mint priced for PRICE and MARKET_CAP.
	PrimaryMint string
}

// VaultAccount is a resolved value-holding token account, captured once per
// measurement and discarded with it.
type VaultAccount struct {
	Address    string // base58 token account address
	Mint       string // base58 mint held
	Owner      string // base58 owner (the protocol authority or a PDA)
	RawBalance uint64 // amount in base units
	Decimals   uint8  // from the mint account
}

// UIBalance converts the raw balance to a decimal token amount.
func (v *VaultAccount) UIBalance() float64 {
	b := float64(v.RawBalance)
	for i := uint8(0); i < v.Decimals; i++ {
		b /= 10
	}
	return b
}
