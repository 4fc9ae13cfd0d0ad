package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// Well-known program addresses.
const (
	TokenProgramID  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	SystemProgramID = "11111111111111111111111111111111"
)

// SPL account layout sizes.
const (
	TokenAccountSize = 165
	MintAccountSize  = 82
)

// TokenAccount is the decoded fixed layout of an SPL token account.
type TokenAccount struct {
	Mint   string
	Owner  string
	Amount uint64
}

// ParseTokenAccount decodes the SPL token account layout:
// mint [0:32], owner [32:64], amount u64 LE [64:72].
func ParseTokenAccount(data []byte) (*TokenAccount, error) {
	if len(data) < TokenAccountSize {
		return nil, fmt.Errorf("token account: expected %d bytes, got %d", TokenAccountSize, len(data))
	}
	return &TokenAccount{
		Mint:   base58.Encode(data[0:32]),
		Owner:  base58.Encode(data[32:64]),
		Amount: binary.LittleEndian.Uint64(data[64:72]),
	}, nil
}

// MintInfo is the decoded fixed layout of an SPL mint account.
type MintInfo struct {
	Supply   uint64
	Decimals uint8
}

// ParseMint decodes the SPL mint layout: supply u64 LE [36:44], decimals [44].
func ParseMint(data []byte) (*MintInfo, error) {
	if len(data) < MintAccountSize {
		return nil, fmt.Errorf("mint account: expected %d bytes, got %d", MintAccountSize, len(data))
	}
	return &MintInfo{
		Supply:   binary.LittleEndian.Uint64(data[36:44]),
		Decimals: data[44],
	}, nil
}

// ReadUint64LE reads a little-endian u64 at offset, for fixed program
// account layouts. Errors when the slice is too short.
func ReadUint64LE(data []byte, offset int) (uint64, error) {
	if offset < 0 || offset+8 > len(data) {
		return 0, fmt.Errorf("u64 read at %d out of range for %d bytes", offset, len(data))
	}
	return binary.LittleEndian.Uint64(data[offset : offset+8]), nil
}

// ReadPubkey reads a 32-byte public key at offset and encodes it base58.
func ReadPubkey(data []byte, offset int) (string, error) {
	if offset < 0 || offset+32 > len(data) {
		return "", fmt.Errorf("pubkey read at %d out of range for %d bytes", offset, len(data))
	}
	return base58.Encode(data[offset : offset+32]), nil
}
