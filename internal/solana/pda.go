package solana

import (
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// FindProgramAddress derives a Program Derived Address for the given seeds.
// It walks bump values from 255 downward until the hash lands off the
// ed25519 curve, matching the on-chain derivation.
func FindProgramAddress(seeds [][]byte, programID string) (string, uint8, error) {
	program, err := base58.Decode(programID)
	if err != nil {
		return "", 0, fmt.Errorf("decode program id: %w", err)
	}
	if len(program) != 32 {
		return "", 0, fmt.Errorf("program id %s: expected 32 bytes, got %d", programID, len(program))
	}

	for bump := 255; bump >= 0; bump-- {
		data := make([]byte, 0, 64)
		for _, seed := range seeds {
			if len(seed) > 32 {
				return "", 0, fmt.Errorf("seed exceeds 32 bytes")
			}
			data = append(data, seed...)
		}
		data = append(data, byte(bump))
		data = append(data, program...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)

		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:]), byte(bump), nil
		}
	}

	return "", 0, fmt.Errorf("no off-curve address for seeds")
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
