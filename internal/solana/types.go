package solana

import "encoding/base64"

// SignatureInfo from getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Err       interface{}
}

// Failed reports whether the transaction behind this signature errored.
func (s *SignatureInfo) Failed() bool {
	return s.Err != nil
}

// SignaturesOpts defines optional pagination parameters for getSignaturesForAddress.
type SignaturesOpts struct {
	Before string // Start searching backwards from this signature
	Until  string // Search until this signature
	Limit  int    // Maximum number of signatures to return, node caps at 1000
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Data       string `json:"data"` // base64 encoded
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
}

// Bytes decodes the base64 account data.
func (a *AccountInfo) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(a.Data)
}

// KeyedAccount pairs an account with its address, as returned by
// getProgramAccounts.
type KeyedAccount struct {
	Pubkey  string
	Account AccountInfo
}

// MemcmpFilter matches accounts whose data at Offset equals Bytes.
type MemcmpFilter struct {
	Offset int
	Bytes  string // base58 encoded
}

// ProgramAccountsOpts narrows a getProgramAccounts scan.
type ProgramAccountsOpts struct {
	DataSize uint64 // exact account span, 0 = any
	Memcmp   []MemcmpFilter
}

// Transaction represents a Solana transaction.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err               interface{}
	Fee               uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// Failed reports whether the transaction errored on chain.
func (t *Transaction) Failed() bool {
	return t.Meta != nil && t.Meta.Err != nil
}

// TransactionMessage contains parsed transaction message.
type TransactionMessage struct {
	AccountKeys []string
}

// FeePayer returns the first account key, which signs and pays for the
// transaction. Empty when the message is missing.
func (t *Transaction) FeePayer() string {
	if t.Message == nil || len(t.Message.AccountKeys) == 0 {
		return ""
	}
	return t.Message.AccountKeys[0]
}

// TokenBalance is one entry of pre/postTokenBalances in transaction meta.
type TokenBalance struct {
	AccountIndex int    // index into message account keys
	Mint         string
	Owner        string
	Amount       uint64 // base units
	Decimals     uint8
}

// SlotNotification is one slotSubscribe message.
type SlotNotification struct {
	Slot   uint64
	Parent uint64
	Root   uint64
}
