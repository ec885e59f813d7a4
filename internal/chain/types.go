// Package chain provides read-only contract state queries and the wallet
// boundary for the payment flow. It speaks plain JSON-RPC over HTTP; signing
// lives behind the Wallet interface and is never done here.
package chain

import (
	"math/big"
	"time"
)

// PaymentMode selects which asset a payment is charged in.
type PaymentMode string

const (
	ModeNative PaymentMode = "native"
	ModeToken  PaymentMode = "token"
)

// PaymentQuote is a point-in-time price read. Quotes are immutable; callers
// re-fetch before every payment attempt rather than reusing a stale one.
type PaymentQuote struct {
	Amount    *big.Int
	Mode      PaymentMode
	Recipient string
}

// Valid reports whether the quote can back a payment.
func (q PaymentQuote) Valid() bool {
	return q.Amount != nil && q.Amount.Sign() > 0 && q.Recipient != ""
}

// AllowanceState is a snapshot of an ERC-20 allowance mapping entry.
// It is only ever read from the chain, never inferred from UI state.
type AllowanceState struct {
	Owner    string
	Spender  string
	Granted  *big.Int
	Required *big.Int
}

// Sufficient reports whether the granted allowance covers the required amount.
func (a AllowanceState) Sufficient() bool {
	if a.Granted == nil || a.Required == nil {
		return false
	}
	return a.Granted.Cmp(a.Required) >= 0
}

// PaymentTransaction tracks one broadcast transaction. The hash is set once
// and never changes; confirmation is a monotonic transition.
type PaymentTransaction struct {
	Hash        string
	SubmittedAt time.Time
	ConfirmedAt *time.Time
}

// Confirmed reports whether the transaction has been confirmed on-chain.
func (t *PaymentTransaction) Confirmed() bool {
	return t != nil && t.ConfirmedAt != nil
}

// MarkConfirmed records the confirmation time. A second confirmation event
// for the same transaction is a no-op; confirmed never reverts.
func (t *PaymentTransaction) MarkConfirmed(at time.Time) {
	if t.ConfirmedAt != nil {
		return
	}
	t.ConfirmedAt = &at
}

// PreparedCall is an unsigned contract call handed to the wallet for signing
// and broadcast. Value is the native amount attached to the call; Data is the
// ABI-encoded calldata.
type PreparedCall struct {
	To    string
	Value *big.Int
	Data  []byte
}
