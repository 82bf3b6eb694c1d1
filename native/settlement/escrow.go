package settlement

import (
	"fmt"
	"math/big"
)

// TokenLedger moves fungible funds between accounts. Transfers are assumed
// atomic and irreversible once they return success.
type TokenLedger interface {
	Transfer(currency string, from, to [20]byte, amount *big.Int) error
}

// AssetRegistry moves the traded asset between owners. It is expected to
// abort loudly on unauthorized or missing-asset calls.
type AssetRegistry interface {
	Transfer(from, to [20]byte, asset AssetRef) error
}

// EscrowLedger moves funds between external accounts and engine custody.
// It enforces no balance invariant of its own: callers own the bookkeeping
// and must never request an out-transfer exceeding matching in-transfers for
// a given transaction.
type EscrowLedger struct {
	ledger TokenLedger
	vault  [20]byte
}

// NewEscrowLedger binds the custody vault address to a token ledger.
func NewEscrowLedger(ledger TokenLedger, vault [20]byte) *EscrowLedger {
	return &EscrowLedger{ledger: ledger, vault: vault}
}

// Vault returns the engine custody address.
func (l *EscrowLedger) Vault() [20]byte {
	if l == nil {
		return [20]byte{}
	}
	return l.vault
}

// TransferIn moves funds from an external account into engine custody.
func (l *EscrowLedger) TransferIn(currency string, from [20]byte, amount *big.Int) error {
	if l == nil || l.ledger == nil {
		return errNilLedger
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: escrow deposit must be positive", ErrInvalidAmount)
	}
	return l.ledger.Transfer(currency, from, l.vault, amount)
}

// payout is the settlement leg variant of TransferOut: a zero amount is
// forwarded to the ledger rather than rejected, so seller legs always appear
// in the transfer trail.
func (l *EscrowLedger) payout(currency string, to [20]byte, amount *big.Int) error {
	if l == nil || l.ledger == nil {
		return errNilLedger
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: negative payout", ErrInvalidAmount)
	}
	return l.ledger.Transfer(currency, l.vault, to, amount)
}

// TransferOut moves funds from engine custody to an external account.
func (l *EscrowLedger) TransferOut(currency string, to [20]byte, amount *big.Int) error {
	if l == nil || l.ledger == nil {
		return errNilLedger
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: escrow payout must be positive", ErrInvalidAmount)
	}
	return l.ledger.Transfer(currency, l.vault, to, amount)
}
