package storage

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
)

var prefixBalance = []byte("ledger/")

// BalanceLedger is a persistent per-currency account book. It satisfies the
// settlement engine's TokenLedger collaborator: transfers are atomic under
// the ledger mutex, and a zero-amount transfer succeeds without touching
// balances so settlement legs always appear in the caller's trail.
type BalanceLedger struct {
	mu sync.Mutex
	db Database
}

// NewBalanceLedger binds the ledger to a database.
func NewBalanceLedger(db Database) *BalanceLedger {
	return &BalanceLedger{db: db}
}

func balanceKey(currency string, account [20]byte) []byte {
	key := make([]byte, 0, len(prefixBalance)+len(currency)+1+40)
	key = append(key, prefixBalance...)
	key = append(key, currency...)
	key = append(key, '/')
	key = append(key, hex.EncodeToString(account[:])...)
	return key
}

func (l *BalanceLedger) load(currency string, account [20]byte) (*big.Int, error) {
	data, err := l.db.Get(balanceKey(currency, account))
	if errors.Is(err, ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	if err := unmarshalRecord(data, balance); err != nil {
		return nil, err
	}
	return balance, nil
}

func (l *BalanceLedger) store(currency string, account [20]byte, balance *big.Int) error {
	data, err := marshalRecord(balance)
	if err != nil {
		return err
	}
	return l.db.Put(balanceKey(currency, account), data)
}

// Balance returns the current balance of an account, zero when unseen.
func (l *BalanceLedger) Balance(currency string, account [20]byte) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(currency, account)
}

// Mint credits an account. Used for deposits arriving from outside the
// settlement flow.
func (l *BalanceLedger) Mint(currency string, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errors.New("ledger: mint amount must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, err := l.load(currency, to)
	if err != nil {
		return err
	}
	return l.store(currency, to, new(big.Int).Add(balance, amount))
}

// Transfer moves funds between accounts. A zero amount is a recorded no-op;
// a negative amount or an insufficient source balance fails without any
// write.
func (l *BalanceLedger) Transfer(currency string, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.New("ledger: negative transfer")
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	source, err := l.load(currency, from)
	if err != nil {
		return err
	}
	if source.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: insufficient %s balance: have %s, need %s", currency, source, amount)
	}
	dest, err := l.load(currency, to)
	if err != nil {
		return err
	}
	if err := l.store(currency, from, new(big.Int).Sub(source, amount)); err != nil {
		return err
	}
	return l.store(currency, to, new(big.Int).Add(dest, amount))
}
