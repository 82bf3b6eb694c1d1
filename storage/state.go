package storage

import (
	"encoding/binary"
	"errors"
	"math/big"

	"nftmarketd/native/settlement"
)

// Key layout. Sale, auction and dispute records are keyed by their numeric
// id in big-endian form so keys sort in creation order.
var (
	prefixSale    = []byte("market/sale/")
	prefixAuction = []byte("market/auction/")
	prefixDispute = []byte("market/dispute/")
	prefixFees    = []byte("market/fees/")
	keyCounters   = []byte("market/counters")
	keyFeeConfig  = []byte("market/feeconfig")
	keyAdmin      = []byte("market/admin")
	keyCurrency   = []byte("market/currency")
)

func idKey(prefix []byte, id uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], id)
	return key
}

// SettlementState persists settlement engine records in a key-value database
// using deterministic CBOR encoding.
type SettlementState struct {
	db Database
}

// NewSettlementState binds the state layer to a database.
func NewSettlementState(db Database) *SettlementState {
	return &SettlementState{db: db}
}

func (s *SettlementState) putRecord(key []byte, v any) error {
	data, err := marshalRecord(v)
	if err != nil {
		return err
	}
	return s.db.Put(key, data)
}

func (s *SettlementState) getRecord(key []byte, v any) bool {
	data, err := s.db.Get(key)
	if err != nil {
		return false
	}
	return unmarshalRecord(data, v) == nil
}

func (s *SettlementState) SalePut(sale *settlement.SaleTransaction) error {
	if sale == nil {
		return errors.New("storage: nil sale")
	}
	return s.putRecord(idKey(prefixSale, sale.ID), sale)
}

func (s *SettlementState) SaleGet(id uint64) (*settlement.SaleTransaction, bool) {
	var sale settlement.SaleTransaction
	if !s.getRecord(idKey(prefixSale, id), &sale) {
		return nil, false
	}
	return &sale, true
}

func (s *SettlementState) AuctionPut(auction *settlement.AuctionTransaction) error {
	if auction == nil {
		return errors.New("storage: nil auction")
	}
	return s.putRecord(idKey(prefixAuction, auction.ID), auction)
}

func (s *SettlementState) AuctionGet(id uint64) (*settlement.AuctionTransaction, bool) {
	var auction settlement.AuctionTransaction
	if !s.getRecord(idKey(prefixAuction, id), &auction) {
		return nil, false
	}
	return &auction, true
}

func (s *SettlementState) DisputePut(dispute *settlement.Dispute) error {
	if dispute == nil {
		return errors.New("storage: nil dispute")
	}
	return s.putRecord(idKey(prefixDispute, dispute.ID), dispute)
}

func (s *SettlementState) DisputeGet(id uint64) (*settlement.Dispute, bool) {
	var dispute settlement.Dispute
	if !s.getRecord(idKey(prefixDispute, id), &dispute) {
		return nil, false
	}
	return &dispute, true
}

func (s *SettlementState) CountersGet() (settlement.Counters, bool) {
	var counters settlement.Counters
	if !s.getRecord(keyCounters, &counters) {
		return settlement.Counters{}, false
	}
	return counters, true
}

func (s *SettlementState) CountersPut(counters settlement.Counters) error {
	return s.putRecord(keyCounters, counters)
}

func (s *SettlementState) FeeConfigGet() (*settlement.FeeConfig, bool) {
	var cfg settlement.FeeConfig
	if !s.getRecord(keyFeeConfig, &cfg) {
		return nil, false
	}
	return &cfg, true
}

func (s *SettlementState) FeeConfigPut(cfg *settlement.FeeConfig) error {
	if cfg == nil {
		return errors.New("storage: nil fee config")
	}
	return s.putRecord(keyFeeConfig, cfg)
}

func (s *SettlementState) AdminGet() ([20]byte, bool) {
	var admin [20]byte
	if !s.getRecord(keyAdmin, &admin) {
		return [20]byte{}, false
	}
	return admin, true
}

func (s *SettlementState) AdminPut(admin [20]byte) error {
	return s.putRecord(keyAdmin, admin)
}

func (s *SettlementState) DefaultCurrencyGet() (string, bool) {
	var currency string
	if !s.getRecord(keyCurrency, &currency) || currency == "" {
		return "", false
	}
	return currency, true
}

func (s *SettlementState) DefaultCurrencyPut(currency string) error {
	return s.putRecord(keyCurrency, currency)
}

func (s *SettlementState) PlatformFeesGet(currency string) (*big.Int, error) {
	key := append(append([]byte(nil), prefixFees...), currency...)
	data, err := s.db.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	amount := new(big.Int)
	if err := unmarshalRecord(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (s *SettlementState) PlatformFeesPut(currency string, amount *big.Int) error {
	if amount == nil {
		return errors.New("storage: nil fee amount")
	}
	key := append(append([]byte(nil), prefixFees...), currency...)
	return s.putRecord(key, amount)
}
