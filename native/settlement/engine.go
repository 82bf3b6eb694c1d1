package settlement

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"nftmarketd/core/events"
	"nftmarketd/core/types"
	nativecommon "nftmarketd/native/common"
)

const (
	marketModuleName = "market"

	// defaultExtensionWindow is the anti-snipe window in seconds applied to
	// new auctions.
	defaultExtensionWindow int64 = 120
)

// EngineState is the persistence backend for the settlement engine. Records
// are keyed per sale/auction/dispute id; the three id counters share one
// record; accrued platform fees are keyed by currency.
type EngineState interface {
	SalePut(*SaleTransaction) error
	SaleGet(id uint64) (*SaleTransaction, bool)
	AuctionPut(*AuctionTransaction) error
	AuctionGet(id uint64) (*AuctionTransaction, bool)
	DisputePut(*Dispute) error
	DisputeGet(id uint64) (*Dispute, bool)
	CountersGet() (Counters, bool)
	CountersPut(Counters) error
	FeeConfigGet() (*FeeConfig, bool)
	FeeConfigPut(*FeeConfig) error
	AdminGet() ([20]byte, bool)
	AdminPut([20]byte) error
	DefaultCurrencyGet() (string, bool)
	DefaultCurrencyPut(string) error
	PlatformFeesGet(currency string) (*big.Int, error)
	PlatformFeesPut(currency string, amount *big.Int) error
}

type settlementEvent struct {
	evt *types.Event
}

func (e settlementEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e settlementEvent) Event() *types.Event { return e.evt }

// Engine coordinates the marketplace settlement state machines: fixed-price
// sales, open and commit-reveal auctions, fee and royalty distribution, and
// dispute arbitration. Execution is call-at-a-time; the reentrancy guard is
// the only concurrency control.
type Engine struct {
	state           EngineState
	escrow          *EscrowLedger
	assets          AssetRegistry
	hasher          CommitmentHasher
	emitter         events.Emitter
	pauses          nativecommon.PauseView
	guard           ReentrancyGuard
	extensionWindow int64
	nowFn           func() int64
}

// NewEngine creates a settlement engine with a no-op emitter and the default
// SHA-256 commitment scheme. Callers wire state, ledger and registry via the
// setters before use.
func NewEngine() *Engine {
	return &Engine{
		escrow:          &EscrowLedger{},
		hasher:          SHA256Hasher{},
		emitter:         events.NoopEmitter{},
		extensionWindow: defaultExtensionWindow,
		nowFn:           func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state EngineState) { e.state = state }

// SetLedger configures the currency ledger collaborator.
func (e *Engine) SetLedger(ledger TokenLedger) {
	if e == nil {
		return
	}
	e.escrow = NewEscrowLedger(ledger, e.escrow.Vault())
}

// SetVault configures the engine custody address for funds and assets.
func (e *Engine) SetVault(vault [20]byte) {
	if e == nil {
		return
	}
	e.escrow = &EscrowLedger{ledger: e.escrow.ledger, vault: vault}
}

// SetAssets configures the asset ownership registry collaborator.
func (e *Engine) SetAssets(registry AssetRegistry) { e.assets = registry }

// SetHasher overrides the sealed-bid commitment scheme. Passing nil resets
// the default SHA-256 scheme.
func (e *Engine) SetHasher(h CommitmentHasher) {
	if h == nil {
		e.hasher = SHA256Hasher{}
		return
	}
	e.hasher = h
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the administrative pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetExtensionWindow overrides the anti-snipe window, in seconds, applied to
// auctions created afterwards.
func (e *Engine) SetExtensionWindow(secs int64) {
	if secs < 0 {
		secs = 0
	}
	e.extensionWindow = secs
}

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(settlementEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Initialize sets the administrator, fee configuration and default currency.
// It may run exactly once per state backend.
func (e *Engine) Initialize(admin [20]byte, cfg *FeeConfig, defaultCurrency string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if _, ok := e.state.AdminGet(); ok {
		return fmt.Errorf("%w: engine already initialized", ErrAlreadyExists)
	}
	if err := ValidateFeeConfig(cfg); err != nil {
		return err
	}
	currency, err := NormalizeCurrency(defaultCurrency)
	if err != nil {
		return err
	}
	if err := e.state.AdminPut(admin); err != nil {
		return err
	}
	if err := e.state.FeeConfigPut(cfg.Clone()); err != nil {
		return err
	}
	if err := e.state.DefaultCurrencyPut(currency); err != nil {
		return err
	}
	return e.state.CountersPut(Counters{})
}

// UpdateFeeConfig replaces the fee policy. Only the administrator may call.
func (e *Engine) UpdateFeeConfig(caller [20]byte, cfg *FeeConfig) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	admin, ok := e.state.AdminGet()
	if !ok {
		return ErrNotInitialized
	}
	if caller != admin {
		return fmt.Errorf("%w: fee config restricted to admin", ErrUnauthorized)
	}
	if err := ValidateFeeConfig(cfg); err != nil {
		return err
	}
	return e.state.FeeConfigPut(cfg.Clone())
}

// CancelTransaction dispatches a cancel to the addressed category.
func (e *Engine) CancelTransaction(tx TransactionRef, caller [20]byte) error {
	switch tx.Kind {
	case TxKindSale:
		return e.CancelSale(tx.ID, caller)
	case TxKindAuction:
		return e.CancelAuction(tx.ID, caller)
	default:
		return fmt.Errorf("%w: unknown transaction kind", ErrNotFound)
	}
}

// EmergencyWithdraw unwinds a stuck transaction: any standing bid is
// refunded and the asset returns to the seller. Only the administrator may
// call. The record is marked Cancelled and its standing-bid fields cleared,
// so no later cancel or settlement can move the same escrow again; the bid
// history stays behind for the audit trail.
func (e *Engine) EmergencyWithdraw(tx TransactionRef, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	admin, ok := e.state.AdminGet()
	if !ok {
		return ErrNotInitialized
	}
	if caller != admin {
		return fmt.Errorf("%w: emergency withdrawal restricted to admin", ErrUnauthorized)
	}
	switch tx.Kind {
	case TxKindSale:
		sale, err := e.loadSale(tx.ID)
		if err != nil {
			return err
		}
		if err := e.assetTransfer(e.escrow.Vault(), sale.Seller, sale.Asset); err != nil {
			return err
		}
		sale.State = StateCancelled
		if err := e.state.SalePut(sale); err != nil {
			return err
		}
		e.emit(NewSaleCancelledEvent(sale))
		return nil
	case TxKindAuction:
		auction, err := e.loadAuction(tx.ID)
		if err != nil {
			return err
		}
		if auction.HighestBidder != nil && auction.HighestBid.Sign() > 0 {
			if err := e.escrow.TransferOut(auction.Currency, *auction.HighestBidder, auction.HighestBid); err != nil {
				return err
			}
		}
		if err := e.assetTransfer(e.escrow.Vault(), auction.Seller, auction.Asset); err != nil {
			return err
		}
		auction.HighestBid = big.NewInt(0)
		auction.HighestBidder = nil
		auction.State = StateCancelled
		if err := e.state.AuctionPut(auction); err != nil {
			return err
		}
		e.emit(NewAuctionCancelledEvent(auction))
		return nil
	default:
		return fmt.Errorf("%w: unknown transaction kind", ErrNotFound)
	}
}

// GetSale returns a copy of the stored sale record.
func (e *Engine) GetSale(id uint64) (*SaleTransaction, error) {
	sale, err := e.loadSale(id)
	if err != nil {
		return nil, err
	}
	return sale.Clone(), nil
}

// GetAuction returns a copy of the stored auction record.
func (e *Engine) GetAuction(id uint64) (*AuctionTransaction, error) {
	auction, err := e.loadAuction(id)
	if err != nil {
		return nil, err
	}
	return auction.Clone(), nil
}

// GetDispute returns a copy of the stored dispute record.
func (e *Engine) GetDispute(id uint64) (*Dispute, error) {
	dispute, err := e.loadDispute(id)
	if err != nil {
		return nil, err
	}
	return dispute.Clone(), nil
}

func (e *Engine) loadSale(id uint64) (*SaleTransaction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	sale, ok := e.state.SaleGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: sale %d", ErrNotFound, id)
	}
	return sale, nil
}

func (e *Engine) loadAuction(id uint64) (*AuctionTransaction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	auction, ok := e.state.AuctionGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: auction %d", ErrNotFound, id)
	}
	return auction, nil
}

func (e *Engine) loadDispute(id uint64) (*Dispute, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	dispute, ok := e.state.DisputeGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: dispute %d", ErrNotFound, id)
	}
	return dispute, nil
}

func (e *Engine) assetTransfer(from, to [20]byte, asset AssetRef) error {
	if e == nil || e.assets == nil {
		return errNilAssets
	}
	return e.assets.Transfer(from, to, asset)
}

func (e *Engine) counters() (Counters, error) {
	counters, ok := e.state.CountersGet()
	if !ok {
		return Counters{}, ErrNotInitialized
	}
	return counters, nil
}

func (e *Engine) nextSaleID() (uint64, error) {
	counters, err := e.counters()
	if err != nil {
		return 0, err
	}
	counters.Sale++
	if err := e.state.CountersPut(counters); err != nil {
		return 0, err
	}
	return counters.Sale, nil
}

func (e *Engine) nextAuctionID() (uint64, error) {
	counters, err := e.counters()
	if err != nil {
		return 0, err
	}
	counters.Auction++
	if err := e.state.CountersPut(counters); err != nil {
		return 0, err
	}
	return counters.Auction, nil
}

func (e *Engine) nextDisputeID() (uint64, error) {
	counters, err := e.counters()
	if err != nil {
		return 0, err
	}
	counters.Dispute++
	if err := e.state.CountersPut(counters); err != nil {
		return 0, err
	}
	return counters.Dispute, nil
}

// receiptHash derives the audit receipt for a settled transaction.
func receiptHash(tx TransactionRef, price, fee *big.Int, winner [20]byte) [32]byte {
	var idBuf [9]byte
	idBuf[0] = byte(tx.Kind)
	binary.BigEndian.PutUint64(idBuf[1:], tx.ID)
	return ethcrypto.Keccak256Hash(idBuf[:], cloneBigInt(price).Bytes(), cloneBigInt(fee).Bytes(), winner[:])
}
