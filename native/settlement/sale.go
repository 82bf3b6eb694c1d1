package settlement

import (
	"fmt"
	"math/big"

	nativecommon "nftmarketd/native/common"
)

// CreateSale lists an asset at a fixed price. The asset moves into escrow
// immediately: the seller loses custody the instant the listing exists,
// before any buyer does. The default royalty descriptor routes all
// non-platform proceeds to the seller through the remainder rule.
func (e *Engine) CreateSale(seller [20]byte, asset AssetRef, price *big.Int, currency string, durationSecs int64) (*SaleTransaction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, marketModuleName); err != nil {
		return nil, err
	}
	cfg, err := e.feeConfig()
	if err != nil {
		return nil, err
	}
	if !validPositiveAmount(price) {
		return nil, fmt.Errorf("%w: sale price must be positive", ErrInvalidAmount)
	}
	if durationSecs <= 0 {
		return nil, fmt.Errorf("%w: sale duration must be positive", ErrInvalidAmount)
	}
	normalized, err := NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}
	now := e.now()
	id, err := e.nextSaleID()
	if err != nil {
		return nil, err
	}
	if err := e.assetTransfer(seller, e.escrow.Vault(), asset); err != nil {
		return nil, err
	}
	sale := &SaleTransaction{
		ID:        id,
		Seller:    seller,
		Asset:     asset,
		Price:     cloneBigInt(price),
		Currency:  normalized,
		State:     StatePending,
		CreatedAt: now,
		ExpiresAt: now + durationSecs,
		Royalty: RoyaltyInfo{
			Creator:     seller,
			CreatorBps:  0,
			SellerBps:   0,
			PlatformBps: cfg.PlatformFeeBps,
		},
		PlatformFee: big.NewInt(0),
	}
	if err := e.state.SalePut(sale); err != nil {
		return nil, err
	}
	e.emit(NewSaleCreatedEvent(sale))
	return sale.Clone(), nil
}

// ExecuteSale accepts an exact payment from the buyer and settles the
// listing in one guarded call: deposit (Pending to Funded), distribution
// (Funded to Executed), then the asset transfer to the buyer. The Funded
// intermediate exists so a dispute raised at that instant has a well-defined
// point to freeze.
func (e *Engine) ExecuteSale(id uint64, buyer [20]byte, payment *big.Int) (*ExecutionResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()
	if err := nativecommon.Guard(e.pauses, marketModuleName); err != nil {
		return nil, err
	}
	sale, err := e.loadSale(id)
	if err != nil {
		return nil, err
	}
	if sale.State != StatePending {
		return nil, fmt.Errorf("%w: cannot execute sale in state %s", ErrInvalidState, sale.State)
	}
	if e.now() > sale.ExpiresAt {
		return nil, fmt.Errorf("%w: sale %d", ErrExpired, id)
	}
	if payment == nil || payment.Cmp(sale.Price) != 0 {
		return nil, fmt.Errorf("%w: payment must equal sale price", ErrInvalidAmount)
	}
	if err := e.escrow.TransferIn(sale.Currency, buyer, payment); err != nil {
		return nil, err
	}
	sale.Buyer = &buyer
	sale.State = StateFunded
	if err := e.state.SalePut(sale); err != nil {
		return nil, err
	}
	distribution, err := e.distributeSale(sale)
	if err != nil {
		return nil, err
	}
	if err := e.assetTransfer(e.escrow.Vault(), buyer, sale.Asset); err != nil {
		return nil, err
	}
	result := &ExecutionResult{
		Tx:               TransactionRef{Kind: TxKindSale, ID: id},
		AssetTransferred: true,
		FundsDistributed: true,
		Receipt:          receiptHash(TransactionRef{Kind: TxKindSale, ID: id}, sale.Price, distribution.PlatformFee, buyer),
	}
	e.emit(NewSaleExecutedEvent(sale, distribution, result.Receipt))
	return result, nil
}

// distributeSale runs fee and royalty distribution for a funded sale and
// advances it to Executed. It is the unguarded inner step shared by sale
// execution and the standalone distribution entry point.
func (e *Engine) distributeSale(sale *SaleTransaction) (*DistributionResult, error) {
	if sale.State != StateFunded {
		return nil, fmt.Errorf("%w: cannot distribute sale in state %s", ErrInvalidState, sale.State)
	}
	distribution, err := e.distributeFunds(sale)
	if err != nil {
		return nil, err
	}
	sale.PlatformFee = cloneBigInt(distribution.PlatformFee)
	sale.State = StateExecuted
	if err := e.state.SalePut(sale); err != nil {
		return nil, err
	}
	return distribution, nil
}

// DistributeTransaction runs distribution for a sale left in Funded, for
// recovery flows where execution was interrupted after the deposit.
func (e *Engine) DistributeTransaction(id uint64) (*DistributionResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()
	sale, err := e.loadSale(id)
	if err != nil {
		return nil, err
	}
	return e.distributeSale(sale)
}

// CancelSale delists a still-Pending sale. Only the seller may cancel; the
// asset returns to them.
func (e *Engine) CancelSale(id uint64, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, marketModuleName); err != nil {
		return err
	}
	sale, err := e.loadSale(id)
	if err != nil {
		return err
	}
	if sale.State != StatePending {
		return fmt.Errorf("%w: cannot cancel sale in state %s", ErrInvalidState, sale.State)
	}
	if caller != sale.Seller {
		return fmt.Errorf("%w: cancel restricted to seller", ErrUnauthorized)
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
}
