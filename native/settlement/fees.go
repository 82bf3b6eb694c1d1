package settlement

import (
	"fmt"
	"math/big"
)

// TakePlatformFee computes floor(price * platform_fee_bps / 10000), clamps
// it to [minimum_fee, maximum_fee] (no upper clamp when maximum_fee is
// unset), and caps it at the price.
func TakePlatformFee(cfg *FeeConfig, price *big.Int) (*big.Int, error) {
	if cfg == nil {
		return nil, ErrNotInitialized
	}
	if price == nil || price.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative price", ErrInvalidAmount)
	}
	fee, err := mulBps(price, cfg.PlatformFeeBps)
	if err != nil {
		return nil, err
	}
	if cfg.MinimumFee != nil && fee.Cmp(cfg.MinimumFee) < 0 {
		fee = cloneBigInt(cfg.MinimumFee)
	}
	if cfg.MaximumFee != nil && cfg.MaximumFee.Sign() > 0 && fee.Cmp(cfg.MaximumFee) > 0 {
		fee = cloneBigInt(cfg.MaximumFee)
	}
	if fee.Cmp(price) > 0 {
		fee = cloneBigInt(price)
	}
	return fee, nil
}

// ApplyDynamicDiscount scans every tier whose minimum volume is at or below
// the price and applies the single largest discount, not the first match.
func ApplyDynamicDiscount(price, baseFee *big.Int, tiers []VolumeTier) (*big.Int, error) {
	if price == nil || baseFee == nil {
		return nil, ErrInvalidAmount
	}
	var best uint32
	for _, tier := range tiers {
		if tier.MinVolume == nil {
			continue
		}
		if price.Cmp(tier.MinVolume) >= 0 && tier.DiscountBps > best {
			best = tier.DiscountBps
		}
	}
	if best == 0 {
		return cloneBigInt(baseFee), nil
	}
	discount, err := mulBps(baseFee, best)
	if err != nil {
		return nil, err
	}
	return checkedSub(baseFee, discount)
}

// effectivePlatformFee runs the full fee pipeline for a sale: base fee with
// bounds, dynamic discount when enabled, then the VIP override. The VIP
// exemption wins over everything computed before it.
func (e *Engine) effectivePlatformFee(sale *SaleTransaction) (*big.Int, error) {
	cfg, err := e.feeConfig()
	if err != nil {
		return nil, err
	}
	fee, err := TakePlatformFee(cfg, sale.Price)
	if err != nil {
		return nil, err
	}
	if cfg.DynamicFeeEnabled {
		fee, err = ApplyDynamicDiscount(sale.Price, fee, cfg.VolumeDiscounts)
		if err != nil {
			return nil, err
		}
	}
	exempt := cfg.IsVIP(sale.Seller)
	if !exempt && sale.Buyer != nil {
		exempt = cfg.IsVIP(*sale.Buyer)
	}
	if exempt {
		fee = big.NewInt(0)
	}
	return fee, nil
}

func (e *Engine) feeConfig() (*FeeConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	cfg, ok := e.state.FeeConfigGet()
	if !ok {
		return nil, ErrNotInitialized
	}
	return cfg, nil
}

// accruePlatformFee adds a charged fee to the per-currency accumulator.
// Zero fees are not recorded.
func (e *Engine) accruePlatformFee(currency string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	current, err := e.state.PlatformFeesGet(currency)
	if err != nil {
		return err
	}
	updated, err := checkedAdd(current, amount)
	if err != nil {
		return err
	}
	return e.state.PlatformFeesPut(currency, updated)
}

// WithdrawPlatformFees pays accrued fees out to the configured recipient,
// bounded by the accumulated balance. Only the recipient may withdraw.
func (e *Engine) WithdrawPlatformFees(caller [20]byte, currency string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	cfg, err := e.feeConfig()
	if err != nil {
		return err
	}
	if caller != cfg.Recipient {
		return fmt.Errorf("%w: fee withdrawal restricted to recipient", ErrUnauthorized)
	}
	normalized, err := NormalizeCurrency(currency)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: withdrawal must be positive", ErrInvalidAmount)
	}
	available, err := e.state.PlatformFeesGet(normalized)
	if err != nil {
		return err
	}
	if amount.Cmp(available) > 0 {
		return fmt.Errorf("%w: withdrawal exceeds accrued fees", ErrInvalidAmount)
	}
	remaining, err := checkedSub(available, amount)
	if err != nil {
		return err
	}
	if err := e.state.PlatformFeesPut(normalized, remaining); err != nil {
		return err
	}
	if err := e.escrow.TransferOut(normalized, cfg.Recipient, amount); err != nil {
		return err
	}
	e.emit(NewFeesWithdrawnEvent(normalized, cfg.Recipient, amount))
	return nil
}
