package settlement

import (
	"fmt"
	"math/big"
)

// CalculateRoyalties splits a price into creator, seller and platform
// shares, all in basis points. The creator and platform shares are floor
// products; when seller_bps is zero the seller takes the remainder, which is
// what makes the split conservation-exact by default.
func CalculateRoyalties(price *big.Int, creatorBps, sellerBps, platformBps uint32) (creator, seller, platform *big.Int, err error) {
	if price == nil || price.Sign() < 0 {
		return nil, nil, nil, fmt.Errorf("%w: negative price", ErrInvalidAmount)
	}
	creator, err = mulBps(price, creatorBps)
	if err != nil {
		return nil, nil, nil, err
	}
	platform, err = mulBps(price, platformBps)
	if err != nil {
		return nil, nil, nil, err
	}
	remaining, err := checkedSub(price, creator)
	if err != nil {
		return nil, nil, nil, err
	}
	remaining, err = checkedSub(remaining, platform)
	if err != nil {
		return nil, nil, nil, err
	}
	if sellerBps > 0 {
		seller, err = mulBps(price, sellerBps)
		if err != nil {
			return nil, nil, nil, err
		}
	} else {
		seller = remaining
	}
	return creator, seller, platform, nil
}

// distributeFunds settles a funded sale: it charges the effective platform
// fee (bounds, dynamic discount, VIP override), splits the rest between
// creator and seller, and verifies conservation before any payout. The
// effective fee feeds the split, so the seller share absorbs any discount
// under the default remainder rule; explicit seller_bps configurations must
// account for the charged fee exactly or the distribution fails closed.
func (e *Engine) distributeFunds(sale *SaleTransaction) (*DistributionResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	fee, err := e.effectivePlatformFee(sale)
	if err != nil {
		return nil, err
	}
	royalty := sale.Royalty
	creatorAmount, err := mulBps(sale.Price, royalty.CreatorBps)
	if err != nil {
		return nil, err
	}
	expectedOut, err := checkedSub(sale.Price, fee)
	if err != nil {
		return nil, err
	}
	var sellerAmount *big.Int
	if royalty.SellerBps > 0 {
		sellerAmount, err = mulBps(sale.Price, royalty.SellerBps)
		if err != nil {
			return nil, err
		}
	} else {
		sellerAmount, err = checkedSub(expectedOut, creatorAmount)
		if err != nil {
			return nil, err
		}
	}
	totalOut, err := checkedAdd(creatorAmount, sellerAmount)
	if err != nil {
		return nil, err
	}
	if totalOut.Cmp(expectedOut) != 0 {
		return nil, fmt.Errorf("%w: distribution does not conserve price", ErrInvalidAmount)
	}
	if sellerAmount.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative seller share", ErrInvalidAmount)
	}
	if creatorAmount.Sign() > 0 {
		if err := e.escrow.TransferOut(sale.Currency, royalty.Creator, creatorAmount); err != nil {
			return nil, err
		}
	}
	// The seller leg is always recorded, even at zero, so every settlement
	// leaves a predictable ledger trail.
	if err := e.escrow.payout(sale.Currency, sale.Seller, sellerAmount); err != nil {
		return nil, err
	}
	if err := e.accruePlatformFee(sale.Currency, fee); err != nil {
		return nil, err
	}
	return &DistributionResult{
		TotalAmount:   cloneBigInt(sale.Price),
		PlatformFee:   fee,
		CreatorAmount: creatorAmount,
		SellerAmount:  sellerAmount,
	}, nil
}
