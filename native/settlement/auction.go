package settlement

import (
	"fmt"
	"math/big"

	nativecommon "nftmarketd/native/common"
)

// CreateAuction lists an asset for open or commit-reveal bidding. The asset
// moves into escrow immediately. A positive reserve price must be at least
// the starting price.
func (e *Engine) CreateAuction(seller [20]byte, asset AssetRef, startingPrice, reservePrice, bidIncrement *big.Int, durationSecs int64) (*AuctionTransaction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, marketModuleName); err != nil {
		return nil, err
	}
	currency, ok := e.state.DefaultCurrencyGet()
	if !ok {
		return nil, ErrNotInitialized
	}
	if !validPositiveAmount(startingPrice) {
		return nil, fmt.Errorf("%w: starting price must be positive", ErrInvalidAmount)
	}
	if !validPositiveAmount(bidIncrement) {
		return nil, fmt.Errorf("%w: bid increment must be positive", ErrInvalidAmount)
	}
	if durationSecs <= 0 {
		return nil, fmt.Errorf("%w: auction duration must be positive", ErrInvalidAmount)
	}
	if reservePrice == nil {
		reservePrice = big.NewInt(0)
	}
	if reservePrice.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative reserve price", ErrInvalidAmount)
	}
	if reservePrice.Sign() > 0 && reservePrice.Cmp(startingPrice) < 0 {
		return nil, fmt.Errorf("%w: reserve below starting price", ErrInvalidAmount)
	}
	now := e.now()
	id, err := e.nextAuctionID()
	if err != nil {
		return nil, err
	}
	if err := e.assetTransfer(seller, e.escrow.Vault(), asset); err != nil {
		return nil, err
	}
	auction := &AuctionTransaction{
		ID:              id,
		Seller:          seller,
		Asset:           asset,
		StartingPrice:   cloneBigInt(startingPrice),
		ReservePrice:    cloneBigInt(reservePrice),
		HighestBid:      big.NewInt(0),
		BidIncrement:    cloneBigInt(bidIncrement),
		StartTime:       now,
		EndTime:         now + durationSecs,
		State:           StatePending,
		ExtensionWindow: e.extensionWindow,
		Currency:        currency,
	}
	if err := e.state.AuctionPut(auction); err != nil {
		return nil, err
	}
	e.emit(NewAuctionCreatedEvent(auction))
	return auction.Clone(), nil
}

// PlaceBid records an open or sealed bid. Open bids move funds into escrow
// and refund the displaced highest bidder in full; sealed bids (commitment
// present) record no amount and move no funds. Every bid, sealed or open,
// is appended to the auction's history.
func (e *Engine) PlaceBid(auctionID uint64, bidder [20]byte, amount *big.Int, commitment *[32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	if err := nativecommon.Guard(e.pauses, marketModuleName); err != nil {
		return err
	}
	auction, err := e.loadAuction(auctionID)
	if err != nil {
		return err
	}
	if auction.State != StatePending {
		return fmt.Errorf("%w: cannot bid in state %s", ErrInvalidState, auction.State)
	}
	now := e.now()
	if now < auction.StartTime || now > auction.EndTime {
		return fmt.Errorf("%w: bid outside auction window", ErrInvalidTime)
	}
	sealed := commitment != nil
	if !sealed && !validPositiveAmount(amount) {
		return fmt.Errorf("%w: bid amount must be positive", ErrInvalidAmount)
	}
	bid := Bid{Bidder: bidder, Amount: big.NewInt(0), PlacedAt: now, Committed: sealed}
	if sealed {
		c := *commitment
		bid.Commitment = &c
	} else {
		if err := e.acceptBid(auction, bidder, amount, now); err != nil {
			return err
		}
		bid.Amount = cloneBigInt(amount)
	}
	auction.Bids = append(auction.Bids, bid)
	if err := e.state.AuctionPut(auction); err != nil {
		return err
	}
	e.emit(NewBidPlacedEvent(auction, bid))
	return nil
}

// RevealBid discloses a previously sealed bid. The recomputed commitment is
// matched against every unconsumed commitment the bidder holds, so multiple
// sealed bids can be revealed in any order; when none matches no funds move.
// A successful reveal behaves like a successful open-bid acceptance and
// rewrites the sealed history entry in place, so a commitment can be
// revealed only once.
func (e *Engine) RevealBid(auctionID uint64, bidder [20]byte, amount *big.Int, salt [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	if err := nativecommon.Guard(e.pauses, marketModuleName); err != nil {
		return err
	}
	auction, err := e.loadAuction(auctionID)
	if err != nil {
		return err
	}
	if auction.State != StatePending {
		return fmt.Errorf("%w: cannot reveal in state %s", ErrInvalidState, auction.State)
	}
	now := e.now()
	if now < auction.StartTime || now > auction.EndTime {
		return fmt.Errorf("%w: reveal outside auction window", ErrInvalidTime)
	}
	if err := ensureValidBid(auction, amount); err != nil {
		return err
	}
	computed := e.hasher.Commitment(amount, salt)
	sealedIdx := -1
	hasSealed := false
	for i := range auction.Bids {
		entry := &auction.Bids[i]
		if !entry.Committed || entry.Bidder != bidder || entry.Commitment == nil {
			continue
		}
		hasSealed = true
		if *entry.Commitment == computed {
			sealedIdx = i
			break
		}
	}
	if !hasSealed {
		return fmt.Errorf("%w: no sealed bid for bidder", ErrNotFound)
	}
	if sealedIdx < 0 {
		return ErrCommitmentMismatch
	}
	if err := e.acceptBid(auction, bidder, amount, now); err != nil {
		return err
	}
	auction.Bids[sealedIdx].Amount = cloneBigInt(amount)
	auction.Bids[sealedIdx].Committed = false
	auction.Bids[sealedIdx].Commitment = nil
	if err := e.state.AuctionPut(auction); err != nil {
		return err
	}
	e.emit(NewBidRevealedEvent(auction, auction.Bids[sealedIdx]))
	return nil
}

// acceptBid validates the amount, escrows it, refunds the displaced highest
// bidder, updates the highest fields and applies the anti-snipe extension.
// After any accepted bid the funds escrowed for the auction equal exactly
// the current highest bid.
func (e *Engine) acceptBid(auction *AuctionTransaction, bidder [20]byte, amount *big.Int, now int64) error {
	if err := ensureValidBid(auction, amount); err != nil {
		return err
	}
	if err := e.escrow.TransferIn(auction.Currency, bidder, amount); err != nil {
		return err
	}
	if auction.HighestBidder != nil && auction.HighestBid.Sign() > 0 {
		if err := e.escrow.TransferOut(auction.Currency, *auction.HighestBidder, auction.HighestBid); err != nil {
			return err
		}
	}
	auction.HighestBid = cloneBigInt(amount)
	highest := bidder
	auction.HighestBidder = &highest
	if extended := maybeExtendAuction(auction, now); extended {
		e.emit(NewAuctionExtendedEvent(auction))
	}
	return nil
}

// ensureValidBid enforces the bid floor: at least the starting price, at
// least the previous highest plus the increment once a highest bid exists,
// and at least the reserve price when one is set.
func ensureValidBid(auction *AuctionTransaction, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: bid amount must be positive", ErrInvalidAmount)
	}
	if amount.Cmp(auction.StartingPrice) < 0 {
		return fmt.Errorf("%w: below starting price", ErrBidTooLow)
	}
	if auction.HighestBid.Sign() > 0 {
		minBid, err := checkedAdd(auction.HighestBid, auction.BidIncrement)
		if err != nil {
			return err
		}
		if amount.Cmp(minBid) < 0 {
			return fmt.Errorf("%w: below highest bid plus increment", ErrBidTooLow)
		}
	}
	if auction.ReservePrice.Sign() > 0 && amount.Cmp(auction.ReservePrice) < 0 {
		return fmt.Errorf("%w: below reserve price", ErrBidTooLow)
	}
	return nil
}

// maybeExtendAuction pushes the end time by the extension window when a bid
// lands within the trailing window. The extension repeats without limit.
func maybeExtendAuction(auction *AuctionTransaction, now int64) bool {
	if auction.ExtensionWindow == 0 {
		return false
	}
	if auction.EndTime > now && auction.EndTime-now <= auction.ExtensionWindow {
		auction.EndTime += auction.ExtensionWindow
		return true
	}
	return false
}

// FinalizeAuction marks an ended auction Executed. It performs no payouts:
// the reserve-price and distribution decisions belong to SettleAuction.
func (e *Engine) FinalizeAuction(id uint64) (*AuctionTransaction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	auction, err := e.loadAuction(id)
	if err != nil {
		return nil, err
	}
	finalized, err := e.finalizeAuction(auction)
	if err != nil {
		return nil, err
	}
	return finalized.Clone(), nil
}

func (e *Engine) finalizeAuction(auction *AuctionTransaction) (*AuctionTransaction, error) {
	if auction.State != StatePending {
		return nil, fmt.Errorf("%w: cannot finalize auction in state %s", ErrInvalidState, auction.State)
	}
	if e.now() < auction.EndTime {
		return nil, fmt.Errorf("%w: auction %d", ErrAuctionNotEnded, auction.ID)
	}
	auction.State = StateExecuted
	if err := e.state.AuctionPut(auction); err != nil {
		return nil, err
	}
	return auction, nil
}

// SettleAuction settles an ended auction, finalizing it first when that has
// not happened yet. An auction already finalized through FinalizeAuction is
// accepted as long as it has not been settled; SettledAt marks the payout as
// done so escrow can never be distributed twice. With no bids, or a highest
// bid under a set reserve price, the auction voids: the standing bid is
// refunded in full, the asset returns to the seller and the auction is
// marked Cancelled. Otherwise fee and royalty distribution run exactly as
// for a sale priced at the highest bid, and the asset goes to the winner.
func (e *Engine) SettleAuction(id uint64) (*ExecutionResult, error) {
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
	auction, err := e.loadAuction(id)
	if err != nil {
		return nil, err
	}
	switch auction.State {
	case StatePending:
		if _, err := e.finalizeAuction(auction); err != nil {
			return nil, err
		}
	case StateExecuted:
		if auction.SettledAt != 0 {
			return nil, fmt.Errorf("%w: auction %d already settled", ErrInvalidState, auction.ID)
		}
	default:
		return nil, fmt.Errorf("%w: cannot settle auction in state %s", ErrInvalidState, auction.State)
	}
	ref := TransactionRef{Kind: TxKindAuction, ID: id}
	if auction.HighestBidder == nil {
		if err := e.assetTransfer(e.escrow.Vault(), auction.Seller, auction.Asset); err != nil {
			return nil, err
		}
		auction.State = StateCancelled
		auction.SettledAt = e.now()
		if err := e.state.AuctionPut(auction); err != nil {
			return nil, err
		}
		e.emit(NewAuctionCancelledEvent(auction))
		return &ExecutionResult{Tx: ref, AssetTransferred: true}, nil
	}
	winner := *auction.HighestBidder
	if auction.ReservePrice.Sign() > 0 && auction.HighestBid.Cmp(auction.ReservePrice) < 0 {
		if auction.HighestBid.Sign() > 0 {
			if err := e.escrow.TransferOut(auction.Currency, winner, auction.HighestBid); err != nil {
				return nil, err
			}
		}
		if err := e.assetTransfer(e.escrow.Vault(), auction.Seller, auction.Asset); err != nil {
			return nil, err
		}
		auction.State = StateCancelled
		auction.SettledAt = e.now()
		if err := e.state.AuctionPut(auction); err != nil {
			return nil, err
		}
		e.emit(NewAuctionCancelledEvent(auction))
		return &ExecutionResult{Tx: ref, AssetTransferred: true}, nil
	}
	cfg, err := e.feeConfig()
	if err != nil {
		return nil, err
	}
	sale := &SaleTransaction{
		ID:        auction.ID,
		Seller:    auction.Seller,
		Buyer:     &winner,
		Asset:     auction.Asset,
		Price:     cloneBigInt(auction.HighestBid),
		Currency:  auction.Currency,
		State:     StateFunded,
		CreatedAt: auction.StartTime,
		ExpiresAt: auction.EndTime,
		Royalty: RoyaltyInfo{
			Creator:     auction.Seller,
			PlatformBps: cfg.PlatformFeeBps,
		},
	}
	distribution, err := e.distributeFunds(sale)
	if err != nil {
		return nil, err
	}
	if err := e.assetTransfer(e.escrow.Vault(), winner, auction.Asset); err != nil {
		return nil, err
	}
	auction.SettledAt = e.now()
	if err := e.state.AuctionPut(auction); err != nil {
		return nil, err
	}
	result := &ExecutionResult{
		Tx:               ref,
		AssetTransferred: true,
		FundsDistributed: true,
		Receipt:          receiptHash(ref, auction.HighestBid, distribution.PlatformFee, winner),
	}
	e.emit(NewAuctionSettledEvent(auction, distribution, result.Receipt))
	return result, nil
}

// CancelAuction delists a still-Pending auction. Only the seller may cancel;
// any standing highest bid is refunded in full before the asset returns.
func (e *Engine) CancelAuction(id uint64, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	if err := nativecommon.Guard(e.pauses, marketModuleName); err != nil {
		return err
	}
	auction, err := e.loadAuction(id)
	if err != nil {
		return err
	}
	if auction.State != StatePending {
		return fmt.Errorf("%w: cannot cancel auction in state %s", ErrInvalidState, auction.State)
	}
	if caller != auction.Seller {
		return fmt.Errorf("%w: cancel restricted to seller", ErrUnauthorized)
	}
	if auction.HighestBidder != nil && auction.HighestBid.Sign() > 0 {
		if err := e.escrow.TransferOut(auction.Currency, *auction.HighestBidder, auction.HighestBid); err != nil {
			return err
		}
	}
	if err := e.assetTransfer(e.escrow.Vault(), auction.Seller, auction.Asset); err != nil {
		return err
	}
	auction.State = StateCancelled
	if err := e.state.AuctionPut(auction); err != nil {
		return err
	}
	e.emit(NewAuctionCancelledEvent(auction))
	return nil
}
