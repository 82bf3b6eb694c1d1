package settlement

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"nftmarketd/core/types"
)

const (
	EventTypeSaleCreated     = "market.sale.created"
	EventTypeSaleExecuted    = "market.sale.executed"
	EventTypeSaleCancelled   = "market.sale.cancelled"
	EventTypeAuctionCreated  = "market.auction.created"
	EventTypeBidPlaced       = "market.auction.bid"
	EventTypeBidRevealed     = "market.auction.reveal"
	EventTypeAuctionExtended = "market.auction.extended"
	EventTypeAuctionSettled  = "market.auction.settled"
	EventTypeAuctionVoided   = "market.auction.cancelled"
	EventTypeDisputeOpened   = "market.dispute.opened"
	EventTypeDisputeVoted    = "market.dispute.voted"
	EventTypeDisputeResolved = "market.dispute.resolved"
	EventTypeFeesWithdrawn   = "market.fees.withdrawn"
)

func addr(a [20]byte) string { return hex.EncodeToString(a[:]) }

func amount(v *big.Int) string { return cloneBigInt(v).String() }

// NewSaleCreatedEvent returns the canonical payload for a new listing.
func NewSaleCreatedEvent(sale *SaleTransaction) *types.Event {
	if sale == nil {
		return &types.Event{Type: EventTypeSaleCreated, Attributes: map[string]string{}}
	}
	return &types.Event{Type: EventTypeSaleCreated, Attributes: map[string]string{
		"id":        strconv.FormatUint(sale.ID, 10),
		"seller":    addr(sale.Seller),
		"price":     amount(sale.Price),
		"currency":  sale.Currency,
		"expiresAt": strconv.FormatInt(sale.ExpiresAt, 10),
	}}
}

// NewSaleExecutedEvent returns the payload emitted when a sale settles.
func NewSaleExecutedEvent(sale *SaleTransaction, dist *DistributionResult, receipt [32]byte) *types.Event {
	attrs := map[string]string{
		"id":      strconv.FormatUint(sale.ID, 10),
		"seller":  addr(sale.Seller),
		"price":   amount(sale.Price),
		"receipt": hex.EncodeToString(receipt[:]),
	}
	if sale.Buyer != nil {
		attrs["buyer"] = addr(*sale.Buyer)
	}
	if dist != nil {
		attrs["platformFee"] = amount(dist.PlatformFee)
		attrs["creatorAmount"] = amount(dist.CreatorAmount)
		attrs["sellerAmount"] = amount(dist.SellerAmount)
	}
	return &types.Event{Type: EventTypeSaleExecuted, Attributes: attrs}
}

// NewSaleCancelledEvent returns the payload emitted on delisting.
func NewSaleCancelledEvent(sale *SaleTransaction) *types.Event {
	return &types.Event{Type: EventTypeSaleCancelled, Attributes: map[string]string{
		"id":     strconv.FormatUint(sale.ID, 10),
		"seller": addr(sale.Seller),
	}}
}

// NewAuctionCreatedEvent returns the payload for a new auction.
func NewAuctionCreatedEvent(a *AuctionTransaction) *types.Event {
	return &types.Event{Type: EventTypeAuctionCreated, Attributes: map[string]string{
		"id":            strconv.FormatUint(a.ID, 10),
		"seller":        addr(a.Seller),
		"startingPrice": amount(a.StartingPrice),
		"reservePrice":  amount(a.ReservePrice),
		"bidIncrement":  amount(a.BidIncrement),
		"endTime":       strconv.FormatInt(a.EndTime, 10),
		"currency":      a.Currency,
	}}
}

// NewBidPlacedEvent returns the payload for an accepted or sealed bid.
func NewBidPlacedEvent(a *AuctionTransaction, bid Bid) *types.Event {
	attrs := map[string]string{
		"id":     strconv.FormatUint(a.ID, 10),
		"bidder": addr(bid.Bidder),
		"sealed": strconv.FormatBool(bid.Committed),
	}
	if !bid.Committed {
		attrs["amount"] = amount(bid.Amount)
		attrs["highestBid"] = amount(a.HighestBid)
	}
	return &types.Event{Type: EventTypeBidPlaced, Attributes: attrs}
}

// NewBidRevealedEvent returns the payload for a successfully revealed bid.
func NewBidRevealedEvent(a *AuctionTransaction, bid Bid) *types.Event {
	return &types.Event{Type: EventTypeBidRevealed, Attributes: map[string]string{
		"id":         strconv.FormatUint(a.ID, 10),
		"bidder":     addr(bid.Bidder),
		"amount":     amount(bid.Amount),
		"highestBid": amount(a.HighestBid),
	}}
}

// NewAuctionExtendedEvent returns the payload for an anti-snipe extension.
func NewAuctionExtendedEvent(a *AuctionTransaction) *types.Event {
	return &types.Event{Type: EventTypeAuctionExtended, Attributes: map[string]string{
		"id":      strconv.FormatUint(a.ID, 10),
		"endTime": strconv.FormatInt(a.EndTime, 10),
	}}
}

// NewAuctionSettledEvent returns the payload for a distributed auction.
func NewAuctionSettledEvent(a *AuctionTransaction, dist *DistributionResult, receipt [32]byte) *types.Event {
	attrs := map[string]string{
		"id":      strconv.FormatUint(a.ID, 10),
		"seller":  addr(a.Seller),
		"price":   amount(a.HighestBid),
		"receipt": hex.EncodeToString(receipt[:]),
	}
	if a.HighestBidder != nil {
		attrs["winner"] = addr(*a.HighestBidder)
	}
	if dist != nil {
		attrs["platformFee"] = amount(dist.PlatformFee)
		attrs["sellerAmount"] = amount(dist.SellerAmount)
	}
	return &types.Event{Type: EventTypeAuctionSettled, Attributes: attrs}
}

// NewAuctionCancelledEvent returns the payload for a voided auction, whether
// cancelled by the seller or failed at the reserve.
func NewAuctionCancelledEvent(a *AuctionTransaction) *types.Event {
	return &types.Event{Type: EventTypeAuctionVoided, Attributes: map[string]string{
		"id":     strconv.FormatUint(a.ID, 10),
		"seller": addr(a.Seller),
	}}
}

// NewDisputeOpenedEvent returns the payload for a newly opened dispute.
func NewDisputeOpenedEvent(d *Dispute) *types.Event {
	return &types.Event{Type: EventTypeDisputeOpened, Attributes: map[string]string{
		"id":            strconv.FormatUint(d.ID, 10),
		"txKind":        d.Tx.Kind.String(),
		"txId":          strconv.FormatUint(d.Tx.ID, 10),
		"initiator":     addr(d.Initiator),
		"requiredVotes": strconv.FormatUint(uint64(d.RequiredVotes), 10),
	}}
}

// NewDisputeVotedEvent returns the payload for a recorded vote.
func NewDisputeVotedEvent(d *Dispute, voter [20]byte, approve bool) *types.Event {
	yes, no := d.Tally()
	return &types.Event{Type: EventTypeDisputeVoted, Attributes: map[string]string{
		"id":      strconv.FormatUint(d.ID, 10),
		"voter":   addr(voter),
		"approve": strconv.FormatBool(approve),
		"yes":     strconv.FormatUint(uint64(yes), 10),
		"no":      strconv.FormatUint(uint64(no), 10),
	}}
}

// NewDisputeResolvedEvent returns the payload for a resolved dispute.
func NewDisputeResolvedEvent(d *Dispute) *types.Event {
	return &types.Event{Type: EventTypeDisputeResolved, Attributes: map[string]string{
		"id":         strconv.FormatUint(d.ID, 10),
		"txKind":     d.Tx.Kind.String(),
		"txId":       strconv.FormatUint(d.Tx.ID, 10),
		"resolution": d.Resolution.String(),
		"resolvedAt": strconv.FormatInt(d.ResolvedAt, 10),
	}}
}

// NewFeesWithdrawnEvent returns the payload for a platform fee withdrawal.
func NewFeesWithdrawnEvent(currency string, recipient [20]byte, withdrawn *big.Int) *types.Event {
	return &types.Event{Type: EventTypeFeesWithdrawn, Attributes: map[string]string{
		"currency":  currency,
		"recipient": addr(recipient),
		"amount":    amount(withdrawn),
	}}
}
