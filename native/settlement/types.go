package settlement

import (
	"fmt"
	"math/big"
	"strings"
)

// TxKind tags the transaction category a numeric id belongs to. Sales,
// auctions and disputes each own an independent monotonic sequence, so ids
// are only meaningful together with their kind.
type TxKind uint8

const (
	TxKindSale TxKind = iota + 1
	TxKindAuction
)

// Valid reports whether the kind value is within the supported range.
func (k TxKind) Valid() bool {
	return k == TxKindSale || k == TxKindAuction
}

func (k TxKind) String() string {
	switch k {
	case TxKindSale:
		return "sale"
	case TxKindAuction:
		return "auction"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseTxKind resolves the canonical kind tag from its string form.
func ParseTxKind(s string) (TxKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sale":
		return TxKindSale, nil
	case "auction":
		return TxKindAuction, nil
	default:
		return 0, fmt.Errorf("%w: unknown transaction kind %q", ErrNotFound, s)
	}
}

// TransactionRef addresses a sale or auction explicitly by category.
type TransactionRef struct {
	Kind TxKind
	ID   uint64
}

// TransactionState is the lifecycle shared by sales and auctions.
type TransactionState uint8

const (
	StatePending TransactionState = iota
	StateFunded
	StateExecuted
	StateCancelled
	StateDisputed
	StateResolved
)

// Valid reports whether the state value is within the supported range.
func (s TransactionState) Valid() bool {
	return s <= StateResolved
}

func (s TransactionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFunded:
		return "funded"
	case StateExecuted:
		return "executed"
	case StateCancelled:
		return "cancelled"
	case StateDisputed:
		return "disputed"
	case StateResolved:
		return "resolved"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// AssetRef identifies a unique traded asset by its registry contract and
// token id.
type AssetRef struct {
	Contract [20]byte
	TokenID  uint64
}

// RoyaltyInfo describes how a sale's proceeds split between the creator, the
// seller and the platform, in basis points. A zero SellerBps means the seller
// absorbs the remainder after the creator and platform shares, which is what
// keeps the split conservation-exact by default.
type RoyaltyInfo struct {
	Creator     [20]byte
	CreatorBps  uint32
	SellerBps   uint32
	PlatformBps uint32
}

// SaleTransaction is a fixed-price listing.
type SaleTransaction struct {
	ID          uint64
	Seller      [20]byte
	Buyer       *[20]byte
	Asset       AssetRef
	Price       *big.Int
	Currency    string
	State       TransactionState
	CreatedAt   int64
	ExpiresAt   int64
	Royalty     RoyaltyInfo
	PlatformFee *big.Int
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (s *SaleTransaction) Clone() *SaleTransaction {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Price = cloneBigInt(s.Price)
	clone.PlatformFee = cloneBigInt(s.PlatformFee)
	if s.Buyer != nil {
		buyer := *s.Buyer
		clone.Buyer = &buyer
	}
	return &clone
}

// Bid records a single bid, open or sealed. Sealed bids carry a commitment
// hash and a zero amount until revealed.
type Bid struct {
	Bidder     [20]byte
	Amount     *big.Int
	PlacedAt   int64
	Committed  bool
	Commitment *[32]byte
}

func (b Bid) clone() Bid {
	clone := b
	clone.Amount = cloneBigInt(b.Amount)
	if b.Commitment != nil {
		c := *b.Commitment
		clone.Commitment = &c
	}
	return clone
}

// AuctionTransaction is an open or commit-reveal auction listing.
type AuctionTransaction struct {
	ID              uint64
	Seller          [20]byte
	Asset           AssetRef
	StartingPrice   *big.Int
	ReservePrice    *big.Int
	HighestBid      *big.Int
	HighestBidder   *[20]byte
	BidIncrement    *big.Int
	StartTime       int64
	EndTime         int64
	State           TransactionState
	Bids            []Bid
	ExtensionWindow int64
	Currency        string
	// SettledAt is the settlement timestamp. Zero while the auction has not
	// been settled; an Executed auction with a zero SettledAt has been
	// finalized but still awaits its payout decision.
	SettledAt int64
}

// Clone returns a deep copy of the auction, including its bid history.
func (a *AuctionTransaction) Clone() *AuctionTransaction {
	if a == nil {
		return nil
	}
	clone := *a
	clone.StartingPrice = cloneBigInt(a.StartingPrice)
	clone.ReservePrice = cloneBigInt(a.ReservePrice)
	clone.HighestBid = cloneBigInt(a.HighestBid)
	clone.BidIncrement = cloneBigInt(a.BidIncrement)
	if a.HighestBidder != nil {
		bidder := *a.HighestBidder
		clone.HighestBidder = &bidder
	}
	if len(a.Bids) > 0 {
		clone.Bids = make([]Bid, len(a.Bids))
		for i, bid := range a.Bids {
			clone.Bids[i] = bid.clone()
		}
	}
	return &clone
}

// VolumeTier grants a fee discount to transactions at or above a volume.
type VolumeTier struct {
	MinVolume   *big.Int
	DiscountBps uint32
}

// FeeConfig is the platform fee policy. A zero MaximumFee disables the upper
// clamp.
type FeeConfig struct {
	PlatformFeeBps    uint32
	MinimumFee        *big.Int
	MaximumFee        *big.Int
	Recipient         [20]byte
	DynamicFeeEnabled bool
	VolumeDiscounts   []VolumeTier
	VIPExemptions     [][20]byte
}

// Clone returns a deep copy of the fee configuration.
func (c *FeeConfig) Clone() *FeeConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.MinimumFee = cloneBigInt(c.MinimumFee)
	clone.MaximumFee = cloneBigInt(c.MaximumFee)
	if len(c.VolumeDiscounts) > 0 {
		clone.VolumeDiscounts = make([]VolumeTier, len(c.VolumeDiscounts))
		for i, tier := range c.VolumeDiscounts {
			clone.VolumeDiscounts[i] = VolumeTier{
				MinVolume:   cloneBigInt(tier.MinVolume),
				DiscountBps: tier.DiscountBps,
			}
		}
	}
	if len(c.VIPExemptions) > 0 {
		clone.VIPExemptions = make([][20]byte, len(c.VIPExemptions))
		copy(clone.VIPExemptions, c.VIPExemptions)
	}
	return &clone
}

// IsVIP reports whether the address is fee-exempt under this configuration.
func (c *FeeConfig) IsVIP(addr [20]byte) bool {
	if c == nil {
		return false
	}
	for _, vip := range c.VIPExemptions {
		if vip == addr {
			return true
		}
	}
	return false
}

// ValidateFeeConfig checks the administrative bounds on a fee policy.
func ValidateFeeConfig(c *FeeConfig) error {
	if c == nil {
		return fmt.Errorf("%w: nil fee config", ErrInvalidAmount)
	}
	if c.PlatformFeeBps > bpsDenominator {
		return fmt.Errorf("%w: platform fee bps out of range", ErrInvalidAmount)
	}
	if c.MinimumFee != nil && c.MinimumFee.Sign() < 0 {
		return fmt.Errorf("%w: negative minimum fee", ErrInvalidAmount)
	}
	if c.MaximumFee != nil && c.MaximumFee.Sign() < 0 {
		return fmt.Errorf("%w: negative maximum fee", ErrInvalidAmount)
	}
	for _, tier := range c.VolumeDiscounts {
		if tier.DiscountBps > bpsDenominator {
			return fmt.Errorf("%w: discount bps out of range", ErrInvalidAmount)
		}
		if tier.MinVolume != nil && tier.MinVolume.Sign() < 0 {
			return fmt.Errorf("%w: negative tier volume", ErrInvalidAmount)
		}
	}
	return nil
}

// DisputeResolution is the outcome of an arbitrated dispute.
type DisputeResolution uint8

const (
	ResolutionNone DisputeResolution = iota
	ResolutionInitiatorWins
	ResolutionInitiatorLoses
)

func (r DisputeResolution) String() string {
	switch r {
	case ResolutionNone:
		return "none"
	case ResolutionInitiatorWins:
		return "initiator_wins"
	case ResolutionInitiatorLoses:
		return "initiator_loses"
	default:
		return fmt.Sprintf("resolution(%d)", uint8(r))
	}
}

// Vote is one arbitrator's current position on a dispute. Re-voting replaces
// the entry rather than appending a second one.
type Vote struct {
	Arbitrator [20]byte
	Approve    bool
}

// Dispute freezes a transaction until a quorum of arbitrators settles it.
type Dispute struct {
	ID            uint64
	Tx            TransactionRef
	Initiator     [20]byte
	Reason        string
	EvidenceURI   string
	Arbitrators   [][20]byte
	Votes         []Vote
	RequiredVotes uint32
	CreatedAt     int64
	ResolvedAt    int64
	Resolution    DisputeResolution
}

// Clone returns a deep copy of the dispute record.
func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	clone := *d
	if len(d.Arbitrators) > 0 {
		clone.Arbitrators = make([][20]byte, len(d.Arbitrators))
		copy(clone.Arbitrators, d.Arbitrators)
	}
	if len(d.Votes) > 0 {
		clone.Votes = make([]Vote, len(d.Votes))
		copy(clone.Votes, d.Votes)
	}
	return &clone
}

// HasArbitrator reports whether the address sits on the dispute's panel.
func (d *Dispute) HasArbitrator(addr [20]byte) bool {
	if d == nil {
		return false
	}
	for _, a := range d.Arbitrators {
		if a == addr {
			return true
		}
	}
	return false
}

// Tally counts the current yes and no votes.
func (d *Dispute) Tally() (yes, no uint32) {
	if d == nil {
		return 0, 0
	}
	for _, v := range d.Votes {
		if v.Approve {
			yes++
		} else {
			no++
		}
	}
	return yes, no
}

// Counters are the three independent monotonic id sequences. They are never
// reused or decremented.
type Counters struct {
	Sale    uint64
	Auction uint64
	Dispute uint64
}

// DistributionResult is the audit tuple returned by a completed fund
// distribution.
type DistributionResult struct {
	TotalAmount   *big.Int
	PlatformFee   *big.Int
	CreatorAmount *big.Int
	SellerAmount  *big.Int
}

// ExecutionResult summarises a settled transaction.
type ExecutionResult struct {
	Tx               TransactionRef
	AssetTransferred bool
	FundsDistributed bool
	Receipt          [32]byte
}

// NormalizeCurrency canonicalises a currency symbol.
func NormalizeCurrency(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty currency", ErrInvalidAmount)
	}
	return trimmed, nil
}

func validPositiveAmount(v *big.Int) bool {
	return v != nil && v.Sign() > 0 && v.Cmp(maxAmount) <= 0
}
