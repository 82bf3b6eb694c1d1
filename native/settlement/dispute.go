package settlement

import (
	"fmt"
	"strings"

	nativecommon "nftmarketd/native/common"
)

// InitiateDispute freezes a still-Pending transaction and opens a dispute
// routed through arbitrator votes instead of normal settlement. The
// initiator must be a party to the transaction: the seller, or the active
// counterparty (buyer or highest bidder).
func (e *Engine) InitiateDispute(tx TransactionRef, initiator [20]byte, reason, evidenceURI string, arbitrators [][20]byte, requiredVotes uint32) (*Dispute, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, marketModuleName); err != nil {
		return nil, err
	}
	if len(arbitrators) == 0 {
		return nil, fmt.Errorf("%w: arbitrator set must not be empty", ErrInvalidAmount)
	}
	if requiredVotes == 0 || int(requiredVotes) > len(arbitrators) {
		return nil, fmt.Errorf("%w: required votes out of range", ErrInvalidAmount)
	}
	switch tx.Kind {
	case TxKindSale:
		sale, err := e.loadSale(tx.ID)
		if err != nil {
			return nil, err
		}
		if sale.State != StatePending {
			return nil, fmt.Errorf("%w: cannot dispute sale in state %s", ErrInvalidState, sale.State)
		}
		if initiator != sale.Seller && (sale.Buyer == nil || initiator != *sale.Buyer) {
			return nil, fmt.Errorf("%w: initiator is not a party to the sale", ErrUnauthorized)
		}
		sale.State = StateDisputed
		if err := e.state.SalePut(sale); err != nil {
			return nil, err
		}
	case TxKindAuction:
		auction, err := e.loadAuction(tx.ID)
		if err != nil {
			return nil, err
		}
		if auction.State != StatePending {
			return nil, fmt.Errorf("%w: cannot dispute auction in state %s", ErrInvalidState, auction.State)
		}
		if initiator != auction.Seller && (auction.HighestBidder == nil || initiator != *auction.HighestBidder) {
			return nil, fmt.Errorf("%w: initiator is not a party to the auction", ErrUnauthorized)
		}
		auction.State = StateDisputed
		if err := e.state.AuctionPut(auction); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown transaction kind", ErrNotFound)
	}
	id, err := e.nextDisputeID()
	if err != nil {
		return nil, err
	}
	dispute := &Dispute{
		ID:            id,
		Tx:            tx,
		Initiator:     initiator,
		Reason:        strings.TrimSpace(reason),
		EvidenceURI:   strings.TrimSpace(evidenceURI),
		Arbitrators:   append([][20]byte(nil), arbitrators...),
		RequiredVotes: requiredVotes,
		CreatedAt:     e.now(),
	}
	if err := e.state.DisputePut(dispute); err != nil {
		return nil, err
	}
	e.emit(NewDisputeOpenedEvent(dispute))
	return dispute.Clone(), nil
}

// VoteOnDispute records or overwrites one arbitrator's vote. The dispute
// resolves the first time yes- or no-votes reach the required threshold,
// yes checked first as the explicit tie-break. Resolution applies the
// compensating action to the frozen transaction, so the whole operation is
// guarded.
func (e *Engine) VoteOnDispute(disputeID uint64, voter [20]byte, approve bool) (*Dispute, error) {
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
	dispute, err := e.loadDispute(disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Resolution != ResolutionNone {
		return nil, fmt.Errorf("%w: dispute already resolved", ErrInvalidState)
	}
	if !dispute.HasArbitrator(voter) {
		return nil, fmt.Errorf("%w: voter is not an arbitrator", ErrUnauthorized)
	}
	recorded := false
	for i := range dispute.Votes {
		if dispute.Votes[i].Arbitrator == voter {
			dispute.Votes[i].Approve = approve
			recorded = true
			break
		}
	}
	if !recorded {
		dispute.Votes = append(dispute.Votes, Vote{Arbitrator: voter, Approve: approve})
	}
	yes, no := dispute.Tally()
	if yes < dispute.RequiredVotes && no < dispute.RequiredVotes {
		if err := e.state.DisputePut(dispute); err != nil {
			return nil, err
		}
		e.emit(NewDisputeVotedEvent(dispute, voter, approve))
		return dispute.Clone(), nil
	}
	resolution := ResolutionInitiatorLoses
	if yes >= dispute.RequiredVotes {
		resolution = ResolutionInitiatorWins
	}
	dispute.Resolution = resolution
	dispute.ResolvedAt = e.now()
	if err := e.state.DisputePut(dispute); err != nil {
		return nil, err
	}
	if err := e.resolveTransaction(dispute.Tx, resolution); err != nil {
		return nil, err
	}
	e.emit(NewDisputeVotedEvent(dispute, voter, approve))
	e.emit(NewDisputeResolvedEvent(dispute))
	return dispute.Clone(), nil
}

// resolveTransaction applies the dispute outcome to the frozen transaction.
// A winning initiator unwinds it: escrowed bid funds are refunded and the
// asset returns to the seller, landing the transaction in Resolved. A losing
// initiator reinstates it: the transaction returns to Pending and continues
// its normal lifecycle with funds and asset left in place.
func (e *Engine) resolveTransaction(tx TransactionRef, resolution DisputeResolution) error {
	switch tx.Kind {
	case TxKindSale:
		sale, err := e.loadSale(tx.ID)
		if err != nil {
			return err
		}
		if sale.State != StateDisputed {
			return fmt.Errorf("%w: sale not disputed", ErrInvalidState)
		}
		if resolution == ResolutionInitiatorLoses {
			sale.State = StatePending
			return e.state.SalePut(sale)
		}
		if err := e.assetTransfer(e.escrow.Vault(), sale.Seller, sale.Asset); err != nil {
			return err
		}
		sale.State = StateResolved
		return e.state.SalePut(sale)
	case TxKindAuction:
		auction, err := e.loadAuction(tx.ID)
		if err != nil {
			return err
		}
		if auction.State != StateDisputed {
			return fmt.Errorf("%w: auction not disputed", ErrInvalidState)
		}
		if resolution == ResolutionInitiatorLoses {
			auction.State = StatePending
			return e.state.AuctionPut(auction)
		}
		if auction.HighestBidder != nil && auction.HighestBid.Sign() > 0 {
			if err := e.escrow.TransferOut(auction.Currency, *auction.HighestBidder, auction.HighestBid); err != nil {
				return err
			}
		}
		if err := e.assetTransfer(e.escrow.Vault(), auction.Seller, auction.Asset); err != nil {
			return err
		}
		auction.State = StateResolved
		return e.state.AuctionPut(auction)
	default:
		return fmt.Errorf("%w: unknown transaction kind", ErrNotFound)
	}
}
