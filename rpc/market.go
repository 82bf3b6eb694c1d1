package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	"nftmarketd/core/types"
	"nftmarketd/native/settlement"
)

func parseParams(req *RPCRequest, v interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected a single params object")
	}
	return json.Unmarshal(req.Params[0], v)
}

func parseAddr(s string) ([20]byte, error) {
	var addr [20]byte
	trimmed := s
	if len(trimmed) >= 2 && trimmed[:2] == "0x" {
		trimmed = trimmed[2:]
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q", s)
	}
	if len(raw) != 20 {
		return addr, fmt.Errorf("address %q must be 20 bytes", s)
	}
	copy(addr[:], raw)
	return addr, nil
}

func parseHash32(s string) ([32]byte, error) {
	var out [32]byte
	trimmed := s
	if len(trimmed) >= 2 && trimmed[:2] == "0x" {
		trimmed = trimmed[2:]
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != 32 {
		return out, fmt.Errorf("value %q must be 32 hex bytes", s)
	}
	copy(out[:], raw)
	return out, nil
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return amount, nil
}

func encodeAddr(a [20]byte) string { return "0x" + hex.EncodeToString(a[:]) }

// --- JSON views ---

type assetView struct {
	Contract string `json:"contract"`
	TokenID  uint64 `json:"tokenId"`
}

type saleView struct {
	ID          uint64    `json:"id"`
	Seller      string    `json:"seller"`
	Buyer       string    `json:"buyer,omitempty"`
	Asset       assetView `json:"asset"`
	Price       string    `json:"price"`
	Currency    string    `json:"currency"`
	State       string    `json:"state"`
	CreatedAt   int64     `json:"createdAt"`
	ExpiresAt   int64     `json:"expiresAt"`
	PlatformFee string    `json:"platformFee"`
}

func newSaleView(sale *settlement.SaleTransaction) saleView {
	view := saleView{
		ID:          sale.ID,
		Seller:      encodeAddr(sale.Seller),
		Asset:       assetView{Contract: encodeAddr(sale.Asset.Contract), TokenID: sale.Asset.TokenID},
		Price:       sale.Price.String(),
		Currency:    sale.Currency,
		State:       sale.State.String(),
		CreatedAt:   sale.CreatedAt,
		ExpiresAt:   sale.ExpiresAt,
		PlatformFee: sale.PlatformFee.String(),
	}
	if sale.Buyer != nil {
		view.Buyer = encodeAddr(*sale.Buyer)
	}
	return view
}

type bidView struct {
	Bidder    string `json:"bidder"`
	Amount    string `json:"amount"`
	PlacedAt  int64  `json:"placedAt"`
	Committed bool   `json:"committed"`
}

type auctionView struct {
	ID            uint64    `json:"id"`
	Seller        string    `json:"seller"`
	Asset         assetView `json:"asset"`
	StartingPrice string    `json:"startingPrice"`
	ReservePrice  string    `json:"reservePrice"`
	HighestBid    string    `json:"highestBid"`
	HighestBidder string    `json:"highestBidder,omitempty"`
	BidIncrement  string    `json:"bidIncrement"`
	StartTime     int64     `json:"startTime"`
	EndTime       int64     `json:"endTime"`
	State         string    `json:"state"`
	Currency      string    `json:"currency"`
	Bids          []bidView `json:"bids"`
	SettledAt     int64     `json:"settledAt,omitempty"`
}

func newAuctionView(a *settlement.AuctionTransaction) auctionView {
	view := auctionView{
		ID:            a.ID,
		Seller:        encodeAddr(a.Seller),
		Asset:         assetView{Contract: encodeAddr(a.Asset.Contract), TokenID: a.Asset.TokenID},
		StartingPrice: a.StartingPrice.String(),
		ReservePrice:  a.ReservePrice.String(),
		HighestBid:    a.HighestBid.String(),
		BidIncrement:  a.BidIncrement.String(),
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		State:         a.State.String(),
		Currency:      a.Currency,
		Bids:          make([]bidView, 0, len(a.Bids)),
		SettledAt:     a.SettledAt,
	}
	if a.HighestBidder != nil {
		view.HighestBidder = encodeAddr(*a.HighestBidder)
	}
	for _, bid := range a.Bids {
		view.Bids = append(view.Bids, bidView{
			Bidder:    encodeAddr(bid.Bidder),
			Amount:    bid.Amount.String(),
			PlacedAt:  bid.PlacedAt,
			Committed: bid.Committed,
		})
	}
	return view
}

type voteView struct {
	Arbitrator string `json:"arbitrator"`
	Approve    bool   `json:"approve"`
}

type disputeView struct {
	ID            uint64     `json:"id"`
	TxKind        string     `json:"txKind"`
	TxID          uint64     `json:"txId"`
	Initiator     string     `json:"initiator"`
	Reason        string     `json:"reason"`
	EvidenceURI   string     `json:"evidenceUri,omitempty"`
	Arbitrators   []string   `json:"arbitrators"`
	Votes         []voteView `json:"votes"`
	RequiredVotes uint32     `json:"requiredVotes"`
	CreatedAt     int64      `json:"createdAt"`
	ResolvedAt    int64      `json:"resolvedAt,omitempty"`
	Resolution    string     `json:"resolution"`
}

func newDisputeView(d *settlement.Dispute) disputeView {
	view := disputeView{
		ID:            d.ID,
		TxKind:        d.Tx.Kind.String(),
		TxID:          d.Tx.ID,
		Initiator:     encodeAddr(d.Initiator),
		Reason:        d.Reason,
		EvidenceURI:   d.EvidenceURI,
		Arbitrators:   make([]string, 0, len(d.Arbitrators)),
		Votes:         make([]voteView, 0, len(d.Votes)),
		RequiredVotes: d.RequiredVotes,
		CreatedAt:     d.CreatedAt,
		ResolvedAt:    d.ResolvedAt,
		Resolution:    d.Resolution.String(),
	}
	for _, a := range d.Arbitrators {
		view.Arbitrators = append(view.Arbitrators, encodeAddr(a))
	}
	for _, v := range d.Votes {
		view.Votes = append(view.Votes, voteView{Arbitrator: encodeAddr(v.Arbitrator), Approve: v.Approve})
	}
	return view
}

type executionView struct {
	TxKind           string `json:"txKind"`
	TxID             uint64 `json:"txId"`
	AssetTransferred bool   `json:"assetTransferred"`
	FundsDistributed bool   `json:"fundsDistributed"`
	Receipt          string `json:"receipt"`
}

func newExecutionView(result *settlement.ExecutionResult) executionView {
	return executionView{
		TxKind:           result.Tx.Kind.String(),
		TxID:             result.Tx.ID,
		AssetTransferred: result.AssetTransferred,
		FundsDistributed: result.FundsDistributed,
		Receipt:          "0x" + hex.EncodeToString(result.Receipt[:]),
	}
}

type distributionView struct {
	TotalAmount   string `json:"totalAmount"`
	PlatformFee   string `json:"platformFee"`
	CreatorAmount string `json:"creatorAmount"`
	SellerAmount  string `json:"sellerAmount"`
}

func newDistributionView(d *settlement.DistributionResult) distributionView {
	return distributionView{
		TotalAmount:   d.TotalAmount.String(),
		PlatformFee:   d.PlatformFee.String(),
		CreatorAmount: d.CreatorAmount.String(),
		SellerAmount:  d.SellerAmount.String(),
	}
}

// --- Handlers ---

func (s *Server) handleCreateSale(w http.ResponseWriter, req *RPCRequest) {
	const method = "market_createSale"
	var params struct {
		Seller   string `json:"seller"`
		Contract string `json:"contract"`
		TokenID  uint64 `json:"tokenId"`
		Price    string `json:"price"`
		Currency string `json:"currency"`
		Duration int64  `json:"duration"`
	}
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	seller, err := parseAddr(params.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	contract, err := parseAddr(params.Contract)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset := settlement.AssetRef{Contract: contract, TokenID: params.TokenID}
	sale, err := s.engine.CreateSale(seller, asset, price, params.Currency, params.Duration)
	if err != nil {
		s.writeEngineError(w, req.ID, method, err)
		return
	}
	s.metrics.ObserveRequest(method, false)
	writeResult(w, req.ID, newSaleView(sale))
}

func (s *Server) handleExecuteSale(w http.ResponseWriter, req *RPCRequest) {
	const method = "market_executeSale"
	var params struct {
		ID      uint64 `json:"id"`
		Buyer   string `json:"buyer"`
		Payment string `json:"payment"`
	}
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	buyer, err := parseAddr(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	payment, err := parseAmount(params.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	result, err := s.engine.ExecuteSale(params.ID, buyer, payment)
	if err != nil {
		s.writeEngineError(w, req.ID, method, err)
		return
	}
	s.metrics.ObserveRequest(method, false)
	s.observeSettlement(result, payment)
	writeResult(w, req.ID, newExecutionView(result))
}

func (s *Server) handleCreateAuction(w http.ResponseWriter, req *RPCRequest) {
	const method = "market_createAuction"
	var params struct {
		Seller        string `json:"seller"`
		Contract      string `json:"contract"`
		TokenID       uint64 `json:"tokenId"`
		StartingPrice string `json:"startingPrice"`
		ReservePrice  string `json:"reservePrice,omitempty"`
		BidIncrement  string `json:"bidIncrement"`
		Duration      int64  `json:"duration"`
	}
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	seller, err := parseAddr(params.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	contract, err := parseAddr(params.Contract)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	starting, err := parseAmount(params.StartingPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	increment, err := parseAmount(params.BidIncrement)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var reserve *big.Int
	if params.ReservePrice != "" {
		if reserve, err = parseAmount(params.ReservePrice); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	asset := settlement.AssetRef{Contract: contract, TokenID: params.TokenID}
	auction, err := s.engine.CreateAuction(seller, asset, starting, reserve, increment, params.Duration)
	if err != nil {
		s.writeEngineError(w, req.ID, method, err)
		return
	}
	s.metrics.ObserveRequest(method, false)
	writeResult(w, req.ID, newAuctionView(auction))
}

func (s *Server) handlePlaceBid(w http.ResponseWriter, req *RPCRequest) {
	const method = "market_placeBid"
	var params struct {
		AuctionID  uint64 `json:"auctionId"`
		Bidder     string `json:"bidder"`
		Amount     string `json:"amount,omitempty"`
		Commitment string `json:"commitment,omitempty"`
	}
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	bidder, err := parseAddr(params.Bidder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var amount *big.Int
	var commitment *[32]byte
	if params.Commitment != "" {
		hash, err := parseHash32(params.Commitment)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		commitment = &hash
	} else {
		if amount, err = parseAmount(params.Amount); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	if err := s.engine.PlaceBid(params.AuctionID, bidder, amount, commitment); err != nil {
		s.writeEngineError(w, req.ID, method, err)
		return
	}
	s.metrics.ObserveRequest(method, false)
	writeResult(w, req.ID, map[string]bool{"accepted": true})
}

func (s *Server) handleRevealBid(w http.ResponseWriter, req *RPCRequest) {
	const method = "market_revealBid"
	var params struct {
		AuctionID uint64 `json:"auctionId"`
		Bidder    string `json:"bidder"`
		Amount    string `json:"amount"`
		Salt      string `json:"salt"`
	}
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	bidder, err := parseAddr(params.Bidder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	salt, err := parseHash32(params.Salt)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.RevealBid(params.AuctionID, bidder, amount, salt); err != nil {
		s.writeEngineError(w, req.ID, method, err)
		return
	}
	s.metrics.ObserveRequest(method, false)
	writeResult(w, req.ID, map[string]bool{"revealed": true})
}

func (s *Server) handleFinalizeAuction(w http.ResponseWriter, req *RPCRequest) {
	const method = "market_finalizeAuction"
	var params struct {
		ID uint64 `json:"id"`
	}
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	auction, err := s.engine.FinalizeAuction(params.ID)
	if err != nil {
		s.writeEngineError(w, req.ID, method, err)
		return
	}
	s.metrics.ObserveRequest(method, false)
	writeResult(w, req.ID, newAuctionView(auction))
}

func (s *Server) handleSettleAuction(w http.ResponseWriter, req *RPCRequest) {
	const method = "market_settleAuction"
	var params struct {
		ID uint64 `json:"id"`
	}
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	result, err := s.engine.SettleAuction(params.ID)
	if err != nil {
		s.writeEngineError(w, req.ID, method, err)
		return
	}
	s.metrics.ObserveRequest(method, false)
	s.observeSettlement(result, nil)
	writeResult(w, req.ID, newExecutionView(result))
}

func (s *Server) handleCancelTransaction(w http.ResponseWriter, req *RPCRequest) {
	const method = "market_cancelTransaction"
	var params struct {
		Kind   string `json:"kind"`
		ID     uint64 `json:"id"`
		Caller string `json:"caller"`
	}
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	kind, err := settlement.ParseTxKind(params.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.CancelTransaction(settlement.TransactionRef{Kind: kind, ID: params.ID}, caller); err != nil {
		s.writeEngineError(w, req.ID, method, err)
		return
	}
	s.metrics.ObserveRequest(method, false)
	writeResult(w, req.ID, map[string]bool{"cancelled": true})
}

func (s *Server) handleDistributeTransaction(w http.ResponseWriter, req *RPCRequest) {
	const method = "market_distributeTransaction"
	var params struct {
		ID uint64 `json:"id"`
	}
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	dist, err := s.engine.DistributeTransaction(params.ID)
	if err != nil {
		s.writeEngineError(w, req.ID, method, err)
		return
	}
	s.metrics.ObserveRequest(method, false)
	writeResult(w, req.ID, newDistributionView(dist))
}

func (s *Server) handleInitiateDispute(w http.ResponseWriter, req *RPCRequest) {
	const method = "market_initiateDispute"
	var params struct {
		Kind          string   `json:"kind"`
		ID            uint64   `json:"id"`
		Initiator     string   `json:"initiator"`
		Reason        string   `json:"reason"`
		EvidenceURI   string   `json:"evidenceUri,omitempty"`
		Arbitrators   []string `json:"arbitrators"`
		RequiredVotes uint32   `json:"requiredVotes"`
	}
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	kind, err := settlement.ParseTxKind(params.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	initiator, err := parseAddr(params.Initiator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	arbitrators := make([][20]byte, 0, len(params.Arbitrators))
	for _, raw := range params.Arbitrators {
		addr, err := parseAddr(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		arbitrators = append(arbitrators, addr)
	}
	dispute, err := s.engine.InitiateDispute(
		settlement.TransactionRef{Kind: kind, ID: params.ID},
		initiator, params.Reason, params.EvidenceURI, arbitrators, params.RequiredVotes,
	)
	if err != nil {
		s.writeEngineError(w, req.ID, method, err)
		return
	}
	s.metrics.ObserveRequest(method, false)
	s.metrics.DisputeOpened()
	writeResult(w, req.ID, newDisputeView(dispute))
}

func (s *Server) handleVoteOnDispute(w http.ResponseWriter, req *RPCRequest) {
	const method = "market_voteOnDispute"
	var params struct {
		DisputeID uint64 `json:"disputeId"`
		Voter     string `json:"voter"`
		Approve   bool   `json:"approve"`
	}
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	voter, err := parseAddr(params.Voter)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	dispute, err := s.engine.VoteOnDispute(params.DisputeID, voter, params.Approve)
	if err != nil {
		s.writeEngineError(w, req.ID, method, err)
		return
	}
	s.metrics.ObserveRequest(method, false)
	if dispute.Resolution != settlement.ResolutionNone {
		s.metrics.DisputeClosed()
	}
	writeResult(w, req.ID, newDisputeView(dispute))
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, req *RPCRequest) {
	const method = "market_withdrawFees"
	var params struct {
		Caller   string `json:"caller"`
		Currency string `json:"currency"`
		Amount   string `json:"amount"`
	}
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.WithdrawPlatformFees(caller, params.Currency, amount); err != nil {
		s.writeEngineError(w, req.ID, method, err)
		return
	}
	s.metrics.ObserveRequest(method, false)
	writeResult(w, req.ID, map[string]bool{"withdrawn": true})
}

func (s *Server) handleUpdateFeeConfig(w http.ResponseWriter, req *RPCRequest) {
	const method = "market_updateFeeConfig"
	var params struct {
		Caller         string   `json:"caller"`
		PlatformFeeBps uint32   `json:"platformFeeBps"`
		MinimumFee     string   `json:"minimumFee,omitempty"`
		MaximumFee     string   `json:"maximumFee,omitempty"`
		Recipient      string   `json:"recipient"`
		DynamicEnabled bool     `json:"dynamicEnabled"`
		VIPAddresses   []string `json:"vipAddresses,omitempty"`
		VolumeTiers    []struct {
			MinVolume   string `json:"minVolume"`
			DiscountBps uint32 `json:"discountBps"`
		} `json:"volumeTiers,omitempty"`
	}
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	recipient, err := parseAddr(params.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	cfg := &settlement.FeeConfig{
		PlatformFeeBps:    params.PlatformFeeBps,
		MinimumFee:        big.NewInt(0),
		MaximumFee:        big.NewInt(0),
		Recipient:         recipient,
		DynamicFeeEnabled: params.DynamicEnabled,
	}
	if params.MinimumFee != "" {
		if cfg.MinimumFee, err = parseAmount(params.MinimumFee); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	if params.MaximumFee != "" {
		if cfg.MaximumFee, err = parseAmount(params.MaximumFee); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	for _, vip := range params.VIPAddresses {
		addr, err := parseAddr(vip)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		cfg.VIPExemptions = append(cfg.VIPExemptions, addr)
	}
	for _, tier := range params.VolumeTiers {
		minVolume, err := parseAmount(tier.MinVolume)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		cfg.VolumeDiscounts = append(cfg.VolumeDiscounts, settlement.VolumeTier{
			MinVolume:   minVolume,
			DiscountBps: tier.DiscountBps,
		})
	}
	if err := s.engine.UpdateFeeConfig(caller, cfg); err != nil {
		s.writeEngineError(w, req.ID, method, err)
		return
	}
	s.metrics.ObserveRequest(method, false)
	writeResult(w, req.ID, map[string]bool{"updated": true})
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, req *RPCRequest) {
	const method = "market_emergencyWithdraw"
	var params struct {
		Kind   string `json:"kind"`
		ID     uint64 `json:"id"`
		Caller string `json:"caller"`
	}
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	kind, err := settlement.ParseTxKind(params.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.EmergencyWithdraw(settlement.TransactionRef{Kind: kind, ID: params.ID}, caller); err != nil {
		s.writeEngineError(w, req.ID, method, err)
		return
	}
	s.metrics.ObserveRequest(method, false)
	writeResult(w, req.ID, map[string]bool{"withdrawn": true})
}

func (s *Server) handleGetSale(w http.ResponseWriter, req *RPCRequest) {
	const method = "market_getSale"
	var params struct {
		ID uint64 `json:"id"`
	}
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	sale, err := s.engine.GetSale(params.ID)
	if err != nil {
		s.writeEngineError(w, req.ID, method, err)
		return
	}
	s.metrics.ObserveRequest(method, false)
	writeResult(w, req.ID, newSaleView(sale))
}

func (s *Server) handleGetAuction(w http.ResponseWriter, req *RPCRequest) {
	const method = "market_getAuction"
	var params struct {
		ID uint64 `json:"id"`
	}
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	auction, err := s.engine.GetAuction(params.ID)
	if err != nil {
		s.writeEngineError(w, req.ID, method, err)
		return
	}
	s.metrics.ObserveRequest(method, false)
	writeResult(w, req.ID, newAuctionView(auction))
}

func (s *Server) handleGetDispute(w http.ResponseWriter, req *RPCRequest) {
	const method = "market_getDispute"
	var params struct {
		ID uint64 `json:"id"`
	}
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	dispute, err := s.engine.GetDispute(params.ID)
	if err != nil {
		s.writeEngineError(w, req.ID, method, err)
		return
	}
	s.metrics.ObserveRequest(method, false)
	writeResult(w, req.ID, newDisputeView(dispute))
}

type eventView struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// attributed is satisfied by engine events carrying a structured payload.
type attributed interface {
	Event() *types.Event
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, req *RPCRequest) {
	const method = "market_recentEvents"
	views := []eventView{}
	if s.recorder != nil {
		for _, evt := range s.recorder.Recent() {
			view := eventView{Type: evt.EventType()}
			if a, ok := evt.(attributed); ok && a.Event() != nil {
				view.Attributes = a.Event().Attributes
			}
			views = append(views, view)
		}
	}
	s.metrics.ObserveRequest(method, false)
	writeResult(w, req.ID, views)
}

// observeSettlement feeds the volume counter. Receipts carry the settled
// price only indirectly, so sales pass the payment and auction settlements
// are looked up by id.
func (s *Server) observeSettlement(result *settlement.ExecutionResult, payment *big.Int) {
	if result == nil || !result.FundsDistributed {
		return
	}
	volume := payment
	if volume == nil {
		if auction, err := s.engine.GetAuction(result.Tx.ID); err == nil {
			volume = auction.HighestBid
		}
	}
	if volume == nil {
		return
	}
	f, _ := new(big.Float).SetInt(volume).Float64()
	s.metrics.ObserveSettlement(result.Tx.Kind.String(), f)
}
