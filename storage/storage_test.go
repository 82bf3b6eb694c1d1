package storage

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nftmarketd/native/settlement"
)

func testAddr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func TestSettlementStateSaleRoundTrip(t *testing.T) {
	state := NewSettlementState(NewMemDB())

	_, ok := state.SaleGet(1)
	assert.False(t, ok)

	buyer := testAddr(2)
	sale := &settlement.SaleTransaction{
		ID:          1,
		Seller:      testAddr(1),
		Buyer:       &buyer,
		Asset:       settlement.AssetRef{TokenID: 42},
		Price:       big.NewInt(1000),
		Currency:    "USDC",
		State:       settlement.StateFunded,
		CreatedAt:   1_700_000_000,
		ExpiresAt:   1_700_003_600,
		Royalty:     settlement.RoyaltyInfo{Creator: testAddr(3), CreatorBps: 500, PlatformBps: 250},
		PlatformFee: big.NewInt(25),
	}
	require.NoError(t, state.SalePut(sale))

	got, ok := state.SaleGet(1)
	require.True(t, ok)
	assert.Equal(t, sale.Seller, got.Seller)
	require.NotNil(t, got.Buyer)
	assert.Equal(t, buyer, *got.Buyer)
	assert.Zero(t, got.Price.Cmp(big.NewInt(1000)))
	assert.Equal(t, settlement.StateFunded, got.State)
	assert.Equal(t, uint32(500), got.Royalty.CreatorBps)
}

func TestSettlementStateAuctionRoundTrip(t *testing.T) {
	state := NewSettlementState(NewMemDB())

	bidder := testAddr(5)
	commitment := [32]byte{0xAB}
	auction := &settlement.AuctionTransaction{
		ID:            3,
		Seller:        testAddr(1),
		StartingPrice: big.NewInt(100),
		ReservePrice:  big.NewInt(0),
		HighestBid:    big.NewInt(150),
		HighestBidder: &bidder,
		BidIncrement:  big.NewInt(10),
		StartTime:     1_700_000_000,
		EndTime:       1_700_003_600,
		State:         settlement.StatePending,
		Bids: []settlement.Bid{
			{Bidder: bidder, Amount: big.NewInt(150), PlacedAt: 1_700_000_100},
			{Bidder: testAddr(6), Amount: big.NewInt(0), Committed: true, Commitment: &commitment},
		},
		ExtensionWindow: 120,
		Currency:        "USDC",
	}
	require.NoError(t, state.AuctionPut(auction))

	got, ok := state.AuctionGet(3)
	require.True(t, ok)
	require.Len(t, got.Bids, 2)
	assert.Zero(t, got.HighestBid.Cmp(big.NewInt(150)))
	assert.True(t, got.Bids[1].Committed)
	require.NotNil(t, got.Bids[1].Commitment)
	assert.Equal(t, commitment, *got.Bids[1].Commitment)
}

func TestSettlementStateDisputeRoundTrip(t *testing.T) {
	state := NewSettlementState(NewMemDB())

	dispute := &settlement.Dispute{
		ID:            1,
		Tx:            settlement.TransactionRef{Kind: settlement.TxKindAuction, ID: 3},
		Initiator:     testAddr(5),
		Reason:        "undelivered",
		EvidenceURI:   "ipfs://bafy",
		Arbitrators:   [][20]byte{testAddr(10), testAddr(11), testAddr(12)},
		Votes:         []settlement.Vote{{Arbitrator: testAddr(10), Approve: true}},
		RequiredVotes: 2,
		CreatedAt:     1_700_000_000,
	}
	require.NoError(t, state.DisputePut(dispute))

	got, ok := state.DisputeGet(1)
	require.True(t, ok)
	assert.Equal(t, settlement.TxKindAuction, got.Tx.Kind)
	require.Len(t, got.Votes, 1)
	assert.True(t, got.Votes[0].Approve)
	assert.Len(t, got.Arbitrators, 3)
}

func TestSettlementStateSingletons(t *testing.T) {
	state := NewSettlementState(NewMemDB())

	_, ok := state.CountersGet()
	assert.False(t, ok)
	require.NoError(t, state.CountersPut(settlement.Counters{Sale: 7, Auction: 3, Dispute: 1}))
	counters, ok := state.CountersGet()
	require.True(t, ok)
	assert.Equal(t, uint64(7), counters.Sale)

	_, ok = state.AdminGet()
	assert.False(t, ok)
	require.NoError(t, state.AdminPut(testAddr(0xAD)))
	admin, ok := state.AdminGet()
	require.True(t, ok)
	assert.Equal(t, testAddr(0xAD), admin)

	_, ok = state.DefaultCurrencyGet()
	assert.False(t, ok)
	require.NoError(t, state.DefaultCurrencyPut("USDC"))
	currency, ok := state.DefaultCurrencyGet()
	require.True(t, ok)
	assert.Equal(t, "USDC", currency)

	cfg := &settlement.FeeConfig{
		PlatformFeeBps:  250,
		MinimumFee:      big.NewInt(1),
		Recipient:       testAddr(0xFE),
		VolumeDiscounts: []settlement.VolumeTier{{MinVolume: big.NewInt(500), DiscountBps: 100}},
		VIPExemptions:   [][20]byte{testAddr(0x77)},
	}
	require.NoError(t, state.FeeConfigPut(cfg))
	gotCfg, ok := state.FeeConfigGet()
	require.True(t, ok)
	assert.Equal(t, uint32(250), gotCfg.PlatformFeeBps)
	require.Len(t, gotCfg.VolumeDiscounts, 1)
	assert.Zero(t, gotCfg.VolumeDiscounts[0].MinVolume.Cmp(big.NewInt(500)))
	assert.True(t, gotCfg.IsVIP(testAddr(0x77)))
}

func TestSettlementStatePlatformFees(t *testing.T) {
	state := NewSettlementState(NewMemDB())

	balance, err := state.PlatformFeesGet("USDC")
	require.NoError(t, err)
	assert.Zero(t, balance.Sign())

	require.NoError(t, state.PlatformFeesPut("USDC", big.NewInt(125)))
	balance, err = state.PlatformFeesGet("USDC")
	require.NoError(t, err)
	assert.Zero(t, balance.Cmp(big.NewInt(125)))

	// Currencies are independent accumulators.
	other, err := state.PlatformFeesGet("EURC")
	require.NoError(t, err)
	assert.Zero(t, other.Sign())
}

func TestBalanceLedgerTransfer(t *testing.T) {
	ledger := NewBalanceLedger(NewMemDB())
	alice := testAddr(1)
	bob := testAddr(2)

	require.NoError(t, ledger.Mint("USDC", alice, big.NewInt(1000)))

	require.NoError(t, ledger.Transfer("USDC", alice, bob, big.NewInt(400)))
	balance, err := ledger.Balance("USDC", alice)
	require.NoError(t, err)
	assert.Zero(t, balance.Cmp(big.NewInt(600)))
	balance, err = ledger.Balance("USDC", bob)
	require.NoError(t, err)
	assert.Zero(t, balance.Cmp(big.NewInt(400)))

	// Overdraft fails without any write.
	require.Error(t, ledger.Transfer("USDC", alice, bob, big.NewInt(601)))
	balance, err = ledger.Balance("USDC", alice)
	require.NoError(t, err)
	assert.Zero(t, balance.Cmp(big.NewInt(600)))

	// Zero transfers succeed and move nothing.
	require.NoError(t, ledger.Transfer("USDC", alice, bob, big.NewInt(0)))
	require.Error(t, ledger.Transfer("USDC", alice, bob, big.NewInt(-5)))
	require.Error(t, ledger.Transfer("USDC", alice, bob, nil))
}

func TestAssetBookOwnership(t *testing.T) {
	book := NewAssetBook(NewMemDB())
	alice := testAddr(1)
	bob := testAddr(2)
	asset := settlement.AssetRef{TokenID: 42}

	_, err := book.Owner(asset)
	require.Error(t, err)

	require.NoError(t, book.Mint(alice, asset))
	require.Error(t, book.Mint(bob, asset), "double mint must fail")

	owner, err := book.Owner(asset)
	require.NoError(t, err)
	assert.Equal(t, alice, owner)

	require.Error(t, book.Transfer(bob, alice, asset), "non-owner transfer must fail")
	require.NoError(t, book.Transfer(alice, bob, asset))
	owner, err = book.Owner(asset)
	require.NoError(t, err)
	assert.Equal(t, bob, owner)
}

func TestStateBackedEngineEndToEnd(t *testing.T) {
	db := NewMemDB()
	state := NewSettlementState(db)
	ledger := NewBalanceLedger(db)
	assets := NewAssetBook(db)

	vault := testAddr(0xEC)
	seller := testAddr(1)
	buyer := testAddr(2)
	asset := settlement.AssetRef{TokenID: 7}

	engine := settlement.NewEngine()
	engine.SetState(state)
	engine.SetLedger(ledger)
	engine.SetVault(vault)
	engine.SetAssets(assets)

	cfg := &settlement.FeeConfig{PlatformFeeBps: 250, Recipient: testAddr(0xFE)}
	require.NoError(t, engine.Initialize(testAddr(0xAD), cfg, "USDC"))

	require.NoError(t, assets.Mint(seller, asset))
	require.NoError(t, ledger.Mint("USDC", buyer, big.NewInt(1000)))

	sale, err := engine.CreateSale(seller, asset, big.NewInt(1000), "USDC", 3600)
	require.NoError(t, err)

	result, err := engine.ExecuteSale(sale.ID, buyer, big.NewInt(1000))
	require.NoError(t, err)
	assert.True(t, result.FundsDistributed)

	owner, err := assets.Owner(asset)
	require.NoError(t, err)
	assert.Equal(t, buyer, owner)

	balance, err := ledger.Balance("USDC", seller)
	require.NoError(t, err)
	assert.Zero(t, balance.Cmp(big.NewInt(975)))

	accrued, err := state.PlatformFeesGet("USDC")
	require.NoError(t, err)
	assert.Zero(t, accrued.Cmp(big.NewInt(25)))
}
