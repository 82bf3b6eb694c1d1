package settlement

import (
	"errors"
	"math/big"
	"testing"
)

func TestCreateSaleEscrowsAsset(t *testing.T) {
	env := newTestEnv(t)
	seller := addrOf(1)
	asset := AssetRef{TokenID: 42}
	sale := mustCreateSale(t, env, seller, asset, 1000)

	if sale.ID != 1 {
		t.Fatalf("expected first sale id 1, got %d", sale.ID)
	}
	if sale.State != StatePending {
		t.Fatalf("expected pending, got %s", sale.State)
	}
	if owner := env.assets.owner(asset); owner != env.vault {
		t.Fatalf("asset not escrowed, owner %x", owner)
	}
	if sale.ExpiresAt != env.now+3600 {
		t.Fatalf("unexpected expiry %d", sale.ExpiresAt)
	}
	if !env.emitter.contains(EventTypeSaleCreated) {
		t.Fatalf("missing created event, got %v", env.emitter.eventTypes())
	}
}

func TestCreateSaleValidation(t *testing.T) {
	env := newTestEnv(t)
	seller := addrOf(1)
	env.assets.mint(seller, AssetRef{TokenID: 1})

	cases := []struct {
		name     string
		price    *big.Int
		currency string
		duration int64
	}{
		{"zero price", big.NewInt(0), testCurrency, 3600},
		{"negative price", big.NewInt(-5), testCurrency, 3600},
		{"nil price", nil, testCurrency, 3600},
		{"empty currency", big.NewInt(100), "  ", 3600},
		{"zero duration", big.NewInt(100), testCurrency, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.engine.CreateSale(seller, AssetRef{TokenID: 1}, tc.price, tc.currency, tc.duration)
			if !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("expected ErrInvalidAmount, got %v", err)
			}
		})
	}
	if owner := env.assets.owner(AssetRef{TokenID: 1}); owner != seller {
		t.Fatalf("rejected listings must not move the asset, owner %x", owner)
	}
}

func TestExecuteSaleDistributes(t *testing.T) {
	env := newTestEnv(t)
	seller := addrOf(1)
	buyer := addrOf(2)
	asset := AssetRef{TokenID: 7}
	sale := mustCreateSale(t, env, seller, asset, 1000)
	env.ledger.mint(testCurrency, buyer, 1000)

	result, err := env.engine.ExecuteSale(sale.ID, buyer, big.NewInt(1000))
	if err != nil {
		t.Fatalf("execute sale: %v", err)
	}
	if !result.AssetTransferred || !result.FundsDistributed {
		t.Fatalf("incomplete execution result %+v", result)
	}
	if result.Receipt == ([32]byte{}) {
		t.Fatal("expected non-zero receipt")
	}
	// 250 bps of 1000 is a 25 fee; the seller absorbs the remainder.
	if got := env.ledger.balance(testCurrency, seller); got.Cmp(big.NewInt(975)) != 0 {
		t.Fatalf("seller balance %s, want 975", got)
	}
	if got := env.ledger.balance(testCurrency, buyer); got.Sign() != 0 {
		t.Fatalf("buyer balance %s, want 0", got)
	}
	if got := env.ledger.balance(testCurrency, env.vault); got.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("vault balance %s, want 25 accrued fee", got)
	}
	accrued, err := env.state.PlatformFeesGet(testCurrency)
	if err != nil || accrued.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("accrued fees %s (%v), want 25", accrued, err)
	}
	if owner := env.assets.owner(asset); owner != buyer {
		t.Fatalf("asset not delivered, owner %x", owner)
	}
	stored, _ := env.state.SaleGet(sale.ID)
	if stored.State != StateExecuted {
		t.Fatalf("expected executed, got %s", stored.State)
	}
	if stored.Buyer == nil || *stored.Buyer != buyer {
		t.Fatal("buyer not recorded on the sale")
	}
	if stored.PlatformFee.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("recorded fee %s, want 25", stored.PlatformFee)
	}
	if !env.emitter.contains(EventTypeSaleExecuted) {
		t.Fatalf("missing executed event, got %v", env.emitter.eventTypes())
	}
}

func TestExecuteSalePaymentMustMatch(t *testing.T) {
	env := newTestEnv(t)
	buyer := addrOf(2)
	sale := mustCreateSale(t, env, addrOf(1), AssetRef{TokenID: 1}, 1000)
	env.ledger.mint(testCurrency, buyer, 2000)

	for _, payment := range []*big.Int{nil, big.NewInt(999), big.NewInt(1001)} {
		if _, err := env.engine.ExecuteSale(sale.ID, buyer, payment); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("payment %v: expected ErrInvalidAmount, got %v", payment, err)
		}
	}
	if got := env.ledger.balance(testCurrency, buyer); got.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("rejected payments must not move funds, balance %s", got)
	}
}

func TestExecuteSaleExpired(t *testing.T) {
	env := newTestEnv(t)
	buyer := addrOf(2)
	sale := mustCreateSale(t, env, addrOf(1), AssetRef{TokenID: 1}, 1000)
	env.ledger.mint(testCurrency, buyer, 1000)
	env.advance(3601)

	if _, err := env.engine.ExecuteSale(sale.ID, buyer, big.NewInt(1000)); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestExecuteSaleOnlyOnce(t *testing.T) {
	env := newTestEnv(t)
	buyer := addrOf(2)
	sale := mustCreateSale(t, env, addrOf(1), AssetRef{TokenID: 1}, 1000)
	env.ledger.mint(testCurrency, buyer, 2000)

	if _, err := env.engine.ExecuteSale(sale.ID, buyer, big.NewInt(1000)); err != nil {
		t.Fatalf("first execution: %v", err)
	}
	if _, err := env.engine.ExecuteSale(sale.ID, buyer, big.NewInt(1000)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on re-execution, got %v", err)
	}
}

func TestExecuteSaleUnknownID(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.ExecuteSale(99, addrOf(2), big.NewInt(1000)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelSaleSellerOnly(t *testing.T) {
	env := newTestEnv(t)
	seller := addrOf(1)
	asset := AssetRef{TokenID: 9}
	sale := mustCreateSale(t, env, seller, asset, 500)

	if err := env.engine.CancelSale(sale.ID, addrOf(2)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := env.engine.CancelSale(sale.ID, seller); err != nil {
		t.Fatalf("seller cancel: %v", err)
	}
	if owner := env.assets.owner(asset); owner != seller {
		t.Fatalf("asset not returned, owner %x", owner)
	}
	stored, _ := env.state.SaleGet(sale.ID)
	if stored.State != StateCancelled {
		t.Fatalf("expected cancelled, got %s", stored.State)
	}
	if err := env.engine.CancelSale(sale.ID, seller); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on double cancel, got %v", err)
	}
}

func TestDistributeTransactionRecoversFundedSale(t *testing.T) {
	env := newTestEnv(t)
	seller := addrOf(1)
	buyer := addrOf(2)
	sale := mustCreateSale(t, env, seller, AssetRef{TokenID: 1}, 1000)

	// Simulate an execution interrupted after the deposit: funds are in
	// custody and the record is Funded.
	env.ledger.mint(testCurrency, env.vault, 1000)
	stored, _ := env.state.SaleGet(sale.ID)
	stored.Buyer = &buyer
	stored.State = StateFunded
	if err := env.state.SalePut(stored); err != nil {
		t.Fatalf("seed funded sale: %v", err)
	}

	dist, err := env.engine.DistributeTransaction(sale.ID)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if dist.PlatformFee.Cmp(big.NewInt(25)) != 0 || dist.SellerAmount.Cmp(big.NewInt(975)) != 0 {
		t.Fatalf("unexpected distribution %+v", dist)
	}
	if got := env.ledger.balance(testCurrency, seller); got.Cmp(big.NewInt(975)) != 0 {
		t.Fatalf("seller balance %s, want 975", got)
	}
	after, _ := env.state.SaleGet(sale.ID)
	if after.State != StateExecuted {
		t.Fatalf("expected executed, got %s", after.State)
	}
}

func TestDistributeTransactionRequiresFunded(t *testing.T) {
	env := newTestEnv(t)
	sale := mustCreateSale(t, env, addrOf(1), AssetRef{TokenID: 1}, 1000)
	if _, err := env.engine.DistributeTransaction(sale.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for pending sale, got %v", err)
	}
}
