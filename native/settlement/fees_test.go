package settlement

import (
	"errors"
	"math/big"
	"testing"
)

func TestTakePlatformFee(t *testing.T) {
	cases := []struct {
		name  string
		cfg   FeeConfig
		price int64
		want  int64
	}{
		{"plain bps", FeeConfig{PlatformFeeBps: 250}, 1000, 25},
		{"floor rounding", FeeConfig{PlatformFeeBps: 250}, 101, 2},
		{"minimum clamp", FeeConfig{PlatformFeeBps: 250, MinimumFee: big.NewInt(50)}, 1000, 50},
		{"maximum clamp", FeeConfig{PlatformFeeBps: 250, MaximumFee: big.NewInt(10)}, 1000, 10},
		{"zero maximum disables clamp", FeeConfig{PlatformFeeBps: 250, MaximumFee: big.NewInt(0)}, 1000, 25},
		{"fee capped at price", FeeConfig{PlatformFeeBps: 100, MinimumFee: big.NewInt(500)}, 100, 100},
		{"zero bps", FeeConfig{}, 1000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fee, err := TakePlatformFee(&tc.cfg, big.NewInt(tc.price))
			if err != nil {
				t.Fatalf("fee: %v", err)
			}
			if fee.Cmp(big.NewInt(tc.want)) != 0 {
				t.Fatalf("fee %s, want %d", fee, tc.want)
			}
		})
	}
}

func TestTakePlatformFeeErrors(t *testing.T) {
	if _, err := TakePlatformFee(nil, big.NewInt(100)); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := TakePlatformFee(&FeeConfig{}, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestApplyDynamicDiscountPicksLargest(t *testing.T) {
	tiers := []VolumeTier{
		{MinVolume: big.NewInt(100), DiscountBps: 100},
		{MinVolume: big.NewInt(500), DiscountBps: 3000},
		{MinVolume: big.NewInt(2000), DiscountBps: 5000},
	}
	// Price 1000 qualifies for the first two tiers; the larger discount wins
	// regardless of tier order.
	fee, err := ApplyDynamicDiscount(big.NewInt(1000), big.NewInt(1000), tiers)
	if err != nil {
		t.Fatalf("discount: %v", err)
	}
	if fee.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("discounted fee %s, want 700", fee)
	}

	// Below every tier the base fee is untouched.
	fee, err = ApplyDynamicDiscount(big.NewInt(50), big.NewInt(1000), tiers)
	if err != nil {
		t.Fatalf("discount: %v", err)
	}
	if fee.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("fee %s, want 1000", fee)
	}
}

func TestDynamicDiscountFeedsDistribution(t *testing.T) {
	env := newTestEnv(t)
	cfg := defaultFeeConfig()
	cfg.DynamicFeeEnabled = true
	cfg.VolumeDiscounts = []VolumeTier{{MinVolume: big.NewInt(500), DiscountBps: 5000}}
	if err := env.engine.UpdateFeeConfig(env.admin, cfg); err != nil {
		t.Fatalf("update config: %v", err)
	}
	seller := addrOf(1)
	buyer := addrOf(2)
	sale := mustCreateSale(t, env, seller, AssetRef{TokenID: 1}, 1000)
	env.ledger.mint(testCurrency, buyer, 1000)

	if _, err := env.engine.ExecuteSale(sale.ID, buyer, big.NewInt(1000)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	// Base fee 25, discount floor(25*5000/10000)=12, effective fee 13; the
	// seller remainder absorbs the discount so the split still conserves
	// the price.
	if got := env.ledger.balance(testCurrency, seller); got.Cmp(big.NewInt(987)) != 0 {
		t.Fatalf("seller balance %s, want 987", got)
	}
	accrued, _ := env.state.PlatformFeesGet(testCurrency)
	if accrued.Cmp(big.NewInt(13)) != 0 {
		t.Fatalf("accrued fees %s, want 13", accrued)
	}
}

func TestVIPExemption(t *testing.T) {
	env := newTestEnv(t)
	buyer := addrOf(2)
	cfg := defaultFeeConfig()
	cfg.VIPExemptions = [][20]byte{buyer}
	if err := env.engine.UpdateFeeConfig(env.admin, cfg); err != nil {
		t.Fatalf("update config: %v", err)
	}
	seller := addrOf(1)
	sale := mustCreateSale(t, env, seller, AssetRef{TokenID: 1}, 1000)
	env.ledger.mint(testCurrency, buyer, 1000)

	if _, err := env.engine.ExecuteSale(sale.ID, buyer, big.NewInt(1000)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := env.ledger.balance(testCurrency, seller); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("VIP trade must charge no fee, seller balance %s", got)
	}
	accrued, _ := env.state.PlatformFeesGet(testCurrency)
	if accrued.Sign() != 0 {
		t.Fatalf("accrued fees %s, want 0", accrued)
	}
}

func TestWithdrawPlatformFees(t *testing.T) {
	env := newTestEnv(t)
	buyer := addrOf(2)
	recipient := addrOf(0xFE)
	sale := mustCreateSale(t, env, addrOf(1), AssetRef{TokenID: 1}, 1000)
	env.ledger.mint(testCurrency, buyer, 1000)
	if _, err := env.engine.ExecuteSale(sale.ID, buyer, big.NewInt(1000)); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if err := env.engine.WithdrawPlatformFees(addrOf(9), testCurrency, big.NewInt(10)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := env.engine.WithdrawPlatformFees(recipient, testCurrency, big.NewInt(100)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount above accrued balance, got %v", err)
	}
	if err := env.engine.WithdrawPlatformFees(recipient, testCurrency, big.NewInt(10)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := env.ledger.balance(testCurrency, recipient); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("recipient balance %s, want 10", got)
	}
	remaining, _ := env.state.PlatformFeesGet(testCurrency)
	if remaining.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("remaining accrual %s, want 15", remaining)
	}
	if !env.emitter.contains(EventTypeFeesWithdrawn) {
		t.Fatalf("missing withdrawal event, got %v", env.emitter.eventTypes())
	}
}
