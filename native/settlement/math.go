package settlement

import "math/big"

const bpsDenominator = 10_000

// Amounts are 128-bit signed quantities, matching the wire representation of
// the currency ledger. All arithmetic is bounds-checked before any state
// write so a failing computation leaves no partial mutation.
var (
	maxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minAmount = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

func inAmountRange(v *big.Int) bool {
	return v.Cmp(minAmount) >= 0 && v.Cmp(maxAmount) <= 0
}

func checkedAdd(a, b *big.Int) (*big.Int, error) {
	if a == nil || b == nil {
		return nil, ErrInvalidAmount
	}
	sum := new(big.Int).Add(a, b)
	if !inAmountRange(sum) {
		return nil, ErrOverflow
	}
	return sum, nil
}

func checkedSub(a, b *big.Int) (*big.Int, error) {
	if a == nil || b == nil {
		return nil, ErrInvalidAmount
	}
	diff := new(big.Int).Sub(a, b)
	if !inAmountRange(diff) {
		return nil, ErrOverflow
	}
	return diff, nil
}

func checkedMul(a, b *big.Int) (*big.Int, error) {
	if a == nil || b == nil {
		return nil, ErrInvalidAmount
	}
	prod := new(big.Int).Mul(a, b)
	if !inAmountRange(prod) {
		return nil, ErrOverflow
	}
	return prod, nil
}

// mulBps returns floor(amount * bps / 10000).
func mulBps(amount *big.Int, bps uint32) (*big.Int, error) {
	numerator, err := checkedMul(amount, big.NewInt(int64(bps)))
	if err != nil {
		return nil, err
	}
	return numerator.Quo(numerator, big.NewInt(bpsDenominator)), nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
