package chain

import (
	"fmt"
	"math/big"
)

// Rounding selects the direction amount-by-price multiplication rounds.
// Every call site states its direction explicitly; which side a fill favors
// is consensus behavior, not a detail.
type Rounding int

const (
	RoundDown Rounding = iota
	RoundUp
)

// Price is an exact exchange rate between two assets, expressed as the
// rational Base.Amount / Quote.Amount. Comparisons and multiplications go
// through 128-bit intermediates; nothing is ever truncated implicitly.
type Price struct {
	Base  AssetAmount `json:"base"`
	Quote AssetAmount `json:"quote"`
}

// NewPrice builds a price from explicit components.
func NewPrice(base, quote AssetAmount) Price {
	return Price{Base: base, Quote: quote}
}

// IsNull reports whether the price carries no rate. Null prices mark absent
// feeds and cleared settlement state.
func (p Price) IsNull() bool {
	return p.Base.Amount == 0 && p.Quote.Amount == 0
}

// Valid reports whether both components are positive and the assets differ.
func (p Price) Valid() bool {
	return p.Base.Amount > 0 && p.Quote.Amount > 0 && p.Base.Asset != p.Quote.Asset
}

// Invert swaps base and quote.
func (p Price) Invert() Price {
	return Price{Base: p.Quote, Quote: p.Base}
}

func (p Price) String() string {
	return fmt.Sprintf("%d[%d]/%d[%d]", p.Base.Amount, p.Base.Asset, p.Quote.Amount, p.Quote.Asset)
}

// cross multiplies a.Base*b.Quote and b.Base*a.Quote in 128 bits.
func cross(a, b Price) (lhs, rhs *big.Int) {
	lhs = new(big.Int).Mul(big.NewInt(a.Base.Amount), big.NewInt(b.Quote.Amount))
	rhs = new(big.Int).Mul(big.NewInt(b.Base.Amount), big.NewInt(a.Quote.Amount))
	return lhs, rhs
}

// Less orders prices over the same asset pair.
func (p Price) Less(other Price) bool {
	lhs, rhs := cross(p, other)
	return lhs.Cmp(rhs) < 0
}

// LessEq reports p <= other.
func (p Price) LessEq(other Price) bool {
	lhs, rhs := cross(p, other)
	return lhs.Cmp(rhs) <= 0
}

// Equal reports exact rational equality.
func (p Price) Equal(other Price) bool {
	lhs, rhs := cross(p, other)
	return lhs.Cmp(rhs) == 0
}

// Greater reports p > other.
func (p Price) Greater(other Price) bool { return other.Less(p) }

// GreaterEq reports p >= other.
func (p Price) GreaterEq(other Price) bool { return other.LessEq(p) }

// mulDivFloor returns floor(a*b/d) using a 128-bit intermediate.
func mulDivFloor(a, b, d int64) int64 {
	num := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	num.Quo(num, big.NewInt(d))
	return num.Int64()
}

// mulDivCeil returns ceil(a*b/d) using a 128-bit intermediate.
func mulDivCeil(a, b, d int64) int64 {
	num := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	den := big.NewInt(d)
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Int64()
}

// Mul converts an amount of one side of the pair into the other at this
// price, rounding in the stated direction.
func (p Price) Mul(a AssetAmount, round Rounding) AssetAmount {
	if a.Asset == p.Base.Asset {
		if round == RoundUp {
			return AssetAmount{Amount: mulDivCeil(a.Amount, p.Quote.Amount, p.Base.Amount), Asset: p.Quote.Asset}
		}
		return AssetAmount{Amount: mulDivFloor(a.Amount, p.Quote.Amount, p.Base.Amount), Asset: p.Quote.Asset}
	}
	if a.Asset == p.Quote.Asset {
		if round == RoundUp {
			return AssetAmount{Amount: mulDivCeil(a.Amount, p.Base.Amount, p.Quote.Amount), Asset: p.Base.Asset}
		}
		return AssetAmount{Amount: mulDivFloor(a.Amount, p.Base.Amount, p.Quote.Amount), Asset: p.Base.Asset}
	}
	panic(fmt.Sprintf("price %v cannot convert asset %d", p, a.Asset))
}

// MulRatio multiplies the price by num/den, reducing components so they
// stay below MaxShareSupply.
func (p Price) MulRatio(num, den int64) Price {
	if p.IsNull() {
		return p
	}
	bn := new(big.Int).Mul(big.NewInt(p.Base.Amount), big.NewInt(num))
	qn := new(big.Int).Mul(big.NewInt(p.Quote.Amount), big.NewInt(den))
	bn, qn = reduceRational(bn, qn)
	return Price{
		Base:  AssetAmount{Amount: bn.Int64(), Asset: p.Base.Asset},
		Quote: AssetAmount{Amount: qn.Int64(), Asset: p.Quote.Asset},
	}
}

// reduceRational halves both components until they fit MaxShareSupply.
// The +1 keeps zero out of the denominator and mirrors the reference
// behavior of shifting toward a slightly conservative rate.
func reduceRational(n, d *big.Int) (*big.Int, *big.Int) {
	limit := big.NewInt(MaxShareSupply)
	one := big.NewInt(1)
	for n.Cmp(limit) > 0 || d.Cmp(limit) > 0 {
		n.Rsh(n, 1)
		n.Add(n, one)
		d.Rsh(d, 1)
		d.Add(d, one)
	}
	return n, d
}

// CallPrice is the legacy cached trigger price of a margin position: the
// price at which collateral/debt falls to the given maintenance ratio,
// expressed in collateral/debt terms.
func CallPrice(debt, collateral AssetAmount, maintenanceRatio uint16) Price {
	// collateral / (debt * ratio / CollateralRatioDenom)
	n := new(big.Int).Mul(big.NewInt(collateral.Amount), big.NewInt(CollateralRatioDenom))
	d := new(big.Int).Mul(big.NewInt(debt.Amount), big.NewInt(int64(maintenanceRatio)))
	n, d = reduceRational(n, d)
	return Price{
		Base:  AssetAmount{Amount: n.Int64(), Asset: collateral.Asset},
		Quote: AssetAmount{Amount: d.Int64(), Asset: debt.Asset},
	}
}
