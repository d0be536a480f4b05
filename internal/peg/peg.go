package peg

import (
	"math"
	"math/big"
)

// Peg constants. The peg is fixed at 10 BLOOM = 1 BTC and is not
// market-driven; every conversion in the system derives from these.
const (
	SatsPerBTC   int64 = 100_000_000
	BloomPerBTC  int64 = 10
	SatsPerBloom int64 = SatsPerBTC / BloomPerBTC // 10,000,000
)

// RoundingMode selects the direction integer division rounds.
type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
)

// mulSats multiplies a BLOOM amount by SatsPerBloom using big.Int so the
// intermediate cannot overflow. Saturates at MaxInt64, which over-states
// required collateral — the conservative direction.
func mulSats(bloom int64) int64 {
	r := new(big.Int).Mul(big.NewInt(bloom), big.NewInt(SatsPerBloom))
	if !r.IsInt64() {
		return math.MaxInt64
	}
	return r.Int64()
}

// BloomToSats returns the satoshi value of a BLOOM amount. Redemption
// value rounds down: the protocol never owes more Bitcoin than is backed.
func BloomToSats(bloom int64) int64 {
	if bloom <= 0 {
		return 0
	}
	return mulSats(bloom)
}

// SatsToBloom returns the BLOOM amount a satoshi value can back,
// rounded down.
func SatsToBloom(sats int64) int64 {
	if sats <= 0 {
		return 0
	}
	return sats / SatsPerBloom
}

// RequiredSats returns the collateral needed to back totalBloom outstanding.
// Required collateral rounds up so integer truncation can never let
// issuance exceed collateral. With an integer SatsPerBloom the product is
// exact, but the rounding contract is part of the API.
func RequiredSats(totalBloom int64) int64 {
	if totalBloom <= 0 {
		return 0
	}
	return mulSats(totalBloom)
}

// MaxRedeemableBloom returns the largest BLOOM amount that can be redeemed
// against lockedSats without exceeding either the proven reserve or the
// outstanding supply.
func MaxRedeemableBloom(lockedSats, outstandingBloom int64) int64 {
	byReserve := SatsToBloom(lockedSats)
	if outstandingBloom < byReserve {
		return max64(outstandingBloom, 0)
	}
	return byReserve
}

// CollateralizationRatio returns lockedSats divided by the satoshi value of
// the outstanding supply. Zero outstanding supply is defined as +Inf, not
// an error: an empty system is trivially fully reserved.
func CollateralizationRatio(lockedSats, outstandingBloom int64) float64 {
	if outstandingBloom <= 0 {
		return math.Inf(1)
	}
	return float64(lockedSats) / float64(RequiredSats(outstandingBloom))
}

// IsFullyReserved reports whether the collateralization ratio is at least 1.0.
func IsFullyReserved(lockedSats, outstandingBloom int64) bool {
	if outstandingBloom <= 0 {
		return true
	}
	return lockedSats >= RequiredSats(outstandingBloom)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
