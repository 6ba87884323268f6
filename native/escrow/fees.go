package escrow

import (
	"fmt"

	"github.com/holiman/uint256"
)

const (
	// BpsDenominator expresses basis points.
	BpsDenominator = 10_000
	// OpenPeerFeeBps is the partner referral fee rate recorded on each order.
	OpenPeerFeeBps = 30
	// DefaultDisputeStake is the native amount charged to open a dispute and
	// paid out twice on resolution.
	DefaultDisputeStake = 5_000_000
	// MinSellerWaitingTime and MaxSellerWaitingTime bound the seller's
	// cancellation window, in seconds.
	MinSellerWaitingTime = 15 * 60
	MaxSellerWaitingTime = 24 * 60 * 60
)

// Params holds the engine-wide economic constants.
type Params struct {
	DisputeStake   uint64
	OpenPeerFeeBps uint64
	MinWaitingTime int64
	MaxWaitingTime int64
}

// DefaultParams returns the production parameters.
func DefaultParams() Params {
	return Params{
		DisputeStake:   DefaultDisputeStake,
		OpenPeerFeeBps: OpenPeerFeeBps,
		MinWaitingTime: MinSellerWaitingTime,
		MaxWaitingTime: MaxSellerWaitingTime,
	}
}

// Validate checks the parameters for internal consistency.
func (p Params) Validate() error {
	if p.OpenPeerFeeBps > BpsDenominator {
		return fmt.Errorf("escrow: open peer fee bps %d exceeds %d", p.OpenPeerFeeBps, BpsDenominator)
	}
	if p.MinWaitingTime <= 0 {
		return fmt.Errorf("escrow: minimum waiting time must be positive")
	}
	if p.MaxWaitingTime < p.MinWaitingTime {
		return fmt.Errorf("escrow: maximum waiting time %d below minimum %d", p.MaxWaitingTime, p.MinWaitingTime)
	}
	return nil
}

// ComputeFee returns amount*bps/10000 rounded down. The intermediate product is
// computed in 256 bits so only a result exceeding uint64 fails.
func ComputeFee(amount, bps uint64) (uint64, error) {
	product := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(bps))
	fee := product.Div(product, uint256.NewInt(BpsDenominator))
	if !fee.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return fee.Uint64(), nil
}

func addAmounts(a, b uint64) (uint64, error) {
	sum, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow || !sum.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return sum.Uint64(), nil
}
