package consensus

import (
	"errors"
	"math/bits"

	"github.com/btpc/node/foundation/blockchain/genesis"
)

// Subsidy returns the newly minted amount a block at height may claim. The
// reward decays linearly from the initial reward to the tail emission over
// the decay period and stays at the tail emission afterwards. Only integer
// arithmetic is used so every node computes the same value for any height,
// including the largest.
func Subsidy(height uint64, p genesis.Params) uint64 {
	if height >= p.DecayBlocks || p.InitialReward <= p.TailEmission {
		return p.TailEmission
	}

	// decrease = (initial - tail) * height / decayBlocks over 128 bits. The
	// high word is below decayBlocks since height is, so Div64 can't panic.
	span := p.InitialReward - p.TailEmission
	hi, lo := bits.Mul64(span, height)
	decrease, _ := bits.Div64(hi, lo, p.DecayBlocks)

	return p.InitialReward - decrease
}

// TotalSupply returns the amount minted by the blocks at heights zero
// through height.
func TotalSupply(height uint64, p genesis.Params) (uint64, error) {
	var total uint64
	var carry uint64

	last := height
	if p.DecayBlocks > 0 && last >= p.DecayBlocks {
		last = p.DecayBlocks - 1
	}

	if p.DecayBlocks > 0 {
		for h := uint64(0); h <= last; h++ {
			total, carry = bits.Add64(total, Subsidy(h, p), 0)
			if carry != 0 {
				return 0, errors.New("total supply overflows")
			}
		}
	}

	if height < p.DecayBlocks {
		return total, nil
	}

	tailBlocks := height - p.DecayBlocks + 1
	if tailBlocks == 0 {
		return 0, errors.New("total supply overflows")
	}

	hi, tail := bits.Mul64(tailBlocks, p.TailEmission)
	if hi != 0 {
		return 0, errors.New("total supply overflows")
	}

	total, carry = bits.Add64(total, tail, 0)
	if carry != 0 {
		return 0, errors.New("total supply overflows")
	}

	return total, nil
}
