package dag

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

// TargetBytes is the width of a serialized mining target.
const TargetBytes = 32

var (
	two256     = new(big.Int).Exp(big.NewInt(2), big.NewInt(256), nil)
	maxUint256 = new(big.Int).Sub(two256, big.NewInt(1))

	// ErrZeroDifficulty is returned when a target is requested for zero
	// difficulty, which has no defined quotient.
	ErrZeroDifficulty = errors.New("zero difficulty")
)

// Target computes the 32-byte big-endian boundary 2^256 / difficulty. The
// difficulty is given as four little-endian 64-bit limbs, limb 0 least
// significant; difficulties above 2^51 occurred in practice, so the full
// 256-bit range is accepted. A difficulty of one saturates at 2^256 - 1, the
// widest value a 256-bit boundary can express.
func Target(difficulty [4]uint64) ([TargetBytes]byte, error) {
	var target [TargetBytes]byte

	d := new(big.Int)
	for i := 3; i >= 0; i-- {
		d.Lsh(d, 64)
		d.Or(d, new(big.Int).SetUint64(difficulty[i]))
	}
	if d.Sign() == 0 {
		return target, ErrZeroDifficulty
	}
	q := new(big.Int).Div(two256, d)
	if q.BitLen() > 256 {
		q.Set(maxUint256)
	}
	q.FillBytes(target[:])
	return target, nil
}

// BelowTarget reports whether a 32-byte pow result beats the target. Both are
// big-endian 256-bit magnitudes and the comparison is strict: a result equal
// to the boundary does not qualify, matching ethminer rather than the <=
// reading of the Python reference.
func BelowTarget(result, target []byte) bool {
	r := new(uint256.Int).SetBytes(result)
	t := new(uint256.Int).SetBytes(target)
	return r.Lt(t)
}
