// hash.go - MiMC commitments over tally data.
//
// The upstream tallier publishes Com(totalSpent, salt) before revealing the
// preimage; Seal checks the revealed pair against it. Root folds the whole
// sealed snapshot into a single digest for events and audit logs.

package tally

import (
	"math/big"

	fr "github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	mimc "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
)

// TotalSpentCommitment computes Com(totalSpent, salt) = MiMC(totalSpent || salt).
func TotalSpentCommitment(totalSpent, salt *big.Int) []byte {
	h := mimc.NewMiMC()
	h.Write(fieldBytes(totalSpent))
	h.Write(fieldBytes(salt))
	return h.Sum(nil)
}

// Root returns the MiMC digest of the full sealed snapshot: every recipient's
// spent voice credits and quadratic tally in slot order, then the attested
// total and salt.
func (c *Commitment) Root() ([]byte, error) {
	if !c.sealed {
		return nil, ErrNotSealed
	}
	h := mimc.NewMiMC()
	for i := uint64(0); i < c.capacity; i++ {
		h.Write(fieldBytes(c.spent[i]))
		h.Write(fieldBytes(c.votes[i]))
	}
	h.Write(fieldBytes(c.totalSpent))
	h.Write(fieldBytes(c.totalSpentSalt))
	return h.Sum(nil), nil
}

// fieldBytes encodes v as one canonical MiMC field element so every Write is
// exactly one hash block regardless of the integer's magnitude.
func fieldBytes(v *big.Int) []byte {
	var e fr.Element
	e.SetBigInt(v)
	b := e.Bytes()
	return b[:]
}
