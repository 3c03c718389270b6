package selector

import (
	"cmp"
	"slices"
)

// feeRateSelect puts the transactions paying the most per byte first. Equal
// densities keep their admission order.
var feeRateSelect = func(candidates []Candidate) {
	slices.SortFunc(candidates, Denser)
}

// oldestSelect puts the transactions in admission order, ignoring fees.
var oldestSelect = func(candidates []Candidate) {
	slices.SortFunc(candidates, func(a, b Candidate) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
}
