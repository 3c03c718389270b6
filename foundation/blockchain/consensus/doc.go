// Package consensus implements the rules every node applies to blocks and
// transactions: structure, signatures, values, time and conflicts. Checks
// are pure functions of the block or transaction and an explicit context
// resolved from the chain, so two nodes given the same inputs always reach
// the same verdict and report the same rule.
package consensus
