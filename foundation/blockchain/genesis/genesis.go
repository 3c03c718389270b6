// Package genesis maintains the protocol parameters of each network and
// builds the genesis block they start from.
package genesis

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/btpc/node/foundation/blockchain/database"
	"github.com/btpc/node/foundation/blockchain/difficulty"
	"github.com/btpc/node/foundation/blockchain/merkle"
	"github.com/btpc/node/foundation/blockchain/signature"
	"github.com/btpc/node/foundation/validate"
)

// Set of network names.
const (
	NetworkMain    = "main"
	NetworkTest    = "test"
	NetworkRegtest = "regtest"
)

// Params represents the consensus parameters of a network.
type Params struct {
	Name   string `json:"name" validate:"required,oneof=main test regtest"`
	ForkID uint8  `json:"fork_id"`

	// Difficulty and timestamps.
	PowLimitBits       uint32           `json:"pow_limit_bits" validate:"required"`
	RetargetInterval   uint64           `json:"retarget_interval" validate:"required"`
	TargetSpacing      uint64           `json:"target_spacing" validate:"required"`
	MinAdjustment      difficulty.Ratio `json:"min_adjustment"`
	MaxAdjustment      difficulty.Ratio `json:"max_adjustment"`
	NoRetargeting      bool             `json:"no_retargeting"`
	MedianTimeSpan     int              `json:"median_time_span" validate:"required,min=1,max=101"`
	MaxFutureBlockTime uint64           `json:"max_future_block_time" validate:"required"`
	MinBlockSpacing    uint64           `json:"min_block_spacing"`

	// Size and shape limits.
	MaxBlockSize  int    `json:"max_block_size" validate:"required,gtfield=MaxTxSize"`
	MaxTxSize     int    `json:"max_tx_size" validate:"required,min=200"`
	MaxTxInputs   int    `json:"max_tx_inputs" validate:"required"`
	MaxTxOutputs  int    `json:"max_tx_outputs" validate:"required"`
	MaxTxVersion  uint32 `json:"max_tx_version" validate:"required"`
	MinFeePerByte uint64 `json:"min_fee_per_byte"`

	// Money.
	CoinbaseMaturity uint64 `json:"coinbase_maturity"`
	MaxMoney         uint64 `json:"max_money" validate:"required,gtefield=InitialReward"`
	InitialReward    uint64 `json:"initial_reward" validate:"required,gtefield=TailEmission"`
	TailEmission     uint64 `json:"tail_emission" validate:"required"`
	DecayBlocks      uint64 `json:"decay_blocks" validate:"required"`

	// Genesis block.
	GenesisTimeStamp uint64 `json:"genesis_timestamp" validate:"required"`
	GenesisNonce     uint64 `json:"genesis_nonce"`
	GenesisMessage   string `json:"genesis_message" validate:"max=100"`
}

// Emission schedule shared by every network.
const (
	blocksPerYear = 52_596
	decayYears    = 24
	initialReward = 3_237_500_000
	tailEmission  = 50_000_000

	// maxMoney is the supply after the decay plus a thousand years of
	// tail emission.
	maxMoney = decayYears*blocksPerYear*(initialReward+tailEmission)/2 + 1000*blocksPerYear*tailEmission
)

func base() Params {
	return Params{
		RetargetInterval:   2016,
		TargetSpacing:      600,
		MinAdjustment:      difficulty.Ratio{Num: 1, Den: 4},
		MaxAdjustment:      difficulty.Ratio{Num: 4, Den: 1},
		MedianTimeSpan:     11,
		MaxFutureBlockTime: 7200,
		MinBlockSpacing:    60,
		CoinbaseMaturity:   100,
		MaxBlockSize:       1_000_000,
		MaxTxSize:          100_000,
		MaxTxInputs:        1000,
		MaxTxOutputs:       1000,
		MaxTxVersion:       1,
		MinFeePerByte:      1,
		MaxMoney:           maxMoney,
		InitialReward:      initialReward,
		TailEmission:       tailEmission,
		DecayBlocks:        decayYears * blocksPerYear,
	}
}

// Main returns the parameters of the main network.
func Main() Params {
	p := base()
	p.Name = NetworkMain
	p.ForkID = 0
	p.PowLimitBits = 0x3e00ffff
	p.GenesisTimeStamp = 1735689600
	p.GenesisMessage = "btpc main: quantum resistant proof of work"
	return p
}

// Test returns the parameters of the public test network.
func Test() Params {
	p := base()
	p.Name = NetworkTest
	p.ForkID = 1
	p.PowLimitBits = 0x3f0fffff
	p.GenesisTimeStamp = 1759614480
	p.GenesisMessage = "btpc test"
	return p
}

// Regtest returns the parameters of the local regression network. There is
// no retargeting and no minimum spacing so blocks can be mined on demand.
func Regtest() Params {
	p := base()
	p.Name = NetworkRegtest
	p.ForkID = 2
	p.PowLimitBits = 0x407fffff
	p.NoRetargeting = true
	p.MinBlockSpacing = 0
	p.GenesisTimeStamp = 1760842137
	p.GenesisMessage = "btpc regtest"
	return p
}

// ForNetwork returns the built-in parameters for the named network.
func ForNetwork(name string) (Params, error) {
	switch name {
	case NetworkMain:
		return Main(), nil
	case NetworkTest:
		return Test(), nil
	case NetworkRegtest:
		return Regtest(), nil
	}

	return Params{}, fmt.Errorf("network %q does not exist", name)
}

// =============================================================================

// Load opens and consumes a parameters file. The file names the network it
// starts from and overrides any of that network's fields.
func Load(path string) (Params, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Params{}, err
	}

	var hdr struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(content, &hdr); err != nil {
		return Params{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	params, err := ForNetwork(hdr.Name)
	if err != nil {
		return Params{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := json.Unmarshal(content, &params); err != nil {
		return Params{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := params.Validate(); err != nil {
		return Params{}, fmt.Errorf("validating %s: %w", path, err)
	}

	return params, nil
}

// Validate checks the parameters are usable. Field level problems are
// reported as validate.FieldErrors.
func (p Params) Validate() error {
	if err := validate.Check(p); err != nil {
		return err
	}

	one := difficulty.Ratio{Num: 1, Den: 1}
	switch {
	case p.MinAdjustment.Den == 0 || p.MaxAdjustment.Den == 0:
		return errors.New("adjustment ratios need a non-zero denominator")
	case p.MinAdjustment.Num == 0:
		return errors.New("minimum adjustment must be positive")
	case p.MinAdjustment.Cmp(one) > 0 || p.MaxAdjustment.Cmp(one) < 0:
		return fmt.Errorf("adjustment bounds %s and %s must surround 1/1", p.MinAdjustment, p.MaxAdjustment)
	}

	limit, err := difficulty.TargetFromCompact(p.PowLimitBits)
	if err != nil {
		return fmt.Errorf("pow limit: %w", err)
	}
	if err := limit.Validate(); err != nil {
		return fmt.Errorf("pow limit: %w", err)
	}

	if _, err := p.Rules().TargetTimespan(); err != nil {
		return err
	}

	return nil
}

// Rules returns the difficulty engine view of the parameters. The
// parameters are expected to have been validated.
func (p Params) Rules() difficulty.Rules {
	limit, _ := difficulty.TargetFromCompact(p.PowLimitBits)

	var minTarget difficulty.Target
	minTarget[difficulty.TargetSize-1] = 1

	return difficulty.Rules{
		PowLimit:           limit,
		MinTarget:          minTarget,
		RetargetInterval:   p.RetargetInterval,
		TargetSpacing:      p.TargetSpacing,
		MinAdjustment:      p.MinAdjustment,
		MaxAdjustment:      p.MaxAdjustment,
		NoRetargeting:      p.NoRetargeting,
		MedianTimeSpan:     p.MedianTimeSpan,
		MaxFutureBlockTime: p.MaxFutureBlockTime,
		MinBlockSpacing:    p.MinBlockSpacing,
	}
}

// =============================================================================

// Block builds the genesis block. Its single output is locked to a key
// hash nobody holds the preimage of, so the genesis reward is never spent.
// The genesis block is trusted by hash and is not held to proof of work.
func (p Params) Block() (database.Block, error) {
	coinbase := database.NewCoinbase(0, []byte(p.GenesisMessage), []database.TxOut{
		{
			Value: p.InitialReward,
			Lock:  database.LockCondition{Scheme: signature.MLDSA65},
		},
	}, p.ForkID)

	trans := []database.Tx{coinbase}

	root, err := merkle.Root(trans)
	if err != nil {
		return database.Block{}, err
	}

	block := database.Block{
		Header: database.BlockHeader{
			Version:    1,
			MerkleRoot: root,
			TimeStamp:  p.GenesisTimeStamp,
			Bits:       p.PowLimitBits,
			Nonce:      p.GenesisNonce,
		},
		Trans: trans,
	}

	return block, nil
}
