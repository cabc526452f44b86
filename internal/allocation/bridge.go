package allocation

import (
	"github.com/shopspring/decimal"

	"github.com/defrost-labs/strategy-engine/pkg/types"
)

// bridgeTier buckets a chain pair by how exotic the crossing is, which sets
// the base cost and variable rate in the bridge cost model (spec.md section
// 4.5: "base ranges from $3 (L2<->L2) to $50 (exotic cross-chain)").
type bridgeTier struct {
	baseCostUSD   decimal.Decimal
	variableRate  decimal.Decimal
}

var (
	tierL2ToL2   = bridgeTier{baseCostUSD: decimal.NewFromInt(3), variableRate: decimal.NewFromFloat(0.0005)}
	tierL1ToL2   = bridgeTier{baseCostUSD: decimal.NewFromInt(12), variableRate: decimal.NewFromFloat(0.001)}
	tierExotic   = bridgeTier{baseCostUSD: decimal.NewFromInt(50), variableRate: decimal.NewFromFloat(0.003)}
)

// BridgeCost returns the deterministic cost of bridging amount onto
// destination chain, under base_cost(src,dst) + amount*variable_rate(dst).
// The source chain is implicitly "wherever the user's idle capital sits";
// only the destination chain's profile determines the tier, since that is
// the chain actually being bridged into.
func BridgeCost(destination types.ChainId, amount decimal.Decimal) decimal.Decimal {
	tier := bridgeTierFor(destination)
	return tier.baseCostUSD.Add(amount.Mul(tier.variableRate))
}

func bridgeTierFor(chain types.ChainId) bridgeTier {
	profile, ok := chain.Profile()
	if !ok {
		return tierExotic
	}
	switch {
	case profile.IsEvmL2:
		return tierL2ToL2
	case profile.NativeVolatility == types.VolatilityEvmL1:
		return tierL1ToL2
	default:
		return tierExotic
	}
}

// etaFor estimates a per-step ETA as chain-settlement-latency + bridge-time
// (spec.md section 4.5, "execution order"). Bridge time is a flat estimate
// per tier since no live bridge-quote feed is in scope.
func etaFor(chain types.ChainId) int64 {
	profile, ok := chain.Profile()
	settlement := int64(60)
	if ok {
		settlement = profile.SettlementLatencySeconds
	}
	tier := bridgeTierFor(chain)
	bridgeTime := int64(30)
	if tier.baseCostUSD.Equal(tierExotic.baseCostUSD) {
		bridgeTime = 900
	} else if tier.baseCostUSD.Equal(tierL1ToL2.baseCostUSD) {
		bridgeTime = 300
	}
	return settlement + bridgeTime
}

// ChainCorrelation is a static pairwise correlation table between chains'
// native-asset price movements, consulted by the optimizer's
// diversification scoring so two highly-correlated L2s aren't treated as
// independent bets (supplemental, SPEC_FULL.md section D.3 — not in
// spec.md's distilled section 4.5, additive per its Non-goals).
var ChainCorrelation = map[types.ChainId]map[types.ChainId]decimal.Decimal{
	types.ChainEthereum: {
		types.ChainArbitrum: decimal.NewFromFloat(0.95),
		types.ChainOptimism: decimal.NewFromFloat(0.95),
		types.ChainBase:     decimal.NewFromFloat(0.93),
		types.ChainPolygon:  decimal.NewFromFloat(0.80),
		types.ChainAvalanche: decimal.NewFromFloat(0.70),
		types.ChainBSC:      decimal.NewFromFloat(0.65),
		types.ChainSolana:   decimal.NewFromFloat(0.55),
		types.ChainSonic:    decimal.NewFromFloat(0.50),
		types.ChainBitcoin:  decimal.NewFromFloat(0.60),
	},
	types.ChainArbitrum: {
		types.ChainOptimism: decimal.NewFromFloat(0.97),
		types.ChainBase:     decimal.NewFromFloat(0.95),
	},
	types.ChainOptimism: {
		types.ChainBase: decimal.NewFromFloat(0.95),
	},
	types.ChainSolana: {
		types.ChainSonic: decimal.NewFromFloat(0.60),
	},
}

// Correlation looks up the symmetric correlation between two chains,
// defaulting to 0.4 (moderate, uncorrelated-but-not-independent) for any
// pair not in the table, and 1.0 for a chain against itself.
func Correlation(a, b types.ChainId) decimal.Decimal {
	if a == b {
		return decimal.NewFromInt(1)
	}
	if row, ok := ChainCorrelation[a]; ok {
		if v, ok := row[b]; ok {
			return v
		}
	}
	if row, ok := ChainCorrelation[b]; ok {
		if v, ok := row[a]; ok {
			return v
		}
	}
	return decimal.NewFromFloat(0.4)
}
