package types

// Protocol is the closed set of DeFi protocols the engine can target.
type Protocol string

const (
	ProtocolAave         Protocol = "aave"
	ProtocolCompound     Protocol = "compound"
	ProtocolUniswapV2    Protocol = "uniswap_v2"
	ProtocolUniswapV3    Protocol = "uniswap_v3"
	ProtocolSushiSwap    Protocol = "sushiswap"
	ProtocolCurve        Protocol = "curve"
	ProtocolRaydium      Protocol = "raydium"
	ProtocolJupiter      Protocol = "jupiter"
	ProtocolQuickSwap    Protocol = "quickswap"
	ProtocolPancakeSwap  Protocol = "pancakeswap"
	ProtocolTraderJoe    Protocol = "traderjoe"
)

// ProtocolKind buckets a protocol by its dominant mechanism.
type ProtocolKind string

const (
	ProtocolKindLending ProtocolKind = "lending"
	ProtocolKindAMM     ProtocolKind = "amm"
)

var protocolKinds = map[Protocol]ProtocolKind{
	ProtocolAave:        ProtocolKindLending,
	ProtocolCompound:    ProtocolKindLending,
	ProtocolUniswapV2:   ProtocolKindAMM,
	ProtocolUniswapV3:   ProtocolKindAMM,
	ProtocolSushiSwap:   ProtocolKindAMM,
	ProtocolCurve:       ProtocolKindAMM,
	ProtocolRaydium:     ProtocolKindAMM,
	ProtocolJupiter:     ProtocolKindAMM,
	ProtocolQuickSwap:   ProtocolKindAMM,
	ProtocolPancakeSwap: ProtocolKindAMM,
	ProtocolTraderJoe:   ProtocolKindAMM,
}

// Kind returns the protocol's mechanism bucket.
func (p Protocol) Kind() (ProtocolKind, bool) {
	k, ok := protocolKinds[p]
	return k, ok
}

// Valid reports whether p is a recognized protocol.
func (p Protocol) Valid() bool {
	_, ok := protocolKinds[p]
	return ok
}

// ProtocolInstance is per-instance protocol metadata — a pool, a lending
// market — identified by protocol + chain + an opaque pool id supplied by
// the adapter layer.
type ProtocolInstance struct {
	Protocol Protocol `json:"protocol"`
	Chain    ChainId  `json:"chain"`
	PoolID   string   `json:"poolId"`
}
