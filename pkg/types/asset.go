package types

// Asset identifies a token on a particular chain. Identity is the
// (Symbol, Chain) pair, not the contract address — two assets with the
// same symbol on different chains are distinct.
type Asset struct {
	Symbol          string  `json:"symbol"`
	Name            string  `json:"name"`
	Chain           ChainId `json:"chain"`
	ContractAddress Address `json:"contractAddress,omitempty"`
	Decimals        int32   `json:"decimals"`
	IsNative        bool    `json:"isNative"`
}

// Key returns the asset's identity key.
func (a Asset) Key() AssetKey {
	return AssetKey{Symbol: a.Symbol, Chain: a.Chain}
}

// AssetKey is the (symbol, chain) identity pair used to look up assets in
// maps without pulling in the full Asset struct.
type AssetKey struct {
	Symbol string
	Chain  ChainId
}
