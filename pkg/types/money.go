package types

import (
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Address is a chain-native wallet or contract address. Solana and Bitcoin
// addresses are base58/bech32 strings; EVM chains use 0x-hex. The type is
// kept as a plain string at rest (wire/storage format) and validated through
// chain-specific helpers rather than forced into a single binary encoding.
type Address string

// EVMChecksum validates and checksums a hex address using go-ethereum's
// EIP-55 implementation. Only meaningful for EVM chains; callers must check
// ChainId.Profile().IsEvmL2 or ChainEthereum/ChainBSC/... before calling.
func (a Address) EVMChecksum() (Address, error) {
	if !ethcommon.IsHexAddress(string(a)) {
		return "", fmt.Errorf("types: %q is not a valid hex address", a)
	}
	return Address(ethcommon.HexToAddress(string(a)).Hex()), nil
}

// OnchainAmount is a quantity expressed in integer minor units (e.g. wei,
// lamports, satoshis) plus the asset's decimal exponent, so it reconciles
// exactly with on-chain integer amounts. Conversion to decimal.Decimal is
// for display and analytics. The ProtocolAdapter interface does not take
// this type: EstimateGas receives the step amount as a float64 USD value
// and Submit receives signed bytes and a string client nonce.
type OnchainAmount struct {
	Minor    int64 `json:"minor"`
	Decimals int32 `json:"decimals"`
}

// NewOnchainAmount builds a minor-unit amount from a USD/asset decimal
// quantity and the asset's decimal exponent, rounding down (never rounding
// up an amount that will be submitted on-chain).
func NewOnchainAmount(amount decimal.Decimal, decimals int32) OnchainAmount {
	scaled := amount.Shift(decimals).Truncate(0)
	return OnchainAmount{Minor: scaled.IntPart(), Decimals: decimals}
}

// Decimal converts back to a display/analytics decimal.Decimal.
func (o OnchainAmount) Decimal() decimal.Decimal {
	return decimal.NewFromInt(o.Minor).Shift(-o.Decimals)
}

// IsZero reports whether the amount is zero minor units.
func (o OnchainAmount) IsZero() bool {
	return o.Minor == 0
}

// Add returns o+other. Both must share the same Decimals exponent; callers
// are responsible for rescaling mixed-decimal amounts before combining them.
func (o OnchainAmount) Add(other OnchainAmount) OnchainAmount {
	return OnchainAmount{Minor: o.Minor + other.Minor, Decimals: o.Decimals}
}
