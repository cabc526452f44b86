package performance

import (
	"math"

	"github.com/shopspring/decimal"
)

// Benchmark names the fixed comparison set from spec.md section 4.6.
type Benchmark string

const (
	BenchmarkBTC        Benchmark = "btc"
	BenchmarkETH        Benchmark = "eth"
	BenchmarkSP500Proxy Benchmark = "sp500_proxy"
	BenchmarkDeFiIndex  Benchmark = "defi_index"
)

// BenchmarkDailyReturnPct are the fixed external constants spec.md section
// 4.6 calls for ("a fixed set of benchmarks... exposed as external
// constants"). No live market-data feed is in scope (spec.md section 1),
// so each benchmark is a flat assumed daily return rather than a fetched
// series; comparisons below still yield meaningful excess-return figures
// against that flat rate.
var BenchmarkDailyReturnPct = map[Benchmark]decimal.Decimal{
	BenchmarkBTC:        decimal.NewFromFloat(0.15),
	BenchmarkETH:        decimal.NewFromFloat(0.18),
	BenchmarkSP500Proxy: decimal.NewFromFloat(0.03),
	BenchmarkDeFiIndex:  decimal.NewFromFloat(0.25),
}

// Comparison is one benchmark's alpha/beta/tracking-error/information-ratio
// against a strategy's daily return series.
type Comparison struct {
	Benchmark        Benchmark
	Alpha            decimal.Decimal
	Beta             decimal.Decimal
	TrackingError    decimal.Decimal
	InformationRatio decimal.Decimal
}

// CompareAgainstBenchmarks computes a Comparison per benchmark from a
// strategy's daily PnL percentage series. Beta is 0 against a flat
// benchmark (zero variance makes classic covariance/variance beta
// undefined), so alpha reduces to the simple excess return over the
// benchmark's flat rate.
func CompareAgainstBenchmarks(daily []DailyPoint) []Comparison {
	if len(daily) == 0 {
		return nil
	}
	returns := make([]float64, len(daily))
	for i, d := range daily {
		returns[i] = mustFloat(d.PnLPct)
	}
	meanReturn := sum(returns) / float64(len(returns))

	comparisons := make([]Comparison, 0, len(BenchmarkDailyReturnPct))
	for _, b := range []Benchmark{BenchmarkBTC, BenchmarkETH, BenchmarkSP500Proxy, BenchmarkDeFiIndex} {
		benchRate := mustFloat(BenchmarkDailyReturnPct[b])
		excess := make([]float64, len(returns))
		for i, r := range returns {
			excess[i] = r - benchRate
		}
		meanExcess := sum(excess) / float64(len(excess))
		trackingVariance := 0.0
		for _, e := range excess {
			trackingVariance += (e - meanExcess) * (e - meanExcess)
		}
		trackingVariance /= float64(len(excess))
		trackingError := math.Sqrt(trackingVariance)

		infoRatio := 0.0
		if trackingError > 0 {
			infoRatio = meanExcess / trackingError
		}

		comparisons = append(comparisons, Comparison{
			Benchmark:        b,
			Alpha:            decimal.NewFromFloat(meanReturn - benchRate),
			Beta:             decimal.Zero,
			TrackingError:    decimal.NewFromFloat(trackingError),
			InformationRatio: decimal.NewFromFloat(infoRatio),
		})
	}
	return comparisons
}
