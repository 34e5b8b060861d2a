package indicator

import (
	"math"
	"sort"

	"liqsweep-bot/internal/binance"
)

// ATR calculates the average true range over the last period bars.
// Returns 0 when fewer than two candles are available.
func ATR(klines []binance.Kline, period int) float64 {
	if len(klines) < 2 {
		return 0
	}
	if period <= 0 {
		period = 14
	}

	start := len(klines) - period
	if start < 1 {
		start = 1
	}

	sum := 0.0
	count := 0
	for i := start; i < len(klines); i++ {
		high := klines[i].High
		low := klines[i].Low
		prevClose := klines[i-1].Close

		tr := high - low
		if d := math.Abs(high - prevClose); d > tr {
			tr = d
		}
		if d := math.Abs(low - prevClose); d > tr {
			tr = d
		}
		sum += tr
		count++
	}

	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// Donchian returns the channel extremes over the last period bars
func Donchian(klines []binance.Kline, period int) (high, low float64) {
	if len(klines) == 0 {
		return 0, 0
	}
	start := len(klines) - period
	if start < 0 {
		start = 0
	}

	high = klines[start].High
	low = klines[start].Low
	for _, k := range klines[start:] {
		if k.High > high {
			high = k.High
		}
		if k.Low < low {
			low = k.Low
		}
	}
	return high, low
}

// Percentile computes the p-th percentile of values with linear
// interpolation between closest ranks. The input is not modified.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	frac := rank - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// Mean returns the arithmetic mean of values, 0 for an empty slice
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Returns computes simple close-to-close returns from a candle series
func Returns(klines []binance.Kline) []float64 {
	if len(klines) < 2 {
		return nil
	}
	out := make([]float64, 0, len(klines)-1)
	for i := 1; i < len(klines); i++ {
		prev := klines[i-1].Close
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (klines[i].Close-prev)/prev)
	}
	return out
}

// Correlation returns the Pearson correlation of two equal-length series,
// 0 when either series is degenerate.
func Correlation(a, b []float64) float64 {
	n := len(a)
	if n == 0 || n != len(b) {
		return 0
	}

	meanA := Mean(a)
	meanB := Mean(b)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}

	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
