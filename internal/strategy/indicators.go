package strategy

import "math"

// RSI is the Wilder-smoothed relative strength index of closes. It reports
// false when there are fewer than period+1 points.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	n := float64(period)
	avgGain /= n
	avgLoss /= n
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*(n-1) + gain) / n
		avgLoss = (avgLoss*(n-1) + loss) / n
	}
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// BollingerBands is the SMA of the last period closes plus and minus numStd
// population standard deviations.
func BollingerBands(closes []float64, period int, numStd float64) (lower, middle, upper float64, ok bool) {
	if period <= 0 || len(closes) < period {
		return 0, 0, 0, false
	}
	window := closes[len(closes)-period:]
	for _, c := range window {
		middle += c
	}
	n := float64(period)
	middle /= n
	var variance float64
	for _, c := range window {
		variance += (c - middle) * (c - middle)
	}
	offset := math.Sqrt(variance/n) * numStd
	return middle - offset, middle, middle + offset, true
}
