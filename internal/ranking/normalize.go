package ranking

import "math"

// Normalizer maps a set of raw sub-score values onto [0,1]. Selecting the
// function is a per-model config choice rather than a hardcoded core
// behavior.
type Normalizer func(values []float64) []float64

// normalizers is the registry of available normalization strategies,
// looked up by model config's Normalizer field.
var normalizers = map[string]Normalizer{
	"minmax":  minMaxNormalize,
	"rank":    rankNormalize,
	"logclip": logClipNormalize,
}

func normalizerFor(name string) Normalizer {
	if n, ok := normalizers[name]; ok {
		return n
	}
	return minMaxNormalize
}

// minMaxNormalize rescales values linearly into [0,1]. A flat input set
// (all equal) normalizes to all-zero rather than dividing by zero.
func minMaxNormalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	spread := max - min
	if spread == 0 {
		return out
	}
	for i, v := range values {
		out[i] = (v - min) / spread
	}
	return out
}

// rankNormalize converts each value to its percentile rank among the set,
// robust to outliers at the cost of discarding magnitude information.
func rankNormalize(values []float64) []float64 {
	n := len(values)
	out := make([]float64, n)
	if n <= 1 {
		return out
	}
	type idxVal struct {
		idx int
		val float64
	}
	sorted := make([]idxVal, n)
	for i, v := range values {
		sorted[i] = idxVal{i, v}
	}
	for i := 1; i < n; i++ {
		for j := i; j > 0 && sorted[j].val < sorted[j-1].val; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	for rank, iv := range sorted {
		out[iv.idx] = float64(rank) / float64(n-1)
	}
	return out
}

// logClipNormalize applies log1p compression before min-max scaling,
// useful for heavy-tailed engagement counts.
func logClipNormalize(values []float64) []float64 {
	logged := make([]float64, len(values))
	for i, v := range values {
		if v < 0 {
			v = 0
		}
		logged[i] = math.Log1p(v)
	}
	return minMaxNormalize(logged)
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
