package features

import (
	"math"

	"audio-structure-analyzer/internal/types"
)

// Novelty 由音色/音级/响度的帧间变化合成新颖度曲线。
// 各分量按整轨最大变化量归一化后求和，再做滑动平均平滑；结果恒非负。
func Novelty(m *types.FrameFeatureMatrix, smoothFrames int) []float64 {
	n := m.FrameCount()
	if n == 0 {
		return nil
	}

	timbreDelta := make([]float64, n)
	chromaDelta := make([]float64, n)
	loudDelta := make([]float64, n)

	for i := 1; i < n; i++ {
		timbreDelta[i] = euclidean(m.Timbre[i], m.Timbre[i-1])
		chromaDelta[i] = euclidean(m.Chroma[i], m.Chroma[i-1])
		loudDelta[i] = math.Abs(m.Loudness[i] - m.Loudness[i-1])
	}

	normalizeMax(timbreDelta)
	normalizeMax(chromaDelta)
	normalizeMax(loudDelta)

	novelty := make([]float64, n)
	for i := 0; i < n; i++ {
		novelty[i] = timbreDelta[i] + chromaDelta[i] + loudDelta[i]
	}

	return Smooth(novelty, smoothFrames)
}

// Smooth 滑动平均平滑，窗口居中；window <= 1 时原样返回
func Smooth(curve []float64, window int) []float64 {
	if window <= 1 || len(curve) == 0 {
		return curve
	}
	half := window / 2
	out := make([]float64, len(curve))
	for i := range curve {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half + 1
		if hi > len(curve) {
			hi = len(curve)
		}
		sum := 0.0
		for j := lo; j < hi; j++ {
			sum += curve[j]
		}
		out[i] = sum / float64(hi-lo)
	}
	return out
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// normalizeMax 就地按最大值归一化；全零时不变
func normalizeMax(values []float64) {
	maxVal := 0.0
	for _, v := range values {
		if v > maxVal {
			maxVal = v
		}
	}
	if maxVal > 0 {
		for i := range values {
			values[i] /= maxVal
		}
	}
}
