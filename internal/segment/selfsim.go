package segment

import (
	"math"
	"sort"

	"audio-structure-analyzer/internal/config"
)

// SelfSimStrategy 自相似棋盘核策略：
// 节拍同步特征的自相似矩阵沿对角线与棋盘核卷积，峰值即边界。
type SelfSimStrategy struct{}

func (s *SelfSimStrategy) Name() string { return config.StrategySelfSim }

func (s *SelfSimStrategy) Scored() bool { return true }

func (s *SelfSimStrategy) InitialPercentile(params *config.BoundaryParams) float64 {
	return params.SelfSimPercentile
}

// MinSpacing 以节拍为单位的间距换算为秒（节拍间隔取中位数）
func (s *SelfSimStrategy) MinSpacing(ctx *Context, params *config.BoundaryParams) float64 {
	gap := medianBeatGap(ctx.BeatTimes)
	if gap <= 0 {
		return params.MinSpacingSeconds
	}
	return float64(params.SelfSimSpacingBeats) * gap
}

func (s *SelfSimStrategy) Candidates(ctx *Context, params *config.BoundaryParams) ([]Candidate, error) {
	kernel := params.SelfSimKernelBeats
	beatFeatures := beatSyncFeatures(ctx)
	if len(beatFeatures) < 2*kernel+2 {
		// 节拍太少，无法放下棋盘核
		return nil, nil
	}

	n := len(beatFeatures)
	sim := make([][]float64, n)
	for i := range sim {
		sim[i] = make([]float64, n)
		for j := range sim[i] {
			sim[i][j] = cosineSim(beatFeatures[i], beatFeatures[j])
		}
	}

	novelty := checkerboardNovelty(sim, kernel)

	var cands []Candidate
	for i := 1; i < n-1; i++ {
		if novelty[i] > novelty[i-1] && novelty[i] >= novelty[i+1] && novelty[i] > 0 {
			cands = append(cands, Candidate{Time: ctx.BeatTimes[i], Score: novelty[i]})
		}
	}
	return cands, nil
}

// checkerboardNovelty 沿自相似矩阵对角线做高斯锥化棋盘核卷积
func checkerboardNovelty(sim [][]float64, kernel int) []float64 {
	n := len(sim)
	sigma := float64(kernel) / 2
	novelty := make([]float64, n)

	for i := 0; i < n; i++ {
		sum := 0.0
		for u := -kernel; u < kernel; u++ {
			for v := -kernel; v < kernel; v++ {
				iu, iv := i+u, i+v
				if iu < 0 || iu >= n || iv < 0 || iv >= n {
					continue
				}
				// 同侧象限为 +，异侧为 -
				sign := 1.0
				if (float64(u)+0.5)*(float64(v)+0.5) < 0 {
					sign = -1.0
				}
				taper := math.Exp(-(float64(u*u) + float64(v*v)) / (2 * sigma * sigma))
				sum += sign * taper * sim[iu][iv]
			}
		}
		if sum > 0 {
			novelty[i] = sum
		}
	}
	return novelty
}

// beatSyncFeatures 按节拍区间聚合帧特征（音色与音级向量拼接后取均值）
func beatSyncFeatures(ctx *Context) [][]float64 {
	m := ctx.Features
	beats := ctx.BeatTimes
	out := make([][]float64, 0, len(beats))

	for i, start := range beats {
		end := ctx.Duration
		if i+1 < len(beats) {
			end = beats[i+1]
		}
		lo, hi := frameSlice(start, end, m.SampleRate, m.HopLength, m.FrameCount())

		var dim int
		if m.FrameCount() > 0 {
			dim = len(m.Timbre[0]) + len(m.Chroma[0])
		}
		vec := make([]float64, dim)
		count := 0
		for f := lo; f < hi; f++ {
			for k, v := range m.Timbre[f] {
				vec[k] += v
			}
			for k, v := range m.Chroma[f] {
				vec[len(m.Timbre[f])+k] += v
			}
			count++
		}
		if count > 0 {
			for k := range vec {
				vec[k] /= float64(count)
			}
		}
		out = append(out, vec)
	}
	return out
}

// frameSlice 时间窗口 [start, end) 对应的帧下标区间，至少一帧
func frameSlice(start, end float64, sampleRate, hop, frameCount int) (int, int) {
	lo := int(math.Floor(start * float64(sampleRate) / float64(hop)))
	hi := int(math.Ceil(end * float64(sampleRate) / float64(hop)))
	if lo < 0 {
		lo = 0
	}
	if lo >= frameCount {
		lo = frameCount - 1
	}
	if hi <= lo {
		hi = lo + 1
	}
	if hi > frameCount {
		hi = frameCount
	}
	if lo < 0 {
		lo = 0
	}
	return lo, hi
}

func cosineSim(a, b []float64) float64 {
	dot, na, nb := 0.0, 0.0, 0.0
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// medianBeatGap 相邻节拍间隔的中位数；不足两拍返回 0
func medianBeatGap(beats []float64) float64 {
	if len(beats) < 2 {
		return 0
	}
	gaps := make([]float64, 0, len(beats)-1)
	for i := 1; i < len(beats); i++ {
		gaps = append(gaps, beats[i]-beats[i-1])
	}
	sort.Float64s(gaps)
	mid := len(gaps) / 2
	if len(gaps)%2 == 1 {
		return gaps[mid]
	}
	return (gaps[mid-1] + gaps[mid]) / 2
}
