package summarize

import (
	"math"

	"audio-structure-analyzer/internal/config"
	"audio-structure-analyzer/internal/types"
)

// 新颖度动态范围小于该值时置信度取默认 0.5
const noveltyEps = 1e-6

// Summarizer 段落特征汇总器：把帧级特征聚合为每段的
// 音色/音高向量和响度/置信度标量。
type Summarizer struct {
	cfg        *config.AnalysisConfig
	features   *types.FrameFeatureMatrix
	novelty    []float64
	noveltyMin float64
	noveltyMax float64
}

// NewSummarizer 创建汇总器；新颖度的整轨极值只算一次
func NewSummarizer(cfg *config.AnalysisConfig, m *types.FrameFeatureMatrix, novelty []float64) *Summarizer {
	s := &Summarizer{cfg: cfg, features: m, novelty: novelty}
	if len(novelty) > 0 {
		s.noveltyMin, s.noveltyMax = novelty[0], novelty[0]
		for _, v := range novelty {
			if v < s.noveltyMin {
				s.noveltyMin = v
			}
			if v > s.noveltyMax {
				s.noveltyMax = v
			}
		}
	}
	return s
}

// Summarize 汇总一个 [start, end) 窗口为段落
func (s *Summarizer) Summarize(start, end float64) types.Segment {
	m := s.features
	lo, hi := frameSlice(start, end, m.SampleRate, m.HopLength, m.FrameCount())

	seg := types.Segment{
		Start:    start,
		Duration: math.Max(0, end-start),
		Pitches:  make([]float64, 12),
		Timbre:   make([]float64, 12),
	}
	if m.FrameCount() == 0 || lo >= hi {
		seg.Confidence = 0.5
		return seg
	}

	seg.Timbre = s.timbreVector(lo, hi)
	seg.Pitches = s.pitchVector(lo, hi)

	// 响度：窗口首帧、最大值和最大值相对窗口起点的偏移
	seg.LoudnessStart = m.Loudness[lo]
	maxIdx := lo
	for f := lo; f < hi; f++ {
		if m.Loudness[f] > m.Loudness[maxIdx] {
			maxIdx = f
		}
	}
	seg.LoudnessMax = m.Loudness[maxIdx]
	seg.LoudnessMaxTime = m.FrameTimes[maxIdx] - start
	if seg.LoudnessMaxTime < 0 {
		seg.LoudnessMaxTime = 0
	}

	seg.Confidence = s.confidence(lo)
	return seg
}

// timbreVector 窗口平均音色系数中的非第 0 号系数，不足 12 个补零
func (s *Summarizer) timbreVector(lo, hi int) []float64 {
	m := s.features
	dim := len(m.Timbre[lo])
	mean := make([]float64, dim)
	for f := lo; f < hi; f++ {
		for k, v := range m.Timbre[f] {
			mean[k] += v
		}
	}
	for k := range mean {
		mean[k] /= float64(hi - lo)
	}

	out := make([]float64, 12)
	if dim >= 13 {
		// 第 0 号系数只反映总能量，跳过
		copy(out, mean[1:13])
	} else {
		copy(out, mean)
	}
	if s.cfg.TimbreScale != 0 && s.cfg.TimbreScale != 1 {
		for k := range out {
			out[k] *= s.cfg.TimbreScale
		}
	}
	return out
}

// pitchVector 窗口平均音级能量按窗口最大值归一化；静音窗口为全零
func (s *Summarizer) pitchVector(lo, hi int) []float64 {
	m := s.features
	mean := make([]float64, 12)
	for f := lo; f < hi; f++ {
		for k, v := range m.Chroma[f] {
			mean[k] += v
		}
	}
	maxVal := 0.0
	for k := range mean {
		mean[k] /= float64(hi - lo)
		if mean[k] > maxVal {
			maxVal = mean[k]
		}
	}
	if maxVal > 0 {
		for k := range mean {
			mean[k] /= maxVal
		}
	}
	return mean
}

// confidence 窗口起始帧的新颖度按整轨范围最小-最大归一化；
// 整轨新颖度动态范围过小时取 0.5
func (s *Summarizer) confidence(lo int) float64 {
	if len(s.novelty) == 0 || s.noveltyMax-s.noveltyMin < noveltyEps {
		return 0.5
	}
	idx := lo
	if idx >= len(s.novelty) {
		idx = len(s.novelty) - 1
	}
	c := (s.novelty[idx] - s.noveltyMin) / (s.noveltyMax - s.noveltyMin)
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}

// frameSlice 时间窗口对应的帧下标区间，至少一帧
func frameSlice(start, end float64, sampleRate, hop, frameCount int) (int, int) {
	lo := int(math.Floor(start * float64(sampleRate) / float64(hop)))
	hi := int(math.Ceil(end * float64(sampleRate) / float64(hop)))
	if lo < 0 {
		lo = 0
	}
	if frameCount == 0 {
		return 0, 0
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
	return lo, hi
}
