package beats

import (
	"math"

	"audio-structure-analyzer/internal/config"
	"audio-structure-analyzer/internal/types"
)

// DSPTracker 确定性的节拍跟踪回退实现：
// 能量通量起始包络 → 自相关周期估计 → 动态规划节拍对齐。
// 在没有训练模型可用时替代神经节拍跟踪器。
type DSPTracker struct {
	cfg *config.AnalysisConfig
}

// NewDSPTracker 创建回退节拍跟踪器
func NewDSPTracker(cfg *config.AnalysisConfig) *DSPTracker {
	return &DSPTracker{cfg: cfg}
}

// Track 返回节拍时间和小节内节拍序号。静音信号返回空结果。
func (t *DSPTracker) Track(w *types.Waveform) ([]float64, []int, error) {
	hop := t.cfg.HopLength
	envelope := onsetEnvelope(w.Samples, hop)
	if len(envelope) == 0 {
		return nil, nil, nil
	}

	total := 0.0
	for _, v := range envelope {
		total += v
	}
	if total <= 0 {
		// 没有任何起始能量，视为无节拍
		return nil, nil, nil
	}

	framesPerSec := float64(w.SampleRate) / float64(hop)
	period := t.estimatePeriod(envelope, framesPerSec)
	if period <= 0 {
		return nil, nil, nil
	}

	beatFrames := alignBeats(envelope, period)
	if len(beatFrames) == 0 {
		return nil, nil, nil
	}

	times := make([]float64, len(beatFrames))
	numbers := make([]int, len(beatFrames))
	for i, f := range beatFrames {
		times[i] = float64(f) / framesPerSec
		numbers[i] = (i % t.cfg.TimeSignature) + 1
	}
	return times, numbers, nil
}

// onsetEnvelope 帧能量的半波整流差分
func onsetEnvelope(samples []float64, hop int) []float64 {
	if len(samples) == 0 {
		return nil
	}
	frameCount := (len(samples) + hop - 1) / hop
	energy := make([]float64, frameCount)
	for i := 0; i < frameCount; i++ {
		lo := i * hop
		hi := lo + hop
		if hi > len(samples) {
			hi = len(samples)
		}
		sum := 0.0
		for j := lo; j < hi; j++ {
			sum += samples[j] * samples[j]
		}
		energy[i] = math.Sqrt(sum / float64(hi-lo))
	}

	envelope := make([]float64, frameCount)
	for i := 1; i < frameCount; i++ {
		d := energy[i] - energy[i-1]
		if d > 0 {
			envelope[i] = d
		}
	}
	return envelope
}

// estimatePeriod 在 [tempo_min, tempo_max] 对应的滞后范围内
// 自相关取最大值，返回节拍周期（帧）
func (t *DSPTracker) estimatePeriod(envelope []float64, framesPerSec float64) int {
	minLag := int(math.Floor(60.0 / t.cfg.TempoMaxBPM * framesPerSec))
	maxLag := int(math.Ceil(60.0 / t.cfg.TempoMinBPM * framesPerSec))
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= len(envelope) {
		maxLag = len(envelope) - 1
	}
	if maxLag < minLag {
		return 0
	}

	bestLag, bestCorr := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		corr := 0.0
		for i := lag; i < len(envelope); i++ {
			corr += envelope[i] * envelope[i-lag]
		}
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}
	return bestLag
}

// 动态规划对齐的周期偏离惩罚强度
const dpTightness = 100.0

// alignBeats 动态规划节拍对齐：最大化起始包络能量之和，
// 同时惩罚相邻节拍间隔对估计周期的对数偏离
func alignBeats(envelope []float64, period int) []int {
	n := len(envelope)
	score := make([]float64, n)
	backlink := make([]int, n)
	for i := range backlink {
		backlink[i] = -1
	}

	windowLo := period / 2
	windowHi := period * 2
	for i := 0; i < n; i++ {
		score[i] = envelope[i]
		bestPrev, bestScore := -1, math.Inf(-1)
		for j := i - windowHi; j <= i-windowLo; j++ {
			if j < 0 {
				continue
			}
			interval := float64(i - j)
			logRatio := math.Log(interval / float64(period))
			s := score[j] - dpTightness*logRatio*logRatio
			if s > bestScore {
				bestScore = s
				bestPrev = j
			}
		}
		if bestPrev >= 0 {
			score[i] += bestScore
			backlink[i] = bestPrev
		}
	}

	// 从最后一个周期窗口内的最优帧回溯
	tail := n - period
	if tail < 0 {
		tail = 0
	}
	best := tail
	for i := tail; i < n; i++ {
		if score[i] > score[best] {
			best = i
		}
	}

	var reversed []int
	for i := best; i >= 0; i = backlink[i] {
		reversed = append(reversed, i)
		if backlink[i] < 0 {
			break
		}
	}

	beats := make([]int, len(reversed))
	for i, f := range reversed {
		beats[len(reversed)-1-i] = f
	}
	return beats
}
