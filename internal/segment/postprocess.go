package segment

import (
	"fmt"
	"math"
	"sort"

	"audio-structure-analyzer/internal/config"
	"audio-structure-analyzer/internal/types"
)

// 去重时视为同一时刻的间隔
const dedupeEps = 1e-6

// postprocess 所有策略共享的后处理：百分位筛选、间距约束、
// 吸附、外边界补全和迭代率匹配。对每个层级只实现一次。
func postprocess(strategy Strategy, cands []Candidate, ctx *Context, params *config.BoundaryParams) ([]float64, []types.Warning) {
	var warnings []types.Warning
	minGap := strategy.MinSpacing(ctx, params)

	pick := func(pct float64) []float64 {
		times := selectByPercentile(cands, pct)
		return enforceSpacing(times, minGap)
	}

	var times []float64
	if !strategy.Scored() {
		// 无得分策略直接使用全部候选，只做间距约束
		all := make([]float64, len(cands))
		for i, c := range cands {
			all[i] = c.Time
		}
		times = enforceSpacing(all, minGap)
	} else if params.TargetRate != nil && ctx.Duration > 0 {
		times, warnings = matchRate(pick, strategy.InitialPercentile(params), *params.TargetRate, params.TargetRateTolerance, params.RateIterationCap, ctx.Duration)
	} else {
		times = pick(strategy.InitialPercentile(params))
	}

	times = snapTimes(times, ctx.BeatTimes, params.SnapBeatWindowS)
	times = snapTimes(times, ctx.BarTimes, params.SnapBarWindowS)

	return finalize(times, ctx.Duration, params.IncludeBounds), warnings
}

// matchRate 迭代收紧或放宽百分位阈值，直到边界率落入容差范围
// 或达到迭代上限；上限处接受最接近目标的结果。
func matchRate(pick func(float64) []float64, startPct, targetRate, tolerance float64, iterCap int, duration float64) ([]float64, []types.Warning) {
	if iterCap <= 0 {
		iterCap = 1
	}

	lo, hi := 0.0, 100.0
	pct := startPct
	var best []float64
	bestDiff := math.Inf(1)
	bestRate := 0.0

	for iter := 0; iter < iterCap; iter++ {
		times := pick(pct)
		rate := float64(len(times)) / duration
		diff := math.Abs(rate - targetRate)
		if diff < bestDiff {
			bestDiff = diff
			best = times
			bestRate = rate
		}
		if diff <= tolerance*targetRate {
			return times, nil
		}
		// 阈值越高边界越少；率偏高则收紧，偏低则放宽
		if rate > targetRate {
			lo = pct
		} else {
			hi = pct
		}
		pct = (lo + hi) / 2
	}

	return best, []types.Warning{{
		Code:    types.WarnRateUnreachable,
		Message: fmt.Sprintf("率匹配达到迭代上限，目标 %.3f/s，接受最近值 %.3f/s", targetRate, bestRate),
	}}
}

// selectByPercentile 保留得分不低于百分位阈值的候选时刻
func selectByPercentile(cands []Candidate, pct float64) []float64 {
	if len(cands) == 0 {
		return nil
	}
	scores := make([]float64, len(cands))
	for i, c := range cands {
		scores[i] = c.Score
	}
	threshold := Percentile(scores, pct)

	var times []float64
	for _, c := range cands {
		if c.Score >= threshold {
			times = append(times, c.Time)
		}
	}
	sort.Float64s(times)
	return times
}

// Percentile 线性插值百分位数（与 numpy.percentile 一致）
func Percentile(values []float64, pct float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if pct <= 0 {
		return sorted[0]
	}
	if pct >= 100 {
		return sorted[len(sorted)-1]
	}
	pos := pct / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// enforceSpacing 按升序扫描，丢弃与上一保留边界间距不足的时刻
func enforceSpacing(times []float64, minGap float64) []float64 {
	if minGap <= 0 || len(times) == 0 {
		return times
	}
	sorted := make([]float64, len(times))
	copy(sorted, times)
	sort.Float64s(sorted)

	out := sorted[:1]
	for _, t := range sorted[1:] {
		if t-out[len(out)-1] >= minGap {
			out = append(out, t)
		}
	}
	return out
}

// snapTimes 将每个边界吸附到窗口内最近的网格点（节拍或小节线）
func snapTimes(times, grid []float64, window float64) []float64 {
	if window <= 0 || len(grid) == 0 {
		return times
	}
	out := make([]float64, len(times))
	for i, t := range times {
		// grid 升序，二分找最近点
		idx := sort.SearchFloat64s(grid, t)
		nearest := t
		bestDist := math.Inf(1)
		for _, j := range []int{idx - 1, idx} {
			if j < 0 || j >= len(grid) {
				continue
			}
			if d := math.Abs(grid[j] - t); d < bestDist {
				bestDist = d
				nearest = grid[j]
			}
		}
		if bestDist <= window {
			out[i] = nearest
		} else {
			out[i] = t
		}
	}
	return out
}

// finalize 去重、排序、裁剪到 [0, duration]；
// includeBounds 时强制补全 t=0 和轨长两个外边界。
// 起点 0 总是保留，否则量子序列无法覆盖整轨。
func finalize(times []float64, duration float64, includeBounds bool) []float64 {
	var all []float64
	for _, t := range times {
		if t < 0 {
			t = 0
		}
		if t > duration {
			t = duration
		}
		all = append(all, t)
	}
	all = append(all, 0)
	if includeBounds {
		all = append(all, duration)
	}
	sort.Float64s(all)

	var out []float64
	for _, t := range all {
		if len(out) == 0 || t-out[len(out)-1] > dedupeEps {
			out = append(out, t)
		}
	}
	return out
}
