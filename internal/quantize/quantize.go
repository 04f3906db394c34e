package quantize

import (
	"sort"

	"audio-structure-analyzer/internal/types"
)

// 去重时视为同一时刻的间隔
const dedupeEps = 1e-6

// MakeQuanta 从起点序列构造时间量子：每个量子延伸到下一个起点，
// 最后一个延伸到轨长。confidence 为 nil 时省略置信度。
func MakeQuanta(starts []float64, duration float64, confidence []float64) []types.Quantum {
	quanta := make([]types.Quantum, 0, len(starts))
	for i, start := range starts {
		end := duration
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		d := end - start
		if d < 0 {
			d = 0
		}
		q := types.Quantum{Start: start, Duration: d}
		if confidence != nil && i < len(confidence) {
			c := confidence[i]
			q.Confidence = &c
		}
		quanta = append(quanta, q)
	}
	return quanta
}

// Beats 节拍量子序列，置信度恒为 1
func Beats(beatTimes []float64, duration float64) []types.Quantum {
	return MakeQuanta(beatTimes, duration, ones(len(beatTimes)))
}

// BarStarts 小节起点：节拍序号为 1 的子序列；
// 没有任何强拍时强制第一个节拍作为小节起点。
func BarStarts(beatTimes []float64, beatNumbers []int) []float64 {
	var starts []float64
	for i, t := range beatTimes {
		if i < len(beatNumbers) && beatNumbers[i] == 1 {
			starts = append(starts, t)
		}
	}
	if len(starts) == 0 && len(beatTimes) > 0 {
		starts = []float64{beatTimes[0]}
	}
	return starts
}

// Bars 小节量子序列
func Bars(beatTimes []float64, beatNumbers []int, duration float64) []types.Quantum {
	starts := BarStarts(beatTimes, beatNumbers)
	return MakeQuanta(starts, duration, ones(len(starts)))
}

// Tatums 每个节拍区间均分为 perBeat 份，全轨去重排序
func Tatums(beatTimes []float64, duration float64, perBeat int) []types.Quantum {
	if perBeat < 1 {
		perBeat = 1
	}
	var starts []float64
	for i, beat := range beatTimes {
		next := duration
		if i+1 < len(beatTimes) {
			next = beatTimes[i+1]
		}
		beatDur := next - beat
		if beatDur < 0 {
			beatDur = 0
		}
		for t := 0; t < perBeat; t++ {
			starts = append(starts, beat+beatDur*float64(t)/float64(perBeat))
		}
	}

	sort.Float64s(starts)
	var dedup []float64
	for _, t := range starts {
		if len(dedup) == 0 || t-dedup[len(dedup)-1] > dedupeEps {
			dedup = append(dedup, t)
		}
	}
	return MakeQuanta(dedup, duration, ones(len(dedup)))
}

// Tempo 相邻节拍间隔的 60/Δt 中位数；不足两拍返回 0
func Tempo(beatTimes []float64) float64 {
	var tempos []float64
	for i := 1; i < len(beatTimes); i++ {
		dt := beatTimes[i] - beatTimes[i-1]
		if dt > 0 {
			tempos = append(tempos, 60.0/dt)
		}
	}
	if len(tempos) == 0 {
		return 0
	}
	sort.Float64s(tempos)
	mid := len(tempos) / 2
	if len(tempos)%2 == 1 {
		return tempos[mid]
	}
	return (tempos[mid-1] + tempos[mid]) / 2
}

// Sections 乐章量子序列：边界列表中除末尾轨长外的每个边界是一个起点
func Sections(bounds []float64, duration float64) []types.Quantum {
	starts := interiorStarts(bounds, duration)
	return MakeQuanta(starts, duration, ones(len(starts)))
}

// interiorStarts 去掉与轨长重合的收尾边界，其余作为量子起点
func interiorStarts(bounds []float64, duration float64) []float64 {
	var starts []float64
	for _, b := range bounds {
		if duration-b <= dedupeEps && len(starts) > 0 {
			continue
		}
		starts = append(starts, b)
	}
	return starts
}

// SegmentWindows 段落边界转为 [start, end) 窗口对
func SegmentWindows(bounds []float64, duration float64) [][2]float64 {
	starts := interiorStarts(bounds, duration)
	windows := make([][2]float64, 0, len(starts))
	for i, start := range starts {
		end := duration
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		windows = append(windows, [2]float64{start, end})
	}
	return windows
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
