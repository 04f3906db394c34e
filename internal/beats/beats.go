package beats

import (
	"audio-structure-analyzer/internal/types"
)

// Tracker 节拍定位能力接口。
// 契约：返回非空升序的节拍时间和平行的小节内节拍序号（1 起始）。
type Tracker interface {
	Track(w *types.Waveform) (times []float64, numbers []int, err error)
}

// Locate 调用跟踪器并兜底：空结果替换为 t=0 的单个节拍（序号 1），
// 保证下游量化器始终至少有一个节拍。
func Locate(t Tracker, w *types.Waveform, timeSignature int) ([]float64, []int, error) {
	times, numbers, err := t.Track(w)
	if err != nil {
		return nil, nil, err
	}
	if len(times) == 0 {
		return []float64{0}, []int{1}, nil
	}
	if len(numbers) != len(times) {
		// 序号缺失时按拍号循环补齐
		if timeSignature < 1 {
			timeSignature = 1
		}
		numbers = make([]int, len(times))
		for i := range numbers {
			numbers[i] = (i % timeSignature) + 1
		}
	}
	return times, numbers, nil
}
