package calibrate

import (
	"fmt"
	"math"

	"audio-structure-analyzer/internal/config"
	"audio-structure-analyzer/internal/types"
)

// Applier 校准应用器：把离线拟合的修正映射应用到汇总后的段落上。
// 模型为 nil 时完全直通。字段顺序固定：
// 音色 → 响度 → 置信度 → 音高 → 起点偏移，从不重排。
type Applier struct {
	model    *config.Calibration
	warnings []types.Warning
}

// NewApplier 创建校准应用器
func NewApplier(model *config.Calibration) *Applier {
	return &Applier{model: model}
}

// Warnings 应用过程中累积的可恢复告警
func (a *Applier) Warnings() []types.Warning {
	return a.warnings
}

// Apply 就地校准段落序列。单个字段的畸形校准数据退化为直通并告警，
// 从不中止运行。未识别的音色模式返回 ConfigError。
func (a *Applier) Apply(segments []types.Segment, duration float64) error {
	if a.model == nil || len(segments) == 0 {
		return nil
	}

	if err := a.applyTimbre(segments); err != nil {
		return err
	}
	a.applyScalar(segments, "loudness_start")
	a.applyScalar(segments, "loudness_max")
	a.applyScalar(segments, "loudness_max_time")
	a.applyScalar(segments, "confidence")
	a.applyPitch(segments)
	a.applyStartOffset(segments, duration)
	return nil
}

// applyTimbre 仿射映射或 PCA 重投影，由模式标志互斥选择
func (a *Applier) applyTimbre(segments []types.Segment) error {
	tm := a.model.Timbre
	if tm == nil {
		return nil
	}

	switch tm.Mode {
	case config.TimbreModeAffine:
		if tm.Matrix == nil && tm.Bias == nil {
			return nil
		}
		if !validMatrix(tm.Matrix, 12, 12) || (tm.Bias != nil && len(tm.Bias) != 12) {
			a.degrade("timbre", "仿射矩阵或偏置维度不符")
			return nil
		}
		for i := range segments {
			segments[i].Timbre = affine(segments[i].Timbre, tm.Matrix, tm.Bias)
		}
	case config.TimbreModePCA:
		if len(tm.Mean) != 12 || !validMatrix(tm.Components, 12, 12) {
			a.degrade("timbre", "PCA 均值或主成分维度不符")
			return nil
		}
		for i := range segments {
			segments[i].Timbre = pcaProject(segments[i].Timbre, tm.Mean, tm.Components)
		}
	default:
		return &types.ConfigError{Msg: fmt.Sprintf("未识别的音色校准模式: %q", tm.Mode)}
	}
	return nil
}

// applyScalar 标量字段校准；分位数映射优先于仿射
func (a *Applier) applyScalar(segments []types.Segment, field string) {
	sm := a.model.Scalars[field]
	if sm == nil {
		return
	}

	mapValue := func(v float64) float64 { return v }
	if sm.Quantiles != nil {
		if !sm.Quantiles.Valid() {
			a.degrade(field, "分位数映射数组缺失或长度不等")
			return
		}
		q := sm.Quantiles
		mapValue = q.Interp
	} else if sm.Scale != nil || sm.Bias != nil {
		scale, bias := 1.0, 0.0
		if sm.Scale != nil {
			scale = *sm.Scale
		}
		if sm.Bias != nil {
			bias = *sm.Bias
		}
		mapValue = func(v float64) float64 { return v*scale + bias }
	} else {
		return
	}

	for i := range segments {
		switch field {
		case "confidence":
			segments[i].Confidence = mapValue(segments[i].Confidence)
		case "loudness_start":
			segments[i].LoudnessStart = mapValue(segments[i].LoudnessStart)
		case "loudness_max":
			segments[i].LoudnessMax = mapValue(segments[i].LoudnessMax)
		case "loudness_max_time":
			segments[i].LoudnessMaxTime = mapValue(segments[i].LoudnessMaxTime)
		}
	}
}

// applyPitch 音高校准；优先级 矩阵仿射 > 逐 bin 缩放/偏置 > 幂律，
// 第一个填充的形式生效
func (a *Applier) applyPitch(segments []types.Segment) {
	pm := a.model.Pitch
	if pm == nil {
		return
	}

	switch {
	case pm.Matrix != nil:
		if !validMatrix(pm.Matrix, 12, 12) || (pm.MatrixBias != nil && len(pm.MatrixBias) != 12) {
			a.degrade("pitch", "音高矩阵或偏置维度不符")
			return
		}
		for i := range segments {
			segments[i].Pitches = affine(segments[i].Pitches, pm.Matrix, pm.MatrixBias)
		}
	case pm.Scale != nil || pm.Bias != nil:
		if (pm.Scale != nil && len(pm.Scale) != 12) || (pm.Bias != nil && len(pm.Bias) != 12) {
			a.degrade("pitch", "逐 bin 缩放或偏置长度不为 12")
			return
		}
		for i := range segments {
			for k := range segments[i].Pitches {
				v := segments[i].Pitches[k]
				if pm.Scale != nil {
					v *= pm.Scale[k]
				}
				if pm.Bias != nil {
					v += pm.Bias[k]
				}
				segments[i].Pitches[k] = v
			}
		}
	case pm.Power != nil:
		p := *pm.Power
		for i := range segments {
			for k := range segments[i].Pitches {
				if segments[i].Pitches[k] >= 0 {
					segments[i].Pitches[k] = math.Pow(segments[i].Pitches[k], p)
				}
			}
		}
	}
}

// applyStartOffset 最后一步：按段落位置（相对轨长归一化）插值的
// 起点偏移。首段起点固定为 0，调整后重新从起点推导时长，
// 终点边界不变，保持全覆盖。
func (a *Applier) applyStartOffset(segments []types.Segment, duration float64) {
	q := a.model.StartOffset
	if q == nil {
		return
	}
	if !q.Valid() {
		a.degrade("start_offset", "起点偏移映射数组缺失或长度不等")
		return
	}
	if duration <= 0 {
		return
	}

	starts := make([]float64, len(segments))
	for i := range segments {
		starts[i] = segments[i].Start
		if i == 0 {
			continue
		}
		offset := q.Interp(segments[i].Start / duration)
		adjusted := segments[i].Start + offset
		// 钳制到 [0, duration) 并保持严格递增
		if adjusted < 0 {
			adjusted = 0
		}
		if adjusted >= duration {
			adjusted = math.Nextafter(duration, 0)
		}
		if adjusted <= starts[i-1] {
			adjusted = starts[i-1] + 1e-6
		}
		starts[i] = adjusted
	}

	for i := range segments {
		end := duration
		if i+1 < len(segments) {
			end = starts[i+1]
		}
		segments[i].Start = starts[i]
		segments[i].Duration = math.Max(0, end-starts[i])
	}
}

// degrade 记录单字段退化告警
func (a *Applier) degrade(field, reason string) {
	a.warnings = append(a.warnings, types.Warning{
		Code:    types.WarnCalibrationField,
		Message: fmt.Sprintf("校准字段 %s 数据畸形（%s），退化为直通", field, reason),
	})
}

// affine y = xA + b；bias 为 nil 时视为零向量
func affine(x []float64, matrix [][]float64, bias []float64) []float64 {
	out := make([]float64, len(x))
	for j := range out {
		sum := 0.0
		for i := range x {
			sum += x[i] * matrix[i][j]
		}
		if bias != nil {
			sum += bias[j]
		}
		out[j] = sum
	}
	return out
}

// pcaProject 均值中心化后投影到主成分（行向量）
func pcaProject(x, mean []float64, components [][]float64) []float64 {
	centered := make([]float64, len(x))
	for i := range x {
		centered[i] = x[i] - mean[i]
	}
	out := make([]float64, len(components))
	for c, comp := range components {
		sum := 0.0
		for i := range centered {
			sum += centered[i] * comp[i]
		}
		out[c] = sum
	}
	return out
}

// validMatrix 矩阵是否为 rows × cols
func validMatrix(m [][]float64, rows, cols int) bool {
	if len(m) != rows {
		return false
	}
	for _, row := range m {
		if len(row) != cols {
			return false
		}
	}
	return true
}
