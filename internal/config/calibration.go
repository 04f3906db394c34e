package config

import (
	"fmt"

	"audio-structure-analyzer/internal/types"

	"github.com/tidwall/gjson"
)

// 音色校准模式
const (
	TimbreModeAffine = "affine" // y = xA + b
	TimbreModePCA    = "pca"    // 均值中心化后投影到主成分
)

// QuantileMap 单调分位数映射（源分位数 → 目标分位数）
type QuantileMap struct {
	Source []float64
	Target []float64
}

// ScalarMap 标量字段的校准：分位数映射优先于仿射
type ScalarMap struct {
	Scale     *float64
	Bias      *float64
	Quantiles *QuantileMap
}

// TimbreMap 音色校准：仿射或 PCA 重投影，由 Mode 互斥选择
type TimbreMap struct {
	Mode       string
	Matrix     [][]float64 // 仿射矩阵 A
	Bias       []float64   // 仿射偏置 b
	Mean       []float64   // PCA 均值
	Components [][]float64 // PCA 主成分（行向量）
}

// PitchMap 音高校准；优先级 矩阵仿射 > 逐 bin 缩放/偏置 > 幂律
type PitchMap struct {
	Matrix     [][]float64
	MatrixBias []float64
	Scale      []float64
	Bias       []float64
	Power      *float64
}

// Calibration 离线拟合的校准模型；每次运行加载一次，从不修改
type Calibration struct {
	Timbre      *TimbreMap
	Scalars     map[string]*ScalarMap // 键：confidence, loudness_start, loudness_max, loudness_max_time
	Pitch       *PitchMap
	StartOffset *QuantileMap
}

// 可被校准的标量字段名
var ScalarFields = []string{"confidence", "loudness_start", "loudness_max", "loudness_max_time"}

// parseCalibration 解析 calibration 对象；结构性问题在这里只产生提示告警，
// 数值维度校验推迟到应用时（单字段退化为直通）
func parseCalibration(cal gjson.Result) (*Calibration, []types.Warning) {
	c := &Calibration{Scalars: make(map[string]*ScalarMap)}
	var warnings []types.Warning

	if t := cal.Get("timbre"); t.Exists() {
		tm := &TimbreMap{Mode: TimbreModeAffine}
		if m := t.Get("mode"); m.Exists() {
			tm.Mode = m.String()
		}
		if v := t.Get("matrix"); v.IsArray() {
			tm.Matrix = floatMatrix(v)
		}
		if v := t.Get("bias"); v.IsArray() {
			tm.Bias = floatArray(v)
		}
		if v := t.Get("mean"); v.IsArray() {
			tm.Mean = floatArray(v)
		}
		if v := t.Get("components"); v.IsArray() {
			tm.Components = floatMatrix(v)
		}
		c.Timbre = tm
	}

	for _, field := range ScalarFields {
		s := cal.Get("scalars." + field)
		if !s.Exists() {
			continue
		}
		sm := &ScalarMap{}
		if v := s.Get("scale"); v.Exists() {
			f := v.Float()
			sm.Scale = &f
		}
		if v := s.Get("bias"); v.Exists() {
			f := v.Float()
			sm.Bias = &f
		}
		if q := s.Get("quantiles"); q.Exists() {
			sm.Quantiles = &QuantileMap{
				Source: floatArray(q.Get("source")),
				Target: floatArray(q.Get("target")),
			}
		}
		if sm.Quantiles != nil && (sm.Scale != nil || sm.Bias != nil) {
			warnings = append(warnings, types.Warning{
				Code:    types.WarnCalibrationLint,
				Message: fmt.Sprintf("标量字段 %s 同时携带分位数映射和仿射参数，分位数映射优先", field),
			})
		}
		c.Scalars[field] = sm
	}

	if p := cal.Get("pitch"); p.Exists() {
		pm := &PitchMap{}
		if v := p.Get("matrix"); v.IsArray() {
			pm.Matrix = floatMatrix(v)
		}
		if v := p.Get("matrix_bias"); v.IsArray() {
			pm.MatrixBias = floatArray(v)
		}
		if v := p.Get("scale"); v.IsArray() {
			pm.Scale = floatArray(v)
		}
		if v := p.Get("bias"); v.IsArray() {
			pm.Bias = floatArray(v)
		}
		if v := p.Get("power"); v.Exists() {
			f := v.Float()
			pm.Power = &f
		}
		forms := 0
		if pm.Matrix != nil {
			forms++
		}
		if pm.Scale != nil || pm.Bias != nil {
			forms++
		}
		if pm.Power != nil {
			forms++
		}
		if forms > 1 {
			warnings = append(warnings, types.Warning{
				Code:    types.WarnCalibrationLint,
				Message: "音高校准填充了多种形式，按 矩阵 > 缩放/偏置 > 幂律 的顺序取第一个",
			})
		}
		c.Pitch = pm
	}

	if so := cal.Get("start_offset"); so.Exists() {
		c.StartOffset = &QuantileMap{
			Source: floatArray(so.Get("source")),
			Target: floatArray(so.Get("target")),
		}
	}

	return c, warnings
}

// Valid 分位数映射是否可用（两个数组非空且等长）
func (q *QuantileMap) Valid() bool {
	return q != nil && len(q.Source) > 0 && len(q.Source) == len(q.Target)
}

// Interp 单调分段线性插值；越界时取端点值
func (q *QuantileMap) Interp(x float64) float64 {
	n := len(q.Source)
	if x <= q.Source[0] {
		return q.Target[0]
	}
	if x >= q.Source[n-1] {
		return q.Target[n-1]
	}
	for i := 1; i < n; i++ {
		if x <= q.Source[i] {
			span := q.Source[i] - q.Source[i-1]
			if span <= 0 {
				return q.Target[i]
			}
			frac := (x - q.Source[i-1]) / span
			return q.Target[i-1] + frac*(q.Target[i]-q.Target[i-1])
		}
	}
	return q.Target[n-1]
}
