package analyzer

import (
	"fmt"
	"math"

	"audio-structure-analyzer/internal/types"
)

// 每个量子层级的时长覆盖容差（秒）
const coverageTolerance = 1e-3

// 输出清洗：绝对值小于该阈值的标量归零（音高/音色向量除外）
const sanitizeThreshold = 1e-4

// Assembler 输出组装器：构建最终文档并检查结构不变式。
// 严格模式下不变式被破坏即中止；宽松模式下原样放行。
type Assembler struct {
	strict bool
}

// NewAssembler 创建输出组装器
func NewAssembler(strict bool) *Assembler {
	return &Assembler{strict: strict}
}

// Finalize 校验并清洗分析结果。严格模式返回 SchemaViolationError；
// 宽松模式只做数值清洗。置信度总是钳制到 [0, 1]。
func (a *Assembler) Finalize(result *types.AnalysisResult) error {
	clampConfidence(result)

	if a.strict {
		if err := a.check(result); err != nil {
			return err
		}
	}

	sanitize(result)
	return nil
}

// check 每个层级：起点严格递增、时长之和等于轨长、向量长度为 12、数值有限
func (a *Assembler) check(result *types.AnalysisResult) error {
	duration := result.Track.Duration

	levels := map[string][]types.Quantum{
		"sections": result.Sections,
		"bars":     result.Bars,
		"beats":    result.Beats,
		"tatums":   result.Tatums,
	}
	for name, quanta := range levels {
		if err := checkQuanta(name, quanta, duration); err != nil {
			return err
		}
	}

	segQuanta := make([]types.Quantum, len(result.Segments))
	for i, s := range result.Segments {
		segQuanta[i] = types.Quantum{Start: s.Start, Duration: s.Duration}
		if len(s.Pitches) != 12 || len(s.Timbre) != 12 {
			return &types.SchemaViolationError{Level: "segments", Msg: fmt.Sprintf("第 %d 段的向量长度不为 12", i)}
		}
		for _, v := range append(append([]float64{s.Confidence, s.LoudnessStart, s.LoudnessMax, s.LoudnessMaxTime}, s.Pitches...), s.Timbre...) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &types.SchemaViolationError{Level: "segments", Msg: fmt.Sprintf("第 %d 段包含非有限数值", i)}
			}
		}
	}
	return checkQuanta("segments", segQuanta, duration)
}

// checkQuanta 单层级的不变式检查
func checkQuanta(level string, quanta []types.Quantum, duration float64) error {
	sum := 0.0
	for i, q := range quanta {
		if math.IsNaN(q.Start) || math.IsInf(q.Start, 0) || math.IsNaN(q.Duration) || math.IsInf(q.Duration, 0) {
			return &types.SchemaViolationError{Level: level, Msg: fmt.Sprintf("第 %d 个量子包含非有限数值", i)}
		}
		if i > 0 && q.Start <= quanta[i-1].Start {
			return &types.SchemaViolationError{Level: level, Msg: fmt.Sprintf("第 %d 个量子起点未严格递增", i)}
		}
		if q.Start < 0 || q.Start > duration {
			return &types.SchemaViolationError{Level: level, Msg: fmt.Sprintf("第 %d 个量子起点越界", i)}
		}
		sum += q.Duration
	}
	if len(quanta) > 0 && math.Abs(sum-duration) > coverageTolerance {
		return &types.SchemaViolationError{
			Level: level,
			Msg:   fmt.Sprintf("时长之和 %.4f 与轨长 %.4f 偏差超过 %.0e 秒", sum, duration, coverageTolerance),
		}
	}
	return nil
}

// clampConfidence 置信度钳制到 [0, 1]
func clampConfidence(result *types.AnalysisResult) {
	clamp := func(quanta []types.Quantum) {
		for i := range quanta {
			if quanta[i].Confidence == nil {
				continue
			}
			c := *quanta[i].Confidence
			if c < 0 {
				c = 0
			}
			if c > 1 {
				c = 1
			}
			quanta[i].Confidence = &c
		}
	}
	clamp(result.Sections)
	clamp(result.Bars)
	clamp(result.Beats)
	clamp(result.Tatums)
	for i := range result.Segments {
		if result.Segments[i].Confidence < 0 {
			result.Segments[i].Confidence = 0
		}
		if result.Segments[i].Confidence > 1 {
			result.Segments[i].Confidence = 1
		}
	}
}

// sanitize 输出清洗：非有限值归零，浮点数保留 5 位小数，
// 接近零的标量归零（音高/音色向量保留原值）
func sanitize(result *types.AnalysisResult) {
	cleanQuanta := func(quanta []types.Quantum) {
		for i := range quanta {
			quanta[i].Start = cleanScalar(quanta[i].Start)
			quanta[i].Duration = cleanScalar(quanta[i].Duration)
			if quanta[i].Confidence != nil {
				c := cleanScalar(*quanta[i].Confidence)
				quanta[i].Confidence = &c
			}
		}
	}
	cleanQuanta(result.Sections)
	cleanQuanta(result.Bars)
	cleanQuanta(result.Beats)
	cleanQuanta(result.Tatums)

	for i := range result.Segments {
		s := &result.Segments[i]
		s.Start = cleanScalar(s.Start)
		s.Duration = cleanScalar(s.Duration)
		s.Confidence = cleanScalar(s.Confidence)
		s.LoudnessStart = cleanScalar(s.LoudnessStart)
		s.LoudnessMax = cleanScalar(s.LoudnessMax)
		s.LoudnessMaxTime = cleanScalar(s.LoudnessMaxTime)
		for k := range s.Pitches {
			s.Pitches[k] = roundFloat(finiteOrZero(s.Pitches[k]))
		}
		for k := range s.Timbre {
			s.Timbre[k] = roundFloat(finiteOrZero(s.Timbre[k]))
		}
	}

	result.Track.Duration = cleanScalar(result.Track.Duration)
	result.Track.Tempo = cleanScalar(result.Track.Tempo)
}

func cleanScalar(v float64) float64 {
	v = finiteOrZero(v)
	if math.Abs(v) < sanitizeThreshold {
		return 0
	}
	return roundFloat(v)
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// roundFloat 保留 5 位小数
func roundFloat(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}
