package segment

import (
	"fmt"

	"audio-structure-analyzer/internal/config"
	"audio-structure-analyzer/internal/types"
)

// Detector 边界检测器：对段落和乐章两个层级分别运行所选策略，
// 共享同一套后处理。
type Detector struct {
	cfg *config.AnalysisConfig
}

// NewDetector 创建边界检测器
func NewDetector(cfg *config.AnalysisConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Detect 返回段落边界和乐章边界（均含外边界 0 和轨长）
func (d *Detector) Detect(ctx *Context) (segments, sections []float64, warnings []types.Warning, err error) {
	segments, segWarnings, err := d.detectLevel(d.cfg.SegmentStrategy, &d.cfg.Segment, ctx, false)
	if err != nil {
		return nil, nil, nil, err
	}
	warnings = append(warnings, segWarnings...)

	sections, sectWarnings, err := d.detectLevel(d.cfg.SectionStrategy, &d.cfg.Section, ctx, true)
	if err != nil {
		return nil, nil, nil, err
	}
	warnings = append(warnings, sectWarnings...)

	return segments, sections, warnings, nil
}

// detectLevel 运行一个层级的策略和共享后处理。
// 乐章层级在策略产出不足两个边界时退化为固定间隔划分。
func (d *Detector) detectLevel(strategyName string, params *config.BoundaryParams, ctx *Context, sectionLevel bool) ([]float64, []types.Warning, error) {
	strategy, err := NewStrategy(strategyName, d.cfg)
	if err != nil {
		return nil, nil, err
	}

	cands, err := strategy.Candidates(ctx, params)
	if err != nil {
		return nil, nil, err
	}

	var warnings []types.Warning
	if len(cands) < 2 && sectionLevel {
		// 策略产出耗尽：乐章退化为固定时长划分，保证至少一个乐章
		warnings = append(warnings, types.Warning{
			Code: types.WarnBoundaryFallback,
			Message: fmt.Sprintf("策略 %s 产出边界不足，乐章退化为 %.1f 秒固定间隔",
				strategy.Name(), d.cfg.SectionSeconds),
		})
		return fixedIntervalBounds(ctx.Duration, d.cfg.SectionSeconds), warnings, nil
	}

	times, ppWarnings := postprocess(strategy, cands, ctx, params)
	warnings = append(warnings, ppWarnings...)
	return times, warnings, nil
}

// fixedIntervalBounds 固定间隔边界，含 0 和轨长
func fixedIntervalBounds(duration, interval float64) []float64 {
	bounds := []float64{0}
	if interval > 0 {
		for t := interval; t < duration-dedupeEps; t += interval {
			bounds = append(bounds, t)
		}
	}
	if duration > dedupeEps {
		bounds = append(bounds, duration)
	}
	return bounds
}
