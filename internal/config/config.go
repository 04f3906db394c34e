package config

import (
	"fmt"
	"os"

	"audio-structure-analyzer/internal/types"

	"github.com/tidwall/gjson"
)

// 边界策略名称
const (
	StrategyNovelty   = "novelty"
	StrategySelfSim   = "selfsim"
	StrategyLaplacian = "laplacian"
	StrategyLearned   = "learned"
)

// BoundaryParams 单个层级（段落或乐章）的边界检测参数
type BoundaryParams struct {
	Percentile          float64  // 新颖度/得分曲线的百分位阈值
	MinSpacingSeconds   float64  // 边界最小间距（秒）
	SnapBeatWindowS     float64  // 向最近节拍吸附的窗口（秒，0 表示不吸附）
	SnapBarWindowS      float64  // 向最近小节线吸附的窗口（秒，0 表示不吸附）
	SelfSimKernelBeats  int      // 棋盘核宽度（节拍数）
	SelfSimPercentile   float64  // 自相似新颖度的百分位阈值
	SelfSimSpacingBeats int      // 自相似边界最小间距（节拍数）
	IncludeBounds       bool     // 是否强制包含 0 和轨长作为外边界
	TargetRate          *float64 // 目标边界率（个/秒），nil 表示不做率匹配
	TargetRateTolerance float64  // 率匹配容差
	RateIterationCap    int      // 率匹配迭代上限
}

// AnalysisConfig 单次运行的不可变参数集
type AnalysisConfig struct {
	SampleRate          int     // 分析采样率
	HopLength           int     // 跳长（采样点）
	WindowSize          int     // STFT 窗口大小（采样点，2 的幂）
	MelBands            int     // mel 滤波器组数量
	TimbreCoeffs        int     // 音色系数个数（不含第 0 个）
	UseZeroth           bool    // 是否包含第 0 个系数
	TimbreScale         float64 // 音色系数缩放因子
	TimeSignature       int     // 拍号（每小节节拍数）
	TatumsPerBeat       int     // 每个节拍细分的 tatum 数
	TempoMinBPM         float64 // 速度估计下限
	TempoMaxBPM         float64 // 速度估计上限
	NoveltySmoothFrames int     // 新颖度曲线平滑窗口（帧）

	SegmentStrategy string // 段落边界策略
	SectionStrategy string // 乐章边界策略
	Segment         BoundaryParams
	Section         BoundaryParams

	SectionSeconds       float64 // 乐章固定间隔回退（秒）
	LaplacianMaxClusters int     // 谱聚类最大簇数

	BoundaryWeights []float64 // 学习型边界打分权重 [onset, novelty, beat]
	BoundaryBias    float64   // 学习型边界打分偏置

	BeatModelPath string // 可选的神经节拍模型路径（ONNX）

	StrictSchema bool // 严格模式：不变式被破坏时中止
}

// Default 返回与参考分析引擎一致的默认配置
func Default() *AnalysisConfig {
	return &AnalysisConfig{
		SampleRate:          22050,
		HopLength:           512,
		WindowSize:          2048,
		MelBands:            40,
		TimbreCoeffs:        12,
		UseZeroth:           true,
		TimbreScale:         10.0,
		TimeSignature:       4,
		TatumsPerBeat:       2,
		TempoMinBPM:         60.0,
		TempoMaxBPM:         200.0,
		NoveltySmoothFrames: 3,
		SegmentStrategy:     StrategyNovelty,
		SectionStrategy:     StrategyNovelty,
		Segment: BoundaryParams{
			Percentile:          75.0,
			MinSpacingSeconds:   0.5,
			SnapBeatWindowS:     0.06,
			SnapBarWindowS:      0.12,
			SelfSimKernelBeats:  4,
			SelfSimPercentile:   85.0,
			SelfSimSpacingBeats: 2,
			IncludeBounds:       true,
			TargetRateTolerance: 0.1,
			RateIterationCap:    20,
		},
		Section: BoundaryParams{
			Percentile:          90.0,
			MinSpacingSeconds:   8.0,
			SnapBeatWindowS:     0.0,
			SnapBarWindowS:      0.2,
			SelfSimKernelBeats:  16,
			SelfSimPercentile:   80.0,
			SelfSimSpacingBeats: 8,
			IncludeBounds:       true,
			TargetRateTolerance: 0.2,
			RateIterationCap:    20,
		},
		SectionSeconds:       30.0,
		LaplacianMaxClusters: 12,
	}
}

// Validate 检查配置的一致性
func (c *AnalysisConfig) Validate() error {
	if c.SampleRate <= 0 {
		return &types.ConfigError{Msg: fmt.Sprintf("采样率必须为正数: %d", c.SampleRate)}
	}
	if c.HopLength <= 0 {
		return &types.ConfigError{Msg: fmt.Sprintf("跳长必须为正数: %d", c.HopLength)}
	}
	if c.WindowSize < c.HopLength {
		return &types.ConfigError{Msg: fmt.Sprintf("窗口大小 %d 不能小于跳长 %d", c.WindowSize, c.HopLength)}
	}
	if c.TimeSignature <= 0 {
		return &types.ConfigError{Msg: fmt.Sprintf("拍号必须为正数: %d", c.TimeSignature)}
	}
	if c.TatumsPerBeat <= 0 {
		return &types.ConfigError{Msg: fmt.Sprintf("tatum 细分数必须为正数: %d", c.TatumsPerBeat)}
	}
	for _, s := range []string{c.SegmentStrategy, c.SectionStrategy} {
		switch s {
		case StrategyNovelty, StrategySelfSim, StrategyLaplacian, StrategyLearned:
		default:
			return &types.ConfigError{Msg: fmt.Sprintf("未知的边界策略: %q", s)}
		}
	}
	return nil
}

// Document 校准文档：配置覆盖 + 可选校准模型
type Document struct {
	Config      *AnalysisConfig
	Calibration *Calibration
	Warnings    []types.Warning
}

// LoadDocument 读取并解析校准文档（JSON）。
// 文档可只携带 config 覆盖、只携带 calibration 映射，或两者皆有。
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.ConfigError{Msg: fmt.Sprintf("读取校准文档失败: %v", err)}
	}
	if !gjson.ValidBytes(data) {
		return nil, &types.ConfigError{Msg: fmt.Sprintf("校准文档不是有效的 JSON: %s", path)}
	}
	return ParseDocument(data)
}

// ParseDocument 从 JSON 字节解析校准文档
func ParseDocument(data []byte) (*Document, error) {
	doc := &Document{Config: Default()}
	root := gjson.ParseBytes(data)

	if cfg := root.Get("config"); cfg.Exists() {
		applyOverrides(doc.Config, cfg)
	}
	if err := doc.Config.Validate(); err != nil {
		return nil, err
	}

	if cal := root.Get("calibration"); cal.Exists() {
		calibration, warnings := parseCalibration(cal)
		doc.Calibration = calibration
		doc.Warnings = append(doc.Warnings, warnings...)
	}
	return doc, nil
}

// applyOverrides 将文档中的 config 对象合并到默认配置上
func applyOverrides(c *AnalysisConfig, cfg gjson.Result) {
	setInt(cfg, "sample_rate", &c.SampleRate)
	setInt(cfg, "hop_length", &c.HopLength)
	setInt(cfg, "window_size", &c.WindowSize)
	setInt(cfg, "mel_bands", &c.MelBands)
	setInt(cfg, "timbre_coeffs", &c.TimbreCoeffs)
	setBool(cfg, "use_zeroth", &c.UseZeroth)
	setFloat(cfg, "timbre_scale", &c.TimbreScale)
	setInt(cfg, "time_signature", &c.TimeSignature)
	setInt(cfg, "tatums_per_beat", &c.TatumsPerBeat)
	setFloat(cfg, "tempo_min_bpm", &c.TempoMinBPM)
	setFloat(cfg, "tempo_max_bpm", &c.TempoMaxBPM)
	setInt(cfg, "novelty_smooth_frames", &c.NoveltySmoothFrames)
	setString(cfg, "segment_strategy", &c.SegmentStrategy)
	setString(cfg, "section_strategy", &c.SectionStrategy)
	setFloat(cfg, "section_seconds", &c.SectionSeconds)
	setInt(cfg, "laplacian_max_clusters", &c.LaplacianMaxClusters)
	setString(cfg, "beat_model_path", &c.BeatModelPath)
	setBool(cfg, "strict_schema", &c.StrictSchema)

	if v := cfg.Get("boundary_model_weights"); v.IsArray() {
		c.BoundaryWeights = floatArray(v)
	}
	setFloat(cfg, "boundary_model_bias", &c.BoundaryBias)

	applyBoundaryOverrides(&c.Segment, cfg, "segment")
	applyBoundaryOverrides(&c.Section, cfg, "section")
}

func applyBoundaryOverrides(p *BoundaryParams, cfg gjson.Result, prefix string) {
	setFloat(cfg, prefix+"_percentile", &p.Percentile)
	setFloat(cfg, prefix+"_min_spacing_s", &p.MinSpacingSeconds)
	setFloat(cfg, prefix+"_snap_beat_window_s", &p.SnapBeatWindowS)
	setFloat(cfg, prefix+"_snap_bar_window_s", &p.SnapBarWindowS)
	setInt(cfg, prefix+"_selfsim_kernel_beats", &p.SelfSimKernelBeats)
	setFloat(cfg, prefix+"_selfsim_percentile", &p.SelfSimPercentile)
	setInt(cfg, prefix+"_selfsim_min_spacing_beats", &p.SelfSimSpacingBeats)
	setBool(cfg, prefix+"_include_bounds", &p.IncludeBounds)
	setFloat(cfg, prefix+"_rate_tolerance", &p.TargetRateTolerance)
	setInt(cfg, prefix+"_rate_iteration_cap", &p.RateIterationCap)
	if v := cfg.Get("target_" + prefix + "_rate"); v.Exists() {
		rate := v.Float()
		p.TargetRate = &rate
	}
}

func setInt(cfg gjson.Result, key string, dst *int) {
	if v := cfg.Get(key); v.Exists() {
		*dst = int(v.Int())
	}
}

func setFloat(cfg gjson.Result, key string, dst *float64) {
	if v := cfg.Get(key); v.Exists() {
		*dst = v.Float()
	}
}

func setBool(cfg gjson.Result, key string, dst *bool) {
	if v := cfg.Get(key); v.Exists() {
		*dst = v.Bool()
	}
}

func setString(cfg gjson.Result, key string, dst *string) {
	if v := cfg.Get(key); v.Exists() {
		*dst = v.String()
	}
}

func floatArray(v gjson.Result) []float64 {
	arr := v.Array()
	out := make([]float64, len(arr))
	for i, item := range arr {
		out[i] = item.Float()
	}
	return out
}

func floatMatrix(v gjson.Result) [][]float64 {
	rows := v.Array()
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = floatArray(row)
	}
	return out
}
