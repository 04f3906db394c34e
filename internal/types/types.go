package types

// Waveform 解码后的单声道波形；输入不可变
type Waveform struct {
	Samples    []float64 // 归一化到 [-1, 1] 的采样数据
	SampleRate int       // 采样率 (Hz)
}

// Duration 波形时长（秒）
func (w *Waveform) Duration() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// TrackMetadata 音频元数据
type TrackMetadata struct {
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
}

// Quantum 单个结构层级上的时间量子 {start, duration}
type Quantum struct {
	Start      float64  `json:"start"`
	Duration   float64  `json:"duration"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Segment 段落量子，附带音色/音高/响度描述
type Segment struct {
	Start           float64   `json:"start"`
	Duration        float64   `json:"duration"`
	Confidence      float64   `json:"confidence"`
	LoudnessStart   float64   `json:"loudness_start"`
	LoudnessMax     float64   `json:"loudness_max"`
	LoudnessMaxTime float64   `json:"loudness_max_time"`
	Pitches         []float64 `json:"pitches"`
	Timbre          []float64 `json:"timbre"`
}

// TrackInfo 整轨信息
type TrackInfo struct {
	Duration      float64 `json:"duration"`
	Tempo         float64 `json:"tempo"`
	TimeSignature float64 `json:"time_signature"`
}

// AnalysisResult 层级化的结构分析文档
type AnalysisResult struct {
	Sections []Quantum      `json:"sections"`
	Bars     []Quantum      `json:"bars"`
	Beats    []Quantum      `json:"beats"`
	Tatums   []Quantum      `json:"tatums"`
	Segments []Segment      `json:"segments"`
	Track    TrackInfo      `json:"track"`
	Metadata *TrackMetadata `json:"metadata,omitempty"`
}

// FrameFeatureMatrix 帧级特征矩阵，所有曲线共享同一跳长时间网格
type FrameFeatureMatrix struct {
	Timbre     [][]float64 // 每帧音色系数向量
	Chroma     [][]float64 // 每帧 12 维音级能量向量
	Loudness   []float64   // 每帧响度 (dB)
	Onset      []float64   // 每帧起始强度
	FrameTimes []float64   // 每帧时间戳（秒）
	SampleRate int
	HopLength  int
}

// FrameCount 帧数（各曲线已对齐到最短长度）
func (m *FrameFeatureMatrix) FrameCount() int {
	return len(m.FrameTimes)
}

// ProgressFunc 进度回调 (percent 0..100, stage 阶段标签)
type ProgressFunc func(percent int, stage string)

// 可恢复告警代码
const (
	WarnCalibrationField = "calibration_field" // 单个校准字段损坏，退化为直通
	WarnCalibrationLint  = "calibration_lint"  // 同一字段填充了多种校准形式
	WarnBoundaryFallback = "boundary_fallback" // 边界策略产出不足，退化为固定间隔
	WarnRateUnreachable  = "rate_unreachable"  // 迭代率匹配达到上限，接受最近值
)

// Warning 可恢复告警；只影响数值，不改变输出形状
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
