package calibrate

import (
	"errors"
	"math"
	"testing"

	"audio-structure-analyzer/internal/config"
	"audio-structure-analyzer/internal/types"
)

func identityMatrix() [][]float64 {
	m := make([][]float64, 12)
	for i := range m {
		m[i] = make([]float64, 12)
		m[i][i] = 1
	}
	return m
}

func testSegments() []types.Segment {
	timbre := make([]float64, 12)
	pitches := make([]float64, 12)
	for i := range timbre {
		timbre[i] = float64(i) - 5.5
		pitches[i] = float64(i) / 11.0
	}
	return []types.Segment{
		{Start: 0, Duration: 5, Confidence: 0.5, LoudnessStart: -20, LoudnessMax: -10,
			Pitches: append([]float64(nil), pitches...), Timbre: append([]float64(nil), timbre...)},
		{Start: 5, Duration: 5, Confidence: 0.8, LoudnessStart: -30, LoudnessMax: -15,
			Pitches: append([]float64(nil), pitches...), Timbre: append([]float64(nil), timbre...)},
	}
}

func TestNilModelIsPassthrough(t *testing.T) {
	segs := testSegments()
	before := segs[0].Confidence

	a := NewApplier(nil)
	if err := a.Apply(segs, 10); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if segs[0].Confidence != before {
		t.Error("空模型不应修改段落")
	}
}

func TestIdentityAffineTimbre(t *testing.T) {
	model := &config.Calibration{
		Timbre: &config.TimbreMap{Mode: config.TimbreModeAffine, Matrix: identityMatrix()},
	}
	segs := testSegments()
	want := append([]float64(nil), segs[0].Timbre...)

	a := NewApplier(model)
	if err := a.Apply(segs, 10); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for k := range want {
		if math.Abs(segs[0].Timbre[k]-want[k]) > 1e-12 {
			t.Fatalf("单位矩阵仿射改变了音色: got %v, want %v", segs[0].Timbre, want)
		}
	}
	if len(a.Warnings()) != 0 {
		t.Errorf("不应产生告警: %v", a.Warnings())
	}
}

func TestUnknownTimbreModeIsFatal(t *testing.T) {
	model := &config.Calibration{
		Timbre: &config.TimbreMap{Mode: "whitening", Matrix: identityMatrix()},
	}
	a := NewApplier(model)
	err := a.Apply(testSegments(), 10)
	if err == nil {
		t.Fatal("未识别的音色模式应返回错误")
	}
	var cfgErr *types.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("错误类型不符: %T", err)
	}
}

func TestMalformedTimbreDegradesWithWarning(t *testing.T) {
	model := &config.Calibration{
		Timbre: &config.TimbreMap{Mode: config.TimbreModeAffine, Matrix: [][]float64{{1, 2}}},
	}
	segs := testSegments()
	want := append([]float64(nil), segs[0].Timbre...)

	a := NewApplier(model)
	if err := a.Apply(segs, 10); err != nil {
		t.Fatalf("畸形矩阵不应中止运行: %v", err)
	}
	for k := range want {
		if segs[0].Timbre[k] != want[k] {
			t.Fatal("退化为直通时音色不应被修改")
		}
	}
	warnings := a.Warnings()
	if len(warnings) != 1 || warnings[0].Code != types.WarnCalibrationField {
		t.Fatalf("应产生单个字段退化告警: %v", warnings)
	}
}

func TestConfidenceQuantileMap(t *testing.T) {
	model := &config.Calibration{
		Scalars: map[string]*config.ScalarMap{
			"confidence": {Quantiles: &config.QuantileMap{
				Source: []float64{0, 1},
				Target: []float64{0, 2},
			}},
		},
	}
	segs := testSegments()

	a := NewApplier(model)
	if err := a.Apply(segs, 10); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := segs[0].Confidence; math.Abs(got-1.0) > 1e-12 {
		t.Errorf("分位数映射 0.5 → %v, want 1.0", got)
	}
}

func TestQuantilePrecedesAffine(t *testing.T) {
	scale := 100.0
	model := &config.Calibration{
		Scalars: map[string]*config.ScalarMap{
			"confidence": {
				Scale: &scale,
				Quantiles: &config.QuantileMap{
					Source: []float64{0, 1},
					Target: []float64{0, 1},
				},
			},
		},
	}
	segs := testSegments()

	a := NewApplier(model)
	if err := a.Apply(segs, 10); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// 分位数恒等映射生效，缩放被忽略
	if segs[0].Confidence != 0.5 {
		t.Errorf("仿射不应覆盖分位数映射: got %v", segs[0].Confidence)
	}
}

func TestScalarAffine(t *testing.T) {
	scale, bias := 2.0, 3.0
	model := &config.Calibration{
		Scalars: map[string]*config.ScalarMap{
			"loudness_start": {Scale: &scale, Bias: &bias},
		},
	}
	segs := testSegments()

	a := NewApplier(model)
	if err := a.Apply(segs, 10); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := segs[0].LoudnessStart; got != -20*2+3 {
		t.Errorf("loudness_start = %v, want %v", got, -20*2+3.0)
	}
	// 其余字段不受影响
	if segs[0].LoudnessMax != -10 {
		t.Errorf("loudness_max 不应被修改: %v", segs[0].LoudnessMax)
	}
}

func TestPitchPowerLaw(t *testing.T) {
	p := 2.0
	model := &config.Calibration{Pitch: &config.PitchMap{Power: &p}}
	segs := testSegments()
	orig := append([]float64(nil), segs[0].Pitches...)

	a := NewApplier(model)
	if err := a.Apply(segs, 10); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for k := range orig {
		want := orig[k] * orig[k]
		if math.Abs(segs[0].Pitches[k]-want) > 1e-12 {
			t.Fatalf("幂律校准: pitches[%d] = %v, want %v", k, segs[0].Pitches[k], want)
		}
	}
}

func TestPitchMatrixPrecedesScale(t *testing.T) {
	model := &config.Calibration{Pitch: &config.PitchMap{
		Matrix: identityMatrix(),
		Scale:  nonUnitScale(),
	}}
	segs := testSegments()
	orig := append([]float64(nil), segs[0].Pitches...)

	a := NewApplier(model)
	if err := a.Apply(segs, 10); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for k := range orig {
		if math.Abs(segs[0].Pitches[k]-orig[k]) > 1e-12 {
			t.Fatal("矩阵形式应优先于逐 bin 缩放")
		}
	}
}

func nonUnitScale() []float64 {
	s := make([]float64, 12)
	for i := range s {
		s[i] = 7
	}
	return s
}

func TestStartOffsetKeepsCoverage(t *testing.T) {
	// 恒定 +1 秒偏移；首段起点固定为 0
	model := &config.Calibration{
		StartOffset: &config.QuantileMap{
			Source: []float64{0, 1},
			Target: []float64{1, 1},
		},
	}
	segs := testSegments()
	duration := 10.0

	a := NewApplier(model)
	if err := a.Apply(segs, duration); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if segs[0].Start != 0 {
		t.Errorf("首段起点必须保持 0: %v", segs[0].Start)
	}
	if math.Abs(segs[1].Start-6.0) > 1e-9 {
		t.Errorf("第二段起点 = %v, want 6.0", segs[1].Start)
	}

	sum := 0.0
	for i, s := range segs {
		if s.Duration < 0 {
			t.Fatalf("第 %d 段时长为负: %v", i, s.Duration)
		}
		sum += s.Duration
	}
	if math.Abs(sum-duration) > 1e-9 {
		t.Errorf("时长之和 %v 不等于轨长 %v", sum, duration)
	}
}

func TestStartOffsetClampAndOrder(t *testing.T) {
	// 巨大偏移被钳制到轨长以内且保持严格递增
	model := &config.Calibration{
		StartOffset: &config.QuantileMap{
			Source: []float64{0, 1},
			Target: []float64{100, 100},
		},
	}
	segs := testSegments()
	duration := 10.0

	a := NewApplier(model)
	if err := a.Apply(segs, duration); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if segs[1].Start >= duration {
		t.Errorf("起点必须小于轨长: %v", segs[1].Start)
	}
	if segs[1].Start <= segs[0].Start {
		t.Error("起点必须严格递增")
	}
}
