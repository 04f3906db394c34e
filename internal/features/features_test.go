package features

import (
	"math"
	"testing"

	"audio-structure-analyzer/internal/config"
	"audio-structure-analyzer/internal/types"
)

func sineWave(freq float64, seconds float64, sampleRate int) *types.Waveform {
	n := int(seconds * float64(sampleRate))
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return &types.Waveform{Samples: samples, SampleRate: sampleRate}
}

func silence(seconds float64, sampleRate int) *types.Waveform {
	n := int(seconds * float64(sampleRate))
	return &types.Waveform{Samples: make([]float64, n), SampleRate: sampleRate}
}

func TestExtractEmptySignal(t *testing.T) {
	e := NewExtractor(config.Default())
	_, err := e.Extract(&types.Waveform{SampleRate: 22050})
	if err == nil {
		t.Fatal("零长度信号应返回错误")
	}
	if _, ok := err.(*types.EmptySignalError); !ok {
		t.Fatalf("错误类型不符: %T", err)
	}
}

func TestExtractAlignedCurves(t *testing.T) {
	cfg := config.Default()
	e := NewExtractor(cfg)
	w := sineWave(440, 2, cfg.SampleRate)

	m, err := e.Extract(w)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	n := m.FrameCount()
	if n == 0 {
		t.Fatal("帧数为零")
	}
	if len(m.Timbre) != n || len(m.Chroma) != n || len(m.Loudness) != n || len(m.Onset) != n {
		t.Fatalf("曲线长度不一致: timbre=%d chroma=%d loudness=%d onset=%d times=%d",
			len(m.Timbre), len(m.Chroma), len(m.Loudness), len(m.Onset), n)
	}

	// 帧时间在跳长网格上严格递增
	for i := 1; i < n; i++ {
		if m.FrameTimes[i] <= m.FrameTimes[i-1] {
			t.Fatal("帧时间未严格递增")
		}
	}
	wantDim := cfg.TimbreCoeffs + 1
	if len(m.Timbre[0]) != wantDim {
		t.Errorf("音色系数维度 = %d, want %d", len(m.Timbre[0]), wantDim)
	}
	if len(m.Chroma[0]) != 12 {
		t.Errorf("音级向量维度 = %d, want 12", len(m.Chroma[0]))
	}
}

func TestChromaPeaksAtPitchClass(t *testing.T) {
	cfg := config.Default()
	e := NewExtractor(cfg)
	// A4 = 440 Hz，音级下标 9（C=0）
	m, err := e.Extract(sineWave(440, 1, cfg.SampleRate))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	mid := m.FrameCount() / 2
	best := 0
	for k, v := range m.Chroma[mid] {
		if v > m.Chroma[mid][best] {
			best = k
		}
		if v < 0 || v > 1 {
			t.Fatalf("音级能量越界: chroma[%d] = %v", k, v)
		}
	}
	if best != 9 {
		t.Errorf("440 Hz 的主导音级 = %d, want 9: %v", best, m.Chroma[mid])
	}
}

func TestChromaFollowsWaveformSampleRate(t *testing.T) {
	// 整数比重采样后的实际采样率可能偏离配置值（48 kHz → 24 kHz）；
	// 频点到音级的映射必须按波形的真实采样率计算
	cfg := config.Default()
	e := NewExtractor(cfg)
	m, err := e.Extract(sineWave(440, 2, 24000))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	mid := m.FrameCount() / 2
	best := 0
	for k, v := range m.Chroma[mid] {
		if v > m.Chroma[mid][best] {
			best = k
		}
	}
	if best != 9 {
		t.Errorf("24 kHz 波形上 440 Hz 的主导音级 = %d, want 9: %v", best, m.Chroma[mid])
	}
}

func TestExtractorHandlesAlternatingRates(t *testing.T) {
	// 同一个提取器先后处理不同采样率的波形，滤波器组必须各自正确
	cfg := config.Default()
	e := NewExtractor(cfg)

	for _, rate := range []int{24000, 22050} {
		m, err := e.Extract(sineWave(440, 1, rate))
		if err != nil {
			t.Fatalf("Extract(%d Hz): %v", rate, err)
		}
		mid := m.FrameCount() / 2
		best := 0
		for k, v := range m.Chroma[mid] {
			if v > m.Chroma[mid][best] {
				best = k
			}
		}
		if best != 9 {
			t.Fatalf("%d Hz 波形的主导音级 = %d, want 9", rate, best)
		}
	}
}

func TestHannWindowDegenerateSizes(t *testing.T) {
	if got := hannWindow(1); len(got) != 1 || got[0] != 1 {
		t.Errorf("单点窗应为矩形窗: %v", got)
	}
	w := hannWindow(8)
	if math.Abs(w[0]) > 1e-12 || math.Abs(w[7]) > 1e-12 {
		t.Errorf("汉宁窗端点应为 0: %v", w)
	}
}

func TestSilenceHitsLoudnessFloor(t *testing.T) {
	cfg := config.Default()
	e := NewExtractor(cfg)
	m, err := e.Extract(silence(1, cfg.SampleRate))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	for i, db := range m.Loudness {
		if db != loudnessFloor {
			t.Fatalf("第 %d 帧响度 = %v, want %v", i, db, loudnessFloor)
		}
	}
	for i, v := range m.Onset {
		if v != 0 {
			t.Fatalf("静音的起始包络应为零: onset[%d] = %v", i, v)
		}
	}
	for k, v := range m.Chroma[0] {
		if v != 0 {
			t.Fatalf("静音的音级能量应为零: chroma[%d] = %v", k, v)
		}
	}
}

func TestNoveltyNonNegativeAndSmooth(t *testing.T) {
	cfg := config.Default()
	e := NewExtractor(cfg)
	m, err := e.Extract(sineWave(440, 2, cfg.SampleRate))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	novelty := Novelty(m, cfg.NoveltySmoothFrames)
	if len(novelty) != m.FrameCount() {
		t.Fatalf("新颖度长度 = %d, want %d", len(novelty), m.FrameCount())
	}
	for i, v := range novelty {
		if v < 0 {
			t.Fatalf("新颖度必须非负: novelty[%d] = %v", i, v)
		}
	}
}

func TestNoveltyFlatForSilence(t *testing.T) {
	cfg := config.Default()
	e := NewExtractor(cfg)
	m, err := e.Extract(silence(2, cfg.SampleRate))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	for i, v := range Novelty(m, cfg.NoveltySmoothFrames) {
		if v != 0 {
			t.Fatalf("静音的新颖度应为零: novelty[%d] = %v", i, v)
		}
	}
}

func TestSmoothPreservesConstant(t *testing.T) {
	curve := []float64{2, 2, 2, 2, 2}
	for i, v := range Smooth(curve, 3) {
		if math.Abs(v-2) > 1e-12 {
			t.Fatalf("常数曲线平滑后应不变: out[%d] = %v", i, v)
		}
	}
}

func TestSmoothWindowOneIsIdentity(t *testing.T) {
	curve := []float64{1, 5, 3}
	out := Smooth(curve, 1)
	for i := range curve {
		if out[i] != curve[i] {
			t.Fatal("窗口为 1 时应原样返回")
		}
	}
}
