package segment

import (
	"math"
	"testing"

	"audio-structure-analyzer/internal/config"
	"audio-structure-analyzer/internal/types"
)

// peakyContext 10 帧/秒网格上带周期峰值的合成新颖度曲线
func peakyContext(seconds float64) *Context {
	n := int(seconds * 10)
	times := make([]float64, n)
	novelty := make([]float64, n)
	for i := range times {
		times[i] = float64(i) / 10
		if i%3 == 1 {
			novelty[i] = 1 + float64((i*37)%97)/97
		}
	}
	return &Context{
		Features: &types.FrameFeatureMatrix{
			FrameTimes: times,
			Onset:      make([]float64, n),
			SampleRate: 10,
			HopLength:  1,
		},
		Novelty:  novelty,
		Duration: seconds,
	}
}

func flatContext(seconds float64) *Context {
	n := int(seconds * 10)
	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i) / 10
	}
	return &Context{
		Features: &types.FrameFeatureMatrix{
			FrameTimes: times,
			Onset:      make([]float64, n),
			SampleRate: 10,
			HopLength:  1,
		},
		Novelty:  make([]float64, n),
		Duration: seconds,
	}
}

func assertBounds(t *testing.T, bounds []float64, duration float64) {
	t.Helper()
	if len(bounds) < 2 {
		t.Fatalf("边界不足: %v", bounds)
	}
	if bounds[0] != 0 || bounds[len(bounds)-1] != duration {
		t.Fatalf("外边界缺失: %v", bounds)
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i] <= bounds[i-1] {
			t.Fatalf("边界未严格递增: %v", bounds)
		}
	}
}

func TestDetectBoundsAreWellFormed(t *testing.T) {
	cfg := config.Default()
	ctx := peakyContext(60)

	segs, sects, _, err := NewDetector(cfg).Detect(ctx)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	assertBounds(t, segs, 60)
	assertBounds(t, sects, 60)
}

func TestDetectSectionFallbackOnFlatCurve(t *testing.T) {
	cfg := config.Default()
	ctx := flatContext(70)

	segs, sects, warnings, err := NewDetector(cfg).Detect(ctx)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	// 平坦曲线没有候选峰：段落退化为整轨，乐章退化为固定间隔
	if len(segs) != 2 {
		t.Fatalf("段落边界 = %v, want [0 70]", segs)
	}
	want := []float64{0, 30, 60, 70}
	if len(sects) != len(want) {
		t.Fatalf("乐章边界 = %v, want %v", sects, want)
	}
	for i := range want {
		if math.Abs(sects[i]-want[i]) > 1e-9 {
			t.Fatalf("乐章边界 = %v, want %v", sects, want)
		}
	}

	found := false
	for _, w := range warnings {
		if w.Code == types.WarnBoundaryFallback {
			found = true
		}
	}
	if !found {
		t.Errorf("缺少回退告警: %v", warnings)
	}
}

func TestDetectRateMatching(t *testing.T) {
	cfg := config.Default()
	target := 2.0
	cfg.Segment.TargetRate = &target
	cfg.Segment.TargetRateTolerance = 0.1
	cfg.Segment.MinSpacingSeconds = 0.05

	ctx := peakyContext(60)
	segs, _, warnings, err := NewDetector(cfg).Detect(ctx)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	for _, w := range warnings {
		if w.Code == types.WarnRateUnreachable {
			t.Fatalf("候选充足时不应触发率匹配上限: %v", w)
		}
	}

	// 外边界 0 和轨长不计入率
	interior := 0
	for _, b := range segs {
		if b > 0 && b < 60 {
			interior++
		}
	}
	rate := float64(interior) / 60
	if rate < 1.8 || rate > 2.2 {
		t.Errorf("边界率 %v 不在 [1.8, 2.2]", rate)
	}
}

func TestDetectLearnedRequiresWeights(t *testing.T) {
	cfg := config.Default()
	cfg.SegmentStrategy = config.StrategyLearned

	_, _, _, err := NewDetector(cfg).Detect(peakyContext(10))
	if err == nil {
		t.Fatal("缺少权重向量时应返回配置错误")
	}
	if _, ok := err.(*types.ConfigError); !ok {
		t.Fatalf("错误类型不符: %T", err)
	}
}

func TestFixedIntervalBounds(t *testing.T) {
	got := fixedIntervalBounds(70, 30)
	want := []float64{0, 30, 60, 70}
	if len(got) != len(want) {
		t.Fatalf("fixedIntervalBounds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fixedIntervalBounds = %v, want %v", got, want)
		}
	}

	// 轨长是间隔的整数倍时不产生零长度末段
	got = fixedIntervalBounds(60, 30)
	want = []float64{0, 30, 60}
	if len(got) != len(want) {
		t.Fatalf("fixedIntervalBounds = %v, want %v", got, want)
	}
}
