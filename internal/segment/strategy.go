package segment

import (
	"math"

	"audio-structure-analyzer/internal/config"
	"audio-structure-analyzer/internal/types"
)

// Context 边界检测的共享输入；由特征提取器和节拍定位器产出
type Context struct {
	Features  *types.FrameFeatureMatrix
	Novelty   []float64
	BeatTimes []float64
	BarTimes  []float64
	Duration  float64
}

// Candidate 候选边界：时刻和策略打分
type Candidate struct {
	Time  float64
	Score float64
}

// Strategy 可互换的边界策略。只产出候选边界，
// 间距/吸附/率匹配等后处理由检测器统一执行一次。
type Strategy interface {
	Name() string
	// Candidates 返回全部候选（未做阈值筛选）
	Candidates(ctx *Context, params *config.BoundaryParams) ([]Candidate, error)
	// InitialPercentile 率匹配迭代的起始百分位阈值
	InitialPercentile(params *config.BoundaryParams) float64
	// MinSpacing 该策略在此上下文中的最小边界间距（秒）
	MinSpacing(ctx *Context, params *config.BoundaryParams) float64
	// Scored 为 false 时跳过百分位阈值和率匹配（如谱聚类）
	Scored() bool
}

// NewStrategy 按配置名称构造策略
func NewStrategy(name string, cfg *config.AnalysisConfig) (Strategy, error) {
	switch name {
	case config.StrategyNovelty:
		return &NoveltyStrategy{}, nil
	case config.StrategySelfSim:
		return &SelfSimStrategy{}, nil
	case config.StrategyLaplacian:
		return &LaplacianStrategy{maxClusters: cfg.LaplacianMaxClusters}, nil
	case config.StrategyLearned:
		if len(cfg.BoundaryWeights) != 3 {
			return nil, &types.ConfigError{Msg: "学习型边界策略需要 3 维权重向量 (onset, novelty, beat)"}
		}
		return &LearnedStrategy{weights: cfg.BoundaryWeights, bias: cfg.BoundaryBias}, nil
	default:
		return nil, &types.ConfigError{Msg: "未知的边界策略: " + name}
	}
}

// NoveltyStrategy 新颖度百分位策略：取平滑新颖度曲线的局部峰值
type NoveltyStrategy struct{}

func (s *NoveltyStrategy) Name() string { return config.StrategyNovelty }

func (s *NoveltyStrategy) Scored() bool { return true }

func (s *NoveltyStrategy) InitialPercentile(params *config.BoundaryParams) float64 {
	return params.Percentile
}

func (s *NoveltyStrategy) MinSpacing(ctx *Context, params *config.BoundaryParams) float64 {
	return params.MinSpacingSeconds
}

func (s *NoveltyStrategy) Candidates(ctx *Context, params *config.BoundaryParams) ([]Candidate, error) {
	return localMaxima(ctx.Novelty, ctx.Features.FrameTimes), nil
}

// LearnedStrategy 学习型边界打分：
// score = w · [归一化起始包络, 归一化新颖度, 节拍指示] + b
type LearnedStrategy struct {
	weights []float64
	bias    float64
}

func (s *LearnedStrategy) Name() string { return config.StrategyLearned }

func (s *LearnedStrategy) Scored() bool { return true }

func (s *LearnedStrategy) InitialPercentile(params *config.BoundaryParams) float64 {
	return params.Percentile
}

func (s *LearnedStrategy) MinSpacing(ctx *Context, params *config.BoundaryParams) float64 {
	return params.MinSpacingSeconds
}

func (s *LearnedStrategy) Candidates(ctx *Context, params *config.BoundaryParams) ([]Candidate, error) {
	m := ctx.Features
	n := m.FrameCount()
	onset := normalizedCopy(m.Onset)
	novelty := normalizedCopy(ctx.Novelty)

	// 帧时间落在任一节拍半个跳长内时置节拍指示位
	halfHop := float64(m.HopLength) / float64(m.SampleRate) / 2
	beatFlag := make([]float64, n)
	bi := 0
	for i, t := range m.FrameTimes {
		for bi < len(ctx.BeatTimes) && ctx.BeatTimes[bi] < t-halfHop {
			bi++
		}
		if bi < len(ctx.BeatTimes) && math.Abs(ctx.BeatTimes[bi]-t) <= halfHop {
			beatFlag[i] = 1
		}
	}

	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		scores[i] = s.weights[0]*onset[i] + s.weights[1]*novelty[i] + s.weights[2]*beatFlag[i] + s.bias
	}
	return localMaxima(scores, m.FrameTimes), nil
}

// localMaxima 曲线的局部峰值（含得分）
func localMaxima(curve, times []float64) []Candidate {
	var cands []Candidate
	for i := 1; i < len(curve)-1 && i < len(times); i++ {
		if curve[i] > curve[i-1] && curve[i] >= curve[i+1] {
			cands = append(cands, Candidate{Time: times[i], Score: curve[i]})
		}
	}
	return cands
}

// normalizedCopy 最小-最大归一化副本；动态范围过小时返回全零
func normalizedCopy(curve []float64) []float64 {
	out := make([]float64, len(curve))
	if len(curve) == 0 {
		return out
	}
	minV, maxV := curve[0], curve[0]
	for _, v := range curve {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	if maxV-minV < 1e-12 {
		return out
	}
	for i, v := range curve {
		out[i] = (v - minV) / (maxV - minV)
	}
	return out
}
