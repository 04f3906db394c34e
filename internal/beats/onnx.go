package beats

import (
	"fmt"
	"math"
	"sync"

	"audio-structure-analyzer/internal/config"
	"audio-structure-analyzer/internal/types"

	ort "github.com/yalue/onnxruntime_go"
)

// 激活模型的输出帧率（帧/秒），与参考模型的训练配置一致
const activationFPS = 100.0

// 节拍/强拍激活的拾取阈值
const activationThreshold = 0.5

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// ActivationTracker 通过 ONNX Runtime 运行预训练的节拍/强拍激活网络，
// 并对激活曲线做峰值拾取。仅通过 (times, numbers) 契约被消费，
// 模型不可用时调用方应换用 DSPTracker。
type ActivationTracker struct {
	cfg       *config.AnalysisConfig
	modelPath string
	session   *ort.DynamicAdvancedSession
}

// NewActivationTracker 加载 ONNX 节拍模型
func NewActivationTracker(cfg *config.AnalysisConfig, modelPath string) (*ActivationTracker, error) {
	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("初始化 ONNX Runtime 失败: %w", ortInitErr)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("创建会话选项失败: %w", err)
	}
	defer opts.Destroy()

	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("设置图优化级别失败: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{"waveform"},
		[]string{"activations"},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("加载节拍模型失败: %w", err)
	}

	return &ActivationTracker{cfg: cfg, modelPath: modelPath, session: session}, nil
}

// Close 释放模型会话
func (t *ActivationTracker) Close() error {
	if t.session != nil {
		return t.session.Destroy()
	}
	return nil
}

// Track 运行激活网络并拾取节拍。
// 模型输出形状 [1, frames, 2]：第 0 列节拍激活，第 1 列强拍激活。
func (t *ActivationTracker) Track(w *types.Waveform) ([]float64, []int, error) {
	if len(w.Samples) == 0 {
		return nil, nil, nil
	}

	input := make([]float32, len(w.Samples))
	for i, s := range w.Samples {
		input[i] = float32(s)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(input))), input)
	if err != nil {
		return nil, nil, fmt.Errorf("创建输入张量失败: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := t.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, nil, fmt.Errorf("节拍模型推理失败: %w", err)
	}
	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("节拍模型输出类型不符")
	}
	defer outTensor.Destroy()

	shape := outTensor.GetShape()
	if len(shape) != 3 || shape[2] < 2 {
		return nil, nil, fmt.Errorf("节拍模型输出形状不符: %v", shape)
	}
	frames := int(shape[1])
	cols := int(shape[2])
	data := outTensor.GetData()

	times, numbers := t.pickBeats(data, frames, cols)
	return times, numbers, nil
}

// pickBeats 对激活曲线做阈值化峰值拾取，最小间距由速度上限决定。
// 强拍激活超阈值的节拍重置小节内序号为 1。
func (t *ActivationTracker) pickBeats(data []float32, frames, cols int) ([]float64, []int) {
	minSpacing := int(math.Floor(60.0 / t.cfg.TempoMaxBPM * activationFPS))
	if minSpacing < 1 {
		minSpacing = 1
	}

	var times []float64
	var numbers []int
	lastPick := -minSpacing
	counter := 0
	for i := 1; i < frames-1; i++ {
		beat := float64(data[i*cols])
		if beat < activationThreshold {
			continue
		}
		if beat < float64(data[(i-1)*cols]) || beat < float64(data[(i+1)*cols]) {
			continue
		}
		if i-lastPick < minSpacing {
			continue
		}
		downbeat := float64(data[i*cols+1])
		if downbeat >= activationThreshold || counter >= t.cfg.TimeSignature {
			counter = 0
		}
		counter++
		times = append(times, float64(i)/activationFPS)
		numbers = append(numbers, counter)
		lastPick = i
	}
	return times, numbers
}
