package analyzer

import (
	"log"
	"sync"

	"audio-structure-analyzer/internal/beats"
	"audio-structure-analyzer/internal/calibrate"
	"audio-structure-analyzer/internal/config"
	"audio-structure-analyzer/internal/decoder"
	"audio-structure-analyzer/internal/features"
	"audio-structure-analyzer/internal/quantize"
	"audio-structure-analyzer/internal/segment"
	"audio-structure-analyzer/internal/summarize"
	"audio-structure-analyzer/internal/types"

	"github.com/schollz/progressbar/v3"
)

// Analyzer 结构分析器：对单个波形执行同步的分析流水线，
// 文件之间无共享可变状态，可安全并行。
type Analyzer struct {
	cfg         *config.AnalysisConfig
	calibration *config.Calibration
	registry    *decoder.Registry
	tracker     beats.Tracker
	docWarnings []types.Warning
}

// New 从校准文档创建分析器。配置了模型路径时优先使用
// 神经节拍跟踪器，加载失败则退回确定性 DSP 实现。
func New(doc *config.Document) (*Analyzer, error) {
	a := &Analyzer{
		cfg:         doc.Config,
		calibration: doc.Calibration,
		registry:    decoder.NewRegistry(),
		docWarnings: doc.Warnings,
	}

	if doc.Config.BeatModelPath != "" {
		tracker, err := beats.NewActivationTracker(doc.Config, doc.Config.BeatModelPath)
		if err != nil {
			log.Printf("神经节拍模型不可用，回退到 DSP 跟踪器: %v", err)
		} else {
			a.tracker = tracker
		}
	}
	if a.tracker == nil {
		a.tracker = beats.NewDSPTracker(doc.Config)
	}
	return a, nil
}

// FileResult 单个文件的分析结果
type FileResult struct {
	Path     string
	Result   *types.AnalysisResult
	Warnings []types.Warning
	Err      error
}

// AnalyzeFile 解码并分析单个音频文件
func (a *Analyzer) AnalyzeFile(filePath string, progress types.ProgressFunc) (*types.AnalysisResult, []types.Warning, error) {
	reporter := NewReporter(progress)

	waveform, metadata, err := a.registry.DecodeFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	reporter.Report(5, "decode")

	waveform = decoder.Resample(waveform, a.cfg.SampleRate)
	return a.analyze(waveform, metadata, reporter)
}

// AnalyzeWaveform 分析一个已解码的波形
func (a *Analyzer) AnalyzeWaveform(w *types.Waveform, progress types.ProgressFunc) (*types.AnalysisResult, []types.Warning, error) {
	reporter := NewReporter(progress)
	reporter.Report(5, "decode")
	return a.analyze(w, nil, reporter)
}

// analyze 流水线主体：节拍定位 → 特征提取 → 边界检测 →
// 段落汇总 → 校准 → 组装。要么完整返回，要么致命错误且无部分输出。
func (a *Analyzer) analyze(w *types.Waveform, metadata *types.TrackMetadata, reporter *Reporter) (*types.AnalysisResult, []types.Warning, error) {
	if len(w.Samples) == 0 {
		return nil, nil, &types.EmptySignalError{}
	}
	duration := w.Duration()
	warnings := append([]types.Warning(nil), a.docWarnings...)

	// 节拍定位没有自然的进度信号，用后台爬升模拟
	ramp := reporter.StartRamp(10, 40, "beats_wait", duration)
	beatTimes, beatNumbers, err := beats.Locate(a.tracker, w, a.cfg.TimeSignature)
	reporter.StopRamp(ramp)
	if err != nil {
		return nil, nil, err
	}
	reporter.Report(40, "beats")

	extractor := features.NewExtractor(a.cfg)
	frameFeatures, err := extractor.Extract(w)
	if err != nil {
		return nil, nil, err
	}
	novelty := features.Novelty(frameFeatures, a.cfg.NoveltySmoothFrames)
	reporter.Report(55, "features")

	ctx := &segment.Context{
		Features:  frameFeatures,
		Novelty:   novelty,
		BeatTimes: beatTimes,
		BarTimes:  quantize.BarStarts(beatTimes, beatNumbers),
		Duration:  duration,
	}
	segBounds, sectBounds, boundWarnings, err := segment.NewDetector(a.cfg).Detect(ctx)
	if err != nil {
		return nil, nil, err
	}
	warnings = append(warnings, boundWarnings...)
	reporter.Report(70, "boundaries")

	summarizer := summarize.NewSummarizer(a.cfg, frameFeatures, novelty)
	windows := quantize.SegmentWindows(segBounds, duration)
	segments := make([]types.Segment, 0, len(windows))
	for _, win := range windows {
		segments = append(segments, summarizer.Summarize(win[0], win[1]))
	}
	reporter.Report(80, "summarize")

	applier := calibrate.NewApplier(a.calibration)
	if err := applier.Apply(segments, duration); err != nil {
		return nil, nil, err
	}
	warnings = append(warnings, applier.Warnings()...)
	reporter.Report(90, "calibrate")

	result := &types.AnalysisResult{
		Sections: quantize.Sections(sectBounds, duration),
		Bars:     quantize.Bars(beatTimes, beatNumbers, duration),
		Beats:    quantize.Beats(beatTimes, duration),
		Tatums:   quantize.Tatums(beatTimes, duration, a.cfg.TatumsPerBeat),
		Segments: segments,
		Track: types.TrackInfo{
			Duration:      duration,
			Tempo:         quantize.Tempo(beatTimes),
			TimeSignature: float64(a.cfg.TimeSignature),
		},
		Metadata: metadata,
	}

	if err := NewAssembler(a.cfg.StrictSchema).Finalize(result); err != nil {
		return nil, nil, err
	}
	reporter.Report(100, "done")

	return result, warnings, nil
}

// AnalyzeFiles 并行分析多个文件；文件级并行是预期的扩展方式
func (a *Analyzer) AnalyzeFiles(filePaths []string, concurrency int, showProgress bool) []FileResult {
	if concurrency < 1 {
		concurrency = 1
	}

	var bar *progressbar.ProgressBar
	if showProgress {
		bar = progressbar.NewOptions(len(filePaths),
			progressbar.OptionSetDescription("分析音频文件"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(50),
			progressbar.OptionShowIts(),
		)
	}

	jobs := make(chan int, len(filePaths))
	results := make([]FileResult, len(filePaths))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				path := filePaths[idx]
				result, warnings, err := a.AnalyzeFile(path, nil)
				results[idx] = FileResult{Path: path, Result: result, Warnings: warnings, Err: err}
				if bar != nil {
					bar.Add(1)
				}
			}
		}()
	}

	for i := range filePaths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if bar != nil {
		bar.Finish()
	}
	return results
}
