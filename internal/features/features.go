package features

import (
	"math"
	"math/cmplx"

	"audio-structure-analyzer/internal/config"
	"audio-structure-analyzer/internal/types"

	"github.com/mjibson/go-dsp/fft"
)

const (
	logEps        = 1e-10
	loudnessFloor = -80.0 // 静音响度下限 (dB)
	chromaMinHz   = 27.5  // A0 以下的频率不计入音级能量
)

// Extractor 帧级特征提取器；所有曲线在同一跳长网格上计算
type Extractor struct {
	cfg        *config.AnalysisConfig
	window     []float64
	melFilters [][]float64
	filterRate int // melFilters 对应的采样率
}

// NewExtractor 创建特征提取器
func NewExtractor(cfg *config.AnalysisConfig) *Extractor {
	return &Extractor{
		cfg:        cfg,
		window:     hannWindow(cfg.WindowSize),
		melFilters: melFilterBank(cfg.MelBands, cfg.WindowSize, cfg.SampleRate),
		filterRate: cfg.SampleRate,
	}
}

// Extract 提取帧级特征矩阵。零长度信号返回 EmptySignalError。
func (e *Extractor) Extract(w *types.Waveform) (*types.FrameFeatureMatrix, error) {
	if len(w.Samples) == 0 {
		return nil, &types.EmptySignalError{}
	}

	// 重采样只能做整数比，实际采样率可能偏离配置值；
	// 频率相关的映射必须跟随波形的真实采样率
	if w.SampleRate != e.filterRate {
		e.melFilters = melFilterBank(e.cfg.MelBands, e.cfg.WindowSize, w.SampleRate)
		e.filterRate = w.SampleRate
	}

	hop := e.cfg.HopLength
	winSize := e.cfg.WindowSize
	numCoeffs := e.cfg.TimbreCoeffs
	if e.cfg.UseZeroth {
		numCoeffs++
	}

	frameCount := (len(w.Samples) + hop - 1) / hop

	timbre := make([][]float64, 0, frameCount)
	chroma := make([][]float64, 0, frameCount)
	loudness := make([]float64, 0, frameCount)
	onset := make([]float64, 0, frameCount)

	frame := make([]float64, winSize)
	var prevLogPower []float64

	for start := 0; start < len(w.Samples); start += hop {
		// 末尾不足一窗时补零
		for i := range frame {
			idx := start + i
			if idx < len(w.Samples) {
				frame[i] = w.Samples[idx] * e.window[i]
			} else {
				frame[i] = 0
			}
		}

		spectrum := fft.FFTReal(frame)
		bins := winSize/2 + 1
		power := make([]float64, bins)
		for k := 0; k < bins; k++ {
			mag := cmplx.Abs(spectrum[k])
			power[k] = mag * mag
		}

		timbre = append(timbre, e.timbreCoeffs(power, numCoeffs))
		chroma = append(chroma, e.chromaVector(power, w.SampleRate))
		loudness = append(loudness, powerToDB(power))

		logPower := make([]float64, bins)
		for k := range power {
			logPower[k] = math.Log(power[k] + logEps)
		}
		onset = append(onset, spectralFlux(logPower, prevLogPower))
		prevLogPower = logPower
	}

	m := &types.FrameFeatureMatrix{
		Timbre:     timbre,
		Chroma:     chroma,
		Loudness:   loudness,
		Onset:      onset,
		SampleRate: w.SampleRate,
		HopLength:  hop,
	}
	alignCurves(m)

	m.FrameTimes = make([]float64, len(m.Loudness))
	for i := range m.FrameTimes {
		m.FrameTimes[i] = float64(i*hop) / float64(w.SampleRate)
	}

	return m, nil
}

// alignCurves 将所有派生曲线截断到最短帧数，保证帧数一致
func alignCurves(m *types.FrameFeatureMatrix) {
	n := len(m.Timbre)
	if len(m.Chroma) < n {
		n = len(m.Chroma)
	}
	if len(m.Loudness) < n {
		n = len(m.Loudness)
	}
	if len(m.Onset) < n {
		n = len(m.Onset)
	}
	m.Timbre = m.Timbre[:n]
	m.Chroma = m.Chroma[:n]
	m.Loudness = m.Loudness[:n]
	m.Onset = m.Onset[:n]
}

// timbreCoeffs mel 滤波 → 对数 → DCT-II，取前 n 个系数
func (e *Extractor) timbreCoeffs(power []float64, n int) []float64 {
	melEnergy := make([]float64, len(e.melFilters))
	for b, filter := range e.melFilters {
		sum := 0.0
		for k, wgt := range filter {
			if wgt > 0 {
				sum += wgt * power[k]
			}
		}
		melEnergy[b] = math.Log(sum + logEps)
	}
	return dct2(melEnergy, n)
}

// chromaVector 将各频点能量折叠到 12 个音级，按帧内最大值归一化
func (e *Extractor) chromaVector(power []float64, sampleRate int) []float64 {
	chroma := make([]float64, 12)
	freqStep := float64(sampleRate) / float64(e.cfg.WindowSize)
	nyquist := float64(sampleRate) / 2

	for k := 1; k < len(power); k++ {
		freq := float64(k) * freqStep
		if freq < chromaMinHz || freq > nyquist {
			continue
		}
		// MIDI 音高 = 69 + 12*log2(f/440)
		midi := 69.0 + 12.0*math.Log2(freq/440.0)
		pc := int(math.Round(midi)) % 12
		if pc < 0 {
			pc += 12
		}
		chroma[pc] += power[k]
	}

	maxVal := 0.0
	for _, v := range chroma {
		if v > maxVal {
			maxVal = v
		}
	}
	if maxVal > 0 {
		for i := range chroma {
			chroma[i] /= maxVal
		}
	}
	return chroma
}

// powerToDB 平均功率转响度 (dB)，下限 -80
func powerToDB(power []float64) float64 {
	sum := 0.0
	for _, p := range power {
		sum += p
	}
	mean := sum / float64(len(power))
	db := 10 * math.Log10(mean+logEps)
	if db < loudnessFloor {
		db = loudnessFloor
	}
	return db
}

// spectralFlux 半波整流的对数谱通量
func spectralFlux(logPower, prevLogPower []float64) float64 {
	if prevLogPower == nil {
		return 0
	}
	flux := 0.0
	for k := range logPower {
		d := logPower[k] - prevLogPower[k]
		if d > 0 {
			flux += d
		}
	}
	return flux / float64(len(logPower))
}

// hannWindow 汉宁窗；不足两点时退化为矩形窗
func hannWindow(size int) []float64 {
	window := make([]float64, size)
	if size < 2 {
		for i := range window {
			window[i] = 1
		}
		return window
	}
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(size-1))
	}
	return window
}

// melFilterBank 三角 mel 滤波器组，覆盖 0 到奈奎斯特频率
func melFilterBank(numBands, windowSize, sampleRate int) [][]float64 {
	bins := windowSize/2 + 1
	freqStep := float64(sampleRate) / float64(windowSize)

	melLow := hzToMel(0)
	melHigh := hzToMel(float64(sampleRate) / 2)
	melPoints := make([]float64, numBands+2)
	for i := range melPoints {
		melPoints[i] = melLow + (melHigh-melLow)*float64(i)/float64(numBands+1)
	}

	edges := make([]float64, len(melPoints))
	for i, m := range melPoints {
		edges[i] = melToHz(m)
	}

	filters := make([][]float64, numBands)
	for b := 0; b < numBands; b++ {
		filter := make([]float64, bins)
		lo, center, hi := edges[b], edges[b+1], edges[b+2]
		for k := 0; k < bins; k++ {
			freq := float64(k) * freqStep
			switch {
			case freq < lo || freq > hi:
				// 三角形外为零
			case freq <= center:
				if center > lo {
					filter[k] = (freq - lo) / (center - lo)
				}
			default:
				if hi > center {
					filter[k] = (hi - freq) / (hi - center)
				}
			}
		}
		filters[b] = filter
	}
	return filters
}

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

// dct2 正交归一化的 DCT-II，保留前 n 个系数
func dct2(input []float64, n int) []float64 {
	size := len(input)
	if n > size {
		n = size
	}
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		sum := 0.0
		for i, x := range input {
			sum += x * math.Cos(math.Pi/float64(size)*(float64(i)+0.5)*float64(k))
		}
		scale := math.Sqrt(2.0 / float64(size))
		if k == 0 {
			scale = math.Sqrt(1.0 / float64(size))
		}
		out[k] = sum * scale
	}
	return out
}
