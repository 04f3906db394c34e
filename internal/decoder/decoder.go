package decoder

import (
	"fmt"
	"path/filepath"
	"strings"

	"audio-structure-analyzer/internal/types"
)

// AudioDecoder 音频解码器接口；产出单声道波形和元数据
type AudioDecoder interface {
	Decode(filePath string) (*types.Waveform, *types.TrackMetadata, error)
	SupportedFormats() []string
}

// Registry 解码器注册表
type Registry struct {
	decoders map[string]AudioDecoder
}

// NewRegistry 创建新的解码器注册表
func NewRegistry() *Registry {
	registry := &Registry{
		decoders: make(map[string]AudioDecoder),
	}

	// 注册支持的解码器
	registry.Register(&WAVDecoder{})
	registry.Register(&FLACDecoder{})

	return registry
}

// Register 注册解码器
func (r *Registry) Register(decoder AudioDecoder) {
	for _, format := range decoder.SupportedFormats() {
		r.decoders[strings.ToLower(format)] = decoder
	}
}

// GetDecoder 根据文件扩展名获取解码器
func (r *Registry) GetDecoder(filePath string) (AudioDecoder, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	if ext == "" {
		return nil, fmt.Errorf("无法确定文件格式: %s", filePath)
	}

	// 移除点号
	ext = ext[1:]

	decoder, exists := r.decoders[ext]
	if !exists {
		return nil, fmt.Errorf("不支持的音频格式: %s", ext)
	}

	return decoder, nil
}

// DecodeFile 解码音频文件为单声道波形。
// 不可读的文件返回 DecodeError，零长度信号返回 EmptySignalError。
func (r *Registry) DecodeFile(filePath string) (*types.Waveform, *types.TrackMetadata, error) {
	decoder, err := r.GetDecoder(filePath)
	if err != nil {
		return nil, nil, &types.DecodeError{Path: filePath, Err: err}
	}

	waveform, metadata, err := decoder.Decode(filePath)
	if err != nil {
		return nil, nil, &types.DecodeError{Path: filePath, Err: err}
	}
	if len(waveform.Samples) == 0 {
		return nil, nil, &types.EmptySignalError{Path: filePath}
	}
	return waveform, metadata, nil
}

// mixdown 多声道交错采样合并为单声道（声道均值）
func mixdown(interleaved []float64, channels int) []float64 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		sum := 0.0
		for ch := 0; ch < channels; ch++ {
			sum += interleaved[i*channels+ch]
		}
		mono[i] = sum / float64(channels)
	}
	return mono
}

// Resample 整数比降采样（块平均）。目标采样率不低于原始采样率时原样返回。
func Resample(w *types.Waveform, targetRate int) *types.Waveform {
	if targetRate <= 0 || targetRate >= w.SampleRate {
		return w
	}
	ratio := w.SampleRate / targetRate
	if ratio <= 1 {
		return w
	}

	resampled := make([]float64, 0, len(w.Samples)/ratio+1)
	for i := 0; i < len(w.Samples); i += ratio {
		end := i + ratio
		if end > len(w.Samples) {
			end = len(w.Samples)
		}
		sum := 0.0
		for j := i; j < end; j++ {
			sum += w.Samples[j]
		}
		resampled = append(resampled, sum/float64(end-i))
	}

	return &types.Waveform{Samples: resampled, SampleRate: w.SampleRate / ratio}
}
