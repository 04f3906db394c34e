package decoder

import (
	"fmt"
	"math"
	"os"

	"audio-structure-analyzer/internal/types"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVDecoder WAV格式解码器
type WAVDecoder struct{}

// SupportedFormats 返回支持的格式
func (d *WAVDecoder) SupportedFormats() []string {
	return []string{"wav"}
}

// Decode 解码WAV文件为单声道波形
func (d *WAVDecoder) Decode(filePath string) (*types.Waveform, *types.TrackMetadata, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("打开WAV文件失败: %w", err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, nil, fmt.Errorf("无效的WAV文件: %s", filePath)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, nil, fmt.Errorf("读取WAV采样数据失败: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return nil, nil, fmt.Errorf("WAV文件缺少PCM数据: %s", filePath)
	}

	bitDepth := int(decoder.BitDepth)
	if bitDepth <= 0 {
		bitDepth = 16
	}
	mono := mixdown(normalizePCM(buf, bitDepth), buf.Format.NumChannels)

	waveform := &types.Waveform{
		Samples:    mono,
		SampleRate: buf.Format.SampleRate,
	}

	// WAV 的 INFO 元数据可选
	metadata := &types.TrackMetadata{}
	decoder.ReadMetadata()
	if decoder.Metadata != nil {
		metadata.Title = decoder.Metadata.Title
		metadata.Artist = decoder.Metadata.Artist
		metadata.Album = decoder.Metadata.Product
	}

	return waveform, metadata, nil
}

// normalizePCM 整数采样归一化到 [-1, 1]
func normalizePCM(buf *audio.IntBuffer, bitDepth int) []float64 {
	maxVal := math.Pow(2, float64(bitDepth-1))
	out := make([]float64, len(buf.Data))
	for i, s := range buf.Data {
		out[i] = float64(s) / maxVal
	}
	return out
}
