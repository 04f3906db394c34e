package decoder

import (
	"fmt"
	"os"

	"audio-structure-analyzer/internal/types"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/meta"
)

// FLACDecoder FLAC格式解码器
type FLACDecoder struct{}

// SupportedFormats 返回支持的格式
func (d *FLACDecoder) SupportedFormats() []string {
	return []string{"flac"}
}

// Decode 解码FLAC文件为单声道波形
func (d *FLACDecoder) Decode(filePath string) (*types.Waveform, *types.TrackMetadata, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("打开FLAC文件失败: %w", err)
	}
	defer file.Close()

	stream, err := flac.New(file)
	if err != nil {
		return nil, nil, fmt.Errorf("解析FLAC文件失败: %w", err)
	}

	info := stream.Info
	if info == nil {
		return nil, nil, fmt.Errorf("无法读取FLAC信息: %s", filePath)
	}

	channels := int(info.NChannels)
	maxVal := float64(int64(1) << uint(info.BitsPerSample-1))

	var mono []float64
	if info.NSamples > 0 {
		mono = make([]float64, 0, info.NSamples)
	}

	// 逐帧读取，各声道取均值并归一化
	for {
		frame, err := stream.ParseNext()
		if err != nil {
			break
		}
		if len(frame.Subframes) == 0 {
			continue
		}
		blockSize := len(frame.Subframes[0].Samples)
		for i := 0; i < blockSize; i++ {
			sum := 0.0
			for ch := 0; ch < channels && ch < len(frame.Subframes); ch++ {
				sum += float64(frame.Subframes[ch].Samples[i])
			}
			mono = append(mono, sum/float64(channels)/maxVal)
		}
	}

	waveform := &types.Waveform{
		Samples:    mono,
		SampleRate: int(info.SampleRate),
	}

	return waveform, parseFLACMetadata(stream), nil
}

// parseFLACMetadata 从Vorbis注释块提取元数据
func parseFLACMetadata(stream *flac.Stream) *types.TrackMetadata {
	metadata := &types.TrackMetadata{}
	for _, block := range stream.Blocks {
		if block.Header.Type != meta.TypeVorbisComment {
			continue
		}
		comment, ok := block.Body.(*meta.VorbisComment)
		if !ok {
			continue
		}
		metadata.Title = getVorbisTag(comment, "TITLE")
		metadata.Artist = getVorbisTag(comment, "ARTIST")
		metadata.Album = getVorbisTag(comment, "ALBUM")
	}
	return metadata
}

// getVorbisTag 获取Vorbis注释标签
func getVorbisTag(comment *meta.VorbisComment, tag string) string {
	for _, field := range comment.Tags {
		if field[0] == tag {
			return field[1]
		}
	}
	return ""
}
