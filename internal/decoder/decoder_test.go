package decoder

import (
	"math"
	"testing"

	"audio-structure-analyzer/internal/types"
)

func TestRegistrySupportedFormats(t *testing.T) {
	r := NewRegistry()

	for _, path := range []string{"a.wav", "b.WAV", "c.flac"} {
		if _, err := r.GetDecoder(path); err != nil {
			t.Errorf("GetDecoder(%q): %v", path, err)
		}
	}
	if _, err := r.GetDecoder("d.mp3"); err == nil {
		t.Error("不支持的格式应返回错误")
	}
	if _, err := r.GetDecoder("noext"); err == nil {
		t.Error("无扩展名应返回错误")
	}
}

func TestDecodeFileMissingPath(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.DecodeFile("/nonexistent/file.wav")
	if err == nil {
		t.Fatal("不存在的文件应返回错误")
	}
	if _, ok := err.(*types.DecodeError); !ok {
		t.Fatalf("错误类型不符: %T", err)
	}
}

func TestMixdownAveragesChannels(t *testing.T) {
	stereo := []float64{1, 0, 0.5, 0.5, -1, 1}
	mono := mixdown(stereo, 2)
	want := []float64{0.5, 0.5, 0}
	if len(mono) != len(want) {
		t.Fatalf("mixdown 长度 = %d, want %d", len(mono), len(want))
	}
	for i := range want {
		if math.Abs(mono[i]-want[i]) > 1e-12 {
			t.Errorf("mono[%d] = %v, want %v", i, mono[i], want[i])
		}
	}
}

func TestMixdownMonoPassthrough(t *testing.T) {
	samples := []float64{0.1, 0.2}
	mono := mixdown(samples, 1)
	if len(mono) != 2 || mono[0] != 0.1 {
		t.Fatalf("单声道应原样返回: %v", mono)
	}
}

func TestResampleHalvesRate(t *testing.T) {
	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = float64(i % 2) // 0,1,0,1,...
	}
	w := &types.Waveform{Samples: samples, SampleRate: 44100}

	out := Resample(w, 22050)
	if out.SampleRate != 22050 {
		t.Fatalf("SampleRate = %d, want 22050", out.SampleRate)
	}
	if len(out.Samples) != 50 {
		t.Fatalf("len = %d, want 50", len(out.Samples))
	}
	// 相邻两点块平均
	for i, v := range out.Samples {
		if math.Abs(v-0.5) > 1e-12 {
			t.Errorf("Samples[%d] = %v, want 0.5", i, v)
		}
	}
	// 时长保持不变
	if math.Abs(out.Duration()-w.Duration()) > 1e-9 {
		t.Errorf("降采样改变了时长: %v vs %v", out.Duration(), w.Duration())
	}
}

func TestResampleNoUpsampling(t *testing.T) {
	w := &types.Waveform{Samples: []float64{1, 2, 3}, SampleRate: 22050}
	if out := Resample(w, 44100); out != w {
		t.Error("目标采样率更高时应原样返回")
	}
	if out := Resample(w, 22050); out != w {
		t.Error("采样率相同时应原样返回")
	}
}
