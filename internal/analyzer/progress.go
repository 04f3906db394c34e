package analyzer

import (
	"strings"
	"sync"
	"time"

	"audio-structure-analyzer/internal/types"
)

// 后台爬升的模拟时长范围（秒）
const (
	rampMinSeconds = 20.0
	rampMaxSeconds = 120.0
)

// Reporter 进度报告器：百分比单调不减，
// 同一百分比下重复的等待阶段更新被抑制。
type Reporter struct {
	callback types.ProgressFunc
	tick     time.Duration

	mu   sync.Mutex
	last int
}

// NewReporter 创建进度报告器；callback 为 nil 时所有报告为空操作
func NewReporter(callback types.ProgressFunc) *Reporter {
	return &Reporter{callback: callback, tick: 500 * time.Millisecond, last: -1}
}

// Report 上报一个进度检查点
func (r *Reporter) Report(percent int, stage string) {
	if r.callback == nil {
		return
	}
	r.mu.Lock()
	if percent < r.last {
		percent = r.last
	}
	if percent == r.last && strings.HasSuffix(stage, "_wait") {
		r.mu.Unlock()
		return
	}
	r.last = percent
	r.mu.Unlock()
	r.callback(percent, stage)
}

// Ramp 限定在一个步骤内的后台进度爬升。
// 百分比单调不减且不超过上界；所属步骤上报真实完成前必须停止并汇合。
type Ramp struct {
	stop chan struct{}
	done chan struct{}
}

// StartRamp 启动后台爬升：以固定模拟速率把 [startPct, endPct]
// 区间向上界推进。duration 是该步骤输入的实际时长（秒），
// 用于推算模拟速率。callback 为 nil 时返回 nil。
func (r *Reporter) StartRamp(startPct, endPct int, stage string, duration float64) *Ramp {
	if r.callback == nil {
		return nil
	}

	simulated := duration * 0.6
	if duration <= 0 {
		simulated = 60.0
	}
	if simulated < rampMinSeconds {
		simulated = rampMinSeconds
	}
	if simulated > rampMaxSeconds {
		simulated = rampMaxSeconds
	}
	rate := float64(endPct-startPct) / simulated

	ramp := &Ramp{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(ramp.done)
		startTime := time.Now()
		for {
			elapsed := time.Since(startTime).Seconds()
			pct := startPct + int(elapsed*rate)
			if pct < startPct {
				pct = startPct
			}
			if pct > endPct {
				pct = endPct
			}
			r.Report(pct, stage)
			if pct >= endPct {
				return
			}
			select {
			case <-ramp.stop:
				return
			case <-time.After(r.tick):
			}
		}
	}()

	return ramp
}

// StopRamp 停止爬升并等待后台协程退出；对 nil 安全
func (r *Reporter) StopRamp(ramp *Ramp) {
	if ramp == nil {
		return
	}
	close(ramp.stop)
	<-ramp.done
}
