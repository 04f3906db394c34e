package analyzer

import (
	"sync"
	"testing"
	"time"
)

type progressRecord struct {
	percent int
	stage   string
}

type recorder struct {
	mu      sync.Mutex
	records []progressRecord
}

func (r *recorder) callback(percent int, stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, progressRecord{percent, stage})
}

func (r *recorder) snapshot() []progressRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progressRecord(nil), r.records...)
}

func TestReportMonotone(t *testing.T) {
	rec := &recorder{}
	r := NewReporter(rec.callback)

	r.Report(10, "decode")
	r.Report(40, "beats")
	r.Report(20, "features") // 回退被钳制到当前值

	records := rec.snapshot()
	if len(records) != 3 {
		t.Fatalf("len = %d, want 3", len(records))
	}
	last := -1
	for _, rc := range records {
		if rc.percent < last {
			t.Fatalf("百分比出现回退: %+v", records)
		}
		last = rc.percent
	}
	if records[2].percent != 40 {
		t.Errorf("回退的报告应钳制到 40: %+v", records[2])
	}
}

func TestReportSuppressesRepeatedWaitStage(t *testing.T) {
	rec := &recorder{}
	r := NewReporter(rec.callback)

	r.Report(10, "beats_wait")
	r.Report(10, "beats_wait")
	r.Report(10, "beats_wait")
	r.Report(10, "beats") // 非等待阶段不被抑制

	records := rec.snapshot()
	if len(records) != 2 {
		t.Fatalf("同一百分比的等待阶段应被抑制: %+v", records)
	}
	if records[1].stage != "beats" {
		t.Errorf("records[1] = %+v", records[1])
	}
}

func TestNilCallbackIsNoop(t *testing.T) {
	r := NewReporter(nil)
	r.Report(50, "features")
	ramp := r.StartRamp(10, 40, "beats_wait", 60)
	if ramp != nil {
		t.Fatal("无回调时不应启动爬升")
	}
	r.StopRamp(ramp) // nil 安全
}

func TestRampReportsWithinBoundsAndJoins(t *testing.T) {
	rec := &recorder{}
	r := NewReporter(rec.callback)
	r.tick = time.Millisecond

	ramp := r.StartRamp(10, 40, "beats_wait", 60)
	time.Sleep(10 * time.Millisecond)
	r.StopRamp(ramp)

	records := rec.snapshot()
	if len(records) == 0 {
		t.Fatal("爬升期间应至少报告一次")
	}
	last := -1
	for _, rc := range records {
		if rc.percent < 10 || rc.percent > 40 {
			t.Fatalf("爬升百分比越界: %+v", rc)
		}
		if rc.percent < last {
			t.Fatalf("爬升百分比出现回退: %+v", records)
		}
		last = rc.percent
		if rc.stage != "beats_wait" {
			t.Fatalf("阶段标签不符: %+v", rc)
		}
	}

	// 汇合后不再有新的报告
	n := len(records)
	time.Sleep(5 * time.Millisecond)
	if len(rec.snapshot()) != n {
		t.Fatal("StopRamp 返回后协程仍在报告")
	}

	// 真实完成接管进度
	r.Report(40, "beats")
	final := rec.snapshot()
	if final[len(final)-1].stage != "beats" {
		t.Fatalf("最后一条应为真实完成: %+v", final[len(final)-1])
	}
}
