package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("解析时间失败: %v", err)
	}
	return v
}

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: 5 * time.Minute, AlignToStart: true}, zerolog.Nop())

	got := s.nextTick(mustTime(t, "2025-06-01T10:02:30Z"))
	if want := mustTime(t, "2025-06-01T10:05:00Z"); !got.Equal(want) {
		t.Fatalf("对齐后的下一次触发应为 %s, 实际 %s", want, got)
	}

	got = s.nextTick(mustTime(t, "2025-06-01T10:05:00Z"))
	if want := mustTime(t, "2025-06-01T10:10:00Z"); !got.Equal(want) {
		t.Fatalf("恰好在边界时应跳到下一个区间, 实际 %s", got)
	}
}

func TestNextTickDailyOffset(t *testing.T) {
	s := Daily("batch", 15*time.Minute, 0, zerolog.Nop())

	got := s.nextTick(mustTime(t, "2025-06-01T00:10:00Z"))
	if want := mustTime(t, "2025-06-01T00:15:00Z"); !got.Equal(want) {
		t.Fatalf("应在当日 00:15 触发, 实际 %s", got)
	}

	got = s.nextTick(mustTime(t, "2025-06-01T09:00:00Z"))
	if want := mustTime(t, "2025-06-02T00:15:00Z"); !got.Equal(want) {
		t.Fatalf("应在次日 00:15 触发, 实际 %s", got)
	}

	if got := s.bucketStart(mustTime(t, "2025-06-02T00:15:00Z")); !got.Equal(mustTime(t, "2025-06-02T00:15:00Z")) {
		t.Fatalf("bucketStart 不应改变对齐时间, 实际 %s", got)
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: time.Minute}, zerolog.Nop())
	now := mustTime(t, "2025-06-01T10:02:30Z")
	if got := s.nextTick(now); !got.Equal(now.Add(time.Minute)) {
		t.Fatalf("非对齐模式应为 now+interval, 实际 %s", got)
	}
}

func TestRunGroupStopsOnCancel(t *testing.T) {
	var ticks atomic.Int32
	fast := New(Options{Name: "fast", Interval: 10 * time.Millisecond}, zerolog.Nop())
	failing := New(Options{Name: "failing", Interval: 10 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := RunGroup(ctx,
		Job{Scheduler: fast, Tick: func(context.Context, time.Time) error {
			ticks.Add(1)
			return nil
		}},
		Job{Scheduler: failing, Tick: func(context.Context, time.Time) error {
			return errors.New("tick failed")
		}},
	)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("取消后应正常退出, 实际 %v", err)
	}
	if ticks.Load() == 0 {
		t.Fatal("任务应至少执行一次")
	}
}
