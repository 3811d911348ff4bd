package fn

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResultRoundTrip(t *testing.T) {
	v, err := Ok(7).Unwrap()
	if v != 7 || err != nil {
		t.Fatalf("Ok: got (%d, %v)", v, err)
	}

	boom := errors.New("boom")
	if _, err := Err[int](boom).Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("Err: got %v", err)
	}
	if !Ok(1).IsOk() || !Err[int](boom).IsErr() {
		t.Fatal("IsOk/IsErr disagree with constructors")
	}
}

func TestFromPair(t *testing.T) {
	if r := FromPair(3, nil); r.IsErr() {
		t.Fatal("nil error should be ok")
	}
	if r := FromPair(0, errors.New("x")); r.IsOk() {
		t.Fatal("non-nil error should not be ok")
	}
}

func TestCollect(t *testing.T) {
	vals, err := Collect([]Result[int]{Ok(1), Ok(2), Ok(3)}).Unwrap()
	if err != nil || len(vals) != 3 || vals[2] != 3 {
		t.Fatalf("got (%v, %v)", vals, err)
	}

	boom := errors.New("boom")
	if _, err := Collect([]Result[int]{Ok(1), Err[int](boom)}).Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestThenChainsAndShortCircuits(t *testing.T) {
	double := Stage[int, int](func(_ context.Context, n int) Result[int] { return Ok(n * 2) })
	str := Stage[int, string](func(_ context.Context, n int) Result[string] {
		if n > 10 {
			return Err[string](errors.New("too big"))
		}
		return Ok("ok")
	})

	if v, err := Then(double, str)(context.Background(), 3).Unwrap(); err != nil || v != "ok" {
		t.Fatalf("got (%q, %v)", v, err)
	}

	called := false
	failFirst := Stage[int, int](func(_ context.Context, _ int) Result[int] {
		return Err[int](errors.New("first"))
	})
	spy := Stage[int, int](func(_ context.Context, n int) Result[int] {
		called = true
		return Ok(n)
	})
	if _, err := Then(failFirst, spy)(context.Background(), 1).Unwrap(); err == nil {
		t.Fatal("expected first stage error")
	}
	if called {
		t.Fatal("second stage must not run after failure")
	}
}

func TestTracedStagePassesThrough(t *testing.T) {
	stage := TracedStage("test", Stage[int, int](func(_ context.Context, n int) Result[int] {
		return Ok(n + 1)
	}))
	if v, err := stage(context.Background(), 1).Unwrap(); err != nil || v != 2 {
		t.Fatalf("got (%d, %v)", v, err)
	}

	boom := errors.New("boom")
	failed := TracedStage("test", Stage[int, int](func(_ context.Context, _ int) Result[int] {
		return Err[int](boom)
	}))
	if _, err := failed(context.Background(), 1).Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestFanOutPreservesOrder(t *testing.T) {
	out := FanOut(
		func() int { time.Sleep(10 * time.Millisecond); return 1 },
		func() int { return 2 },
		func() int { return 3 },
	)
	if out[0] != 1 || out[1] != 2 || out[2] != 3 {
		t.Fatalf("out = %v", out)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond},
		func(_ context.Context) Result[int] {
			attempts++
			if attempts < 3 {
				return Err[int](errors.New("transient"))
			}
			return Ok(attempts)
		})
	if v, err := r.Unwrap(); err != nil || v != 3 {
		t.Fatalf("got (%d, %v) after %d attempts", v, err, attempts)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	attempts := 0
	r := Retry(context.Background(), RetryOpts{
		MaxAttempts: 5,
		InitialWait: time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
	}, func(_ context.Context) Result[int] {
		attempts++
		return Err[int](fatal)
	})
	if _, err := r.Unwrap(); !errors.Is(err, fatal) {
		t.Fatalf("err = %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond},
		func(_ context.Context) Result[int] {
			attempts++
			return Err[int](errors.New("always"))
		})
	if r.IsOk() || attempts != 3 {
		t.Fatalf("ok=%v attempts=%d", r.IsOk(), attempts)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := Retry(ctx, RetryOpts{MaxAttempts: 10, InitialWait: time.Hour},
		func(_ context.Context) Result[int] {
			return Err[int](errors.New("transient"))
		})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestMap(t *testing.T) {
	out := Map([]int{1, 2, 3}, func(n int) int { return n * n })
	if len(out) != 3 || out[2] != 9 {
		t.Fatalf("out = %v", out)
	}
}

func TestFilter(t *testing.T) {
	out := Filter([]int{1, 2, 3, 4}, func(n int) bool { return n%2 == 0 })
	if len(out) != 2 || out[0] != 2 || out[1] != 4 {
		t.Fatalf("out = %v", out)
	}
	if Filter(nil, func(int) bool { return true }) != nil {
		t.Fatal("empty input should stay nil")
	}
}

func TestChunk(t *testing.T) {
	got := Chunk([]int{1, 2, 3, 4, 5}, 2)
	if len(got) != 3 || len(got[0]) != 2 || len(got[2]) != 1 {
		t.Fatalf("got = %v", got)
	}
	if Chunk([]int{1}, 0) != nil {
		t.Fatal("n <= 0 should yield nil")
	}
}
