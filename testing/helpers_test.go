package testing

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRecorder_RecordsCopies(t *testing.T) {
	rec := NewRecorder[int]()

	batch := []int{1, 2, 3}
	if err := rec.Flush(context.Background(), batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	batch[0] = 99

	got := rec.Batches()
	if len(got) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(got))
	}
	if got[0][0] != 1 {
		t.Errorf("recorder should keep its own copy, got %v", got[0])
	}
}

func TestRecorder_FailWith(t *testing.T) {
	boom := errors.New("boom")
	rec := NewRecorder[string]().FailWith(func([]string) error { return boom })

	err := rec.Flush(context.Background(), []string{"a"})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if rec.Count() != 1 {
		t.Errorf("failed batches should still be recorded, got %d", rec.Count())
	}
}

func TestRecorder_WaitForBatches(t *testing.T) {
	rec := NewRecorder[int]()

	go func() {
		for i := 0; i < 3; i++ {
			_ = rec.Flush(context.Background(), []int{i})
		}
	}()

	got := rec.WaitForBatches(t, 3, time.Second)
	if len(got) != 3 {
		t.Errorf("expected 3 batches, got %d", len(got))
	}
}

func TestFlatten(t *testing.T) {
	got := Flatten([][]int{{1, 2}, {}, {3}})
	want := []int{1, 2, 3}

	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestSequence(t *testing.T) {
	got := Sequence(4)
	for i, v := range got {
		if v != i {
			t.Errorf("index %d: expected %d, got %d", i, i, v)
		}
	}
	if len(Sequence(0)) != 0 {
		t.Error("expected empty sequence")
	}
}

func TestCollectErrorsWithTimeout(t *testing.T) {
	ch := make(chan error, 2)
	ch <- errors.New("one")
	ch <- errors.New("two")
	close(ch)

	errs := CollectErrorsWithTimeout(t, ch, time.Second)
	if len(errs) != 2 {
		t.Errorf("expected 2 errors, got %d", len(errs))
	}

	open := make(chan error)
	start := time.Now()
	errs = CollectErrorsWithTimeout(t, open, 20*time.Millisecond)
	if len(errs) != 0 {
		t.Errorf("expected no errors, got %d", len(errs))
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("expected collection to wait for the timeout")
	}
}

func TestAssertExactlyOnce(t *testing.T) {
	AssertExactlyOnce(t, []int{3, 1, 2}, []int{1, 2, 3})
}
