package callback

import (
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wippyai/ffi-runtime/errors"
)

func TestDispatcherOrder(t *testing.T) {
	d := NewDispatcher(4)

	var got []int
	for i := 0; i < 100; i++ {
		if err := d.Dispatch(func() { got = append(got, i) }, false); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}

	if len(got) != 100 {
		t.Fatalf("ran %d deliveries, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("delivery %d ran as %d", i, v)
		}
	}
}

func TestDispatcherBlockingWaits(t *testing.T) {
	d := NewDispatcher(0)
	defer d.Close()

	var ran atomic.Bool
	if err := d.Dispatch(func() {
		time.Sleep(10 * time.Millisecond)
		ran.Store(true)
	}, true); err != nil {
		t.Fatal(err)
	}
	if !ran.Load() {
		t.Fatal("blocking dispatch returned before the delivery ran")
	}
}

func TestDispatcherReentrant(t *testing.T) {
	d := NewDispatcher(1)
	defer d.Close()

	var inner, onLoop bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Dispatch(func() {
			onLoop = d.OnLoop()
			_ = d.Dispatch(func() { inner = true }, true)
		}, true)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("re-entrant blocking dispatch deadlocked")
	}
	if !onLoop || !inner {
		t.Errorf("onLoop = %v, inner ran = %v", onLoop, inner)
	}
	if d.OnLoop() {
		t.Error("test goroutine reported as the dispatcher")
	}
}

func TestDispatcherSurvivesPanics(t *testing.T) {
	d := NewDispatcher(0)

	var after atomic.Bool
	_ = d.Dispatch(func() { panic("boom") }, true)
	_ = d.Dispatch(func() { after.Store(true) }, false)
	d.Close()

	if !after.Load() {
		t.Fatal("delivery after a panic did not run")
	}
}

func TestDispatcherClosed(t *testing.T) {
	d := NewDispatcher(0)
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	for _, wait := range []bool{false, true} {
		err := d.Dispatch(func() {}, wait)
		var e *errors.Error
		if !stderrors.As(err, &e) || e.Kind != errors.KindClosed {
			t.Errorf("Dispatch(wait=%v) after Close = %v", wait, err)
		}
	}
}

func TestDispatcherClosedFromHandler(t *testing.T) {
	d := NewDispatcher(1)

	errs := make([]error, 2)
	if err := d.Dispatch(func() {
		_ = d.Close()
		errs[0] = d.Dispatch(func() { t.Error("delivery ran after Close") }, false)
		errs[1] = d.Dispatch(func() { t.Error("delivery ran after Close") }, true)
	}, true); err != nil {
		t.Fatal(err)
	}
	for i, err := range errs {
		var e *errors.Error
		if !stderrors.As(err, &e) || e.Kind != errors.KindClosed {
			t.Errorf("dispatch %d after Close from a handler = %v", i, err)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Created, "created"},
		{Invoked, "invoked"},
		{Released, "released"},
		{State(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
