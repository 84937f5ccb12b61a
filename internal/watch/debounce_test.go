package watch

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type fired struct {
	last  string
	count int
}

func newTestDebouncer(wait time.Duration) (*Debouncer, *clock.Mock, chan fired) {
	mock := clock.NewMock()
	ch := make(chan fired, 16)
	d := NewDebouncer(mock, wait, func(last string, count int) { ch <- fired{last, count} })
	return d, mock, ch
}

func expectFire(t *testing.T, ch chan fired) fired {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer did not fire")
	}
	return fired{}
}

func expectQuiet(t *testing.T, ch chan fired) {
	t.Helper()
	select {
	case f := <-ch:
		t.Fatalf("unexpected fire: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDebouncerCoalescesBurst(t *testing.T) {
	d, mock, ch := newTestDebouncer(300 * time.Millisecond)
	for i, p := range []string{"a.js", "b.js", "c.js", "d.js"} {
		if i > 0 {
			mock.Add(100 * time.Millisecond)
		}
		d.Touch(p)
	}
	expectQuiet(t, ch)
	mock.Add(300 * time.Millisecond)
	f := expectFire(t, ch)
	if f.count != 4 || f.last != "d.js" {
		t.Fatalf("fire = %+v, want 4 events ending at d.js", f)
	}
	mock.Add(time.Second)
	expectQuiet(t, ch)
	if d.Pending() {
		t.Fatal("nothing should be pending after fire")
	}
}

func TestDebouncerSeparatedBurstsFireEach(t *testing.T) {
	d, mock, ch := newTestDebouncer(300 * time.Millisecond)
	const bursts = 3
	for i := 0; i < bursts; i++ {
		d.Touch("x")
		d.Touch("y")
		mock.Add(400 * time.Millisecond)
		if f := expectFire(t, ch); f.count != 2 {
			t.Fatalf("burst %d: count = %d, want 2", i, f.count)
		}
	}
	expectQuiet(t, ch)
}

func TestDebouncerStop(t *testing.T) {
	d, mock, ch := newTestDebouncer(100 * time.Millisecond)
	d.Touch("a")
	d.Stop()
	mock.Add(time.Second)
	expectQuiet(t, ch)
	d.Touch("b")
	mock.Add(time.Second)
	expectQuiet(t, ch)
}
