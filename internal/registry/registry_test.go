package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/postalsys/wirelink/internal/wire"
)

func TestNextTagUnique(t *testing.T) {
	r := New()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tag := r.NextTag()
		if seen[tag] {
			t.Fatalf("duplicate tag %s", tag)
		}
		seen[tag] = true
		if !strings.Contains(tag, ".") {
			t.Fatalf("tag %q missing timestamp component", tag)
		}
	}
}

func TestResolve(t *testing.T) {
	r := New()

	tag := r.NextTag()
	p, err := r.Register(tag, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	reply := &wire.Frame{Kind: wire.KindStructured, Tag: tag}
	if !r.Resolve(tag, reply) {
		t.Fatal("Resolve returned false for pending tag")
	}

	got, err := p.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got != reply {
		t.Error("Wait returned wrong frame")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d after resolve", r.Len())
	}
}

func TestResolveUnknownTag(t *testing.T) {
	r := New()
	if r.Resolve("55.1700", &wire.Frame{}) {
		t.Error("Resolve returned true for unknown tag")
	}
}

func TestResolveAtMostOnce(t *testing.T) {
	r := New()

	tag := r.NextTag()
	p, err := r.Register(tag, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	if !r.Resolve(tag, &wire.Frame{}) {
		t.Fatal("first resolve failed")
	}
	if r.Resolve(tag, &wire.Frame{}) {
		t.Error("second resolve succeeded; tag must resolve at most once")
	}

	if _, err := p.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestDuplicateRegister(t *testing.T) {
	r := New()

	tag := r.NextTag()
	if _, err := r.Register(tag, time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register(tag, time.Minute); !errors.Is(err, ErrDuplicateTag) {
		t.Errorf("err = %v, want ErrDuplicateTag", err)
	}
}

func TestTimeout(t *testing.T) {
	r := New()

	tag := r.NextTag()
	p, err := r.Register(tag, 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.Wait(context.Background())
	if !errors.Is(err, ErrRequestTimeout) {
		t.Errorf("err = %v, want ErrRequestTimeout", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d after timeout", r.Len())
	}

	// A reply arriving after the timeout is dropped.
	if r.Resolve(tag, &wire.Frame{}) {
		t.Error("late reply resolved a timed-out request")
	}
}

func TestRejectAll(t *testing.T) {
	r := New()

	var waiters []*Pending
	for i := 0; i < 5; i++ {
		p, err := r.Register(r.NextTag(), time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		waiters = append(waiters, p)
	}

	reason := errors.New("epoch ended")
	r.RejectAll(reason)

	for _, p := range waiters {
		if _, err := p.Wait(context.Background()); !errors.Is(err, reason) {
			t.Errorf("Wait err = %v, want %v", err, reason)
		}
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d after RejectAll", r.Len())
	}
}

func TestRejectAllDefaultReason(t *testing.T) {
	r := New()
	p, err := r.Register(r.NextTag(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	r.RejectAll(nil)

	if _, err := p.Wait(context.Background()); !errors.Is(err, ErrConnectionReset) {
		t.Errorf("err = %v, want ErrConnectionReset", err)
	}
}

func TestWaitContextCancel(t *testing.T) {
	r := New()
	p, err := r.Register(r.NextTag(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestConcurrentResolveTimeout(t *testing.T) {
	// Race replies against short deadlines; each request must complete
	// exactly once, either with the frame or with a timeout.
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		tag := r.NextTag()
		p, err := r.Register(tag, time.Millisecond)
		if err != nil {
			t.Fatal(err)
		}

		wg.Add(2)
		go func(tag string) {
			defer wg.Done()
			r.Resolve(tag, &wire.Frame{Tag: tag})
		}(tag)
		go func(p *Pending) {
			defer wg.Done()
			f, err := p.Wait(context.Background())
			if err == nil && f == nil {
				t.Error("nil frame with nil error")
			}
			if err != nil && !errors.Is(err, ErrRequestTimeout) {
				t.Errorf("unexpected error: %v", err)
			}
		}(p)
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Errorf("Len = %d after drain", r.Len())
	}
}
