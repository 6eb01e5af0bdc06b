package bus

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func ev(kind string) Event {
	return Event{Time: time.Now(), Kind: kind}
}

func TestPublishAndSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Publish(ev("created"))
	b.Publish(ev("completed"))

	got := <-ch
	if got.Kind != "created" {
		t.Fatalf("expected created, got %q", got.Kind)
	}
	got = <-ch
	if got.Kind != "completed" {
		t.Fatalf("expected completed, got %q", got.Kind)
	}
}

func TestCatchupOnSubscribe(t *testing.T) {
	b := New()
	b.Publish(ev("one"))
	b.Publish(ev("two"))
	b.Publish(ev("three"))

	ch, unsub := b.Subscribe()
	defer unsub()

	for _, want := range []string{"one", "two", "three"} {
		got := <-ch
		if got.Kind != want {
			t.Fatalf("expected %q, got %q", want, got.Kind)
		}
	}
}

func TestBufferWraps(t *testing.T) {
	b := New()
	for i := 0; i < defaultBufferCap+10; i++ {
		b.Publish(ev(fmt.Sprintf("e%d", i)))
	}
	recent := b.Recent()
	if len(recent) != defaultBufferCap {
		t.Fatalf("len = %d, want %d", len(recent), defaultBufferCap)
	}
	if recent[0].Kind != "e10" {
		t.Fatalf("oldest = %q, want e10", recent[0].Kind)
	}
	if recent[len(recent)-1].Kind != fmt.Sprintf("e%d", defaultBufferCap+9) {
		t.Fatalf("newest = %q", recent[len(recent)-1].Kind)
	}
	if b.Count() != defaultBufferCap+10 {
		t.Fatalf("count = %d", b.Count())
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe()
	unsub()
	unsub() // second call must not panic
}

func TestConcurrentPublish(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(ev("x"))
			}
		}()
	}
	wg.Wait()
	if b.Count() != 1000 {
		t.Fatalf("count = %d, want 1000", b.Count())
	}
}
