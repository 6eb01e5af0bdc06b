// Package remotetest provides a scriptable in-memory Service for tests.
package remotetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"reasongate/internal/remote"
)

// Reply scripts one response. If Err is set it is returned instead.
type Reply struct {
	Text string
	Err  error
}

// Responder computes a reply from the message sent. Used when static
// scripts are not enough.
type Responder func(sent string) Reply

// FakeService hands out FakeChats. Replies are consumed in order; when
// the script is exhausted, Default (or a generic line) is returned.
// A per-send Delay can simulate slow remotes, and the service tracks
// the peak number of concurrent in-flight sends across all chats.
type FakeService struct {
	mu        sync.Mutex
	script    []Reply
	Responder Responder
	Default   string
	Delay     time.Duration

	inflight    atomic.Int64
	maxInflight atomic.Int64
	sends       atomic.Int64
	chats       atomic.Int64
}

// NewFakeService scripts the given replies in order.
func NewFakeService(replies ...Reply) *FakeService {
	return &FakeService{script: replies, Default: "acknowledged."}
}

// StartChat returns a chat sharing the service-wide script.
func (f *FakeService) StartChat(_ context.Context, system string, history []remote.Message) (remote.Chat, error) {
	f.chats.Add(1)
	return &FakeChat{svc: f, System: system, History: history}, nil
}

// Chats reports how many chats were started.
func (f *FakeService) Chats() int { return int(f.chats.Load()) }

// Sends reports how many messages were sent across all chats.
func (f *FakeService) Sends() int { return int(f.sends.Load()) }

// MaxInflight reports the peak concurrent Send count observed.
func (f *FakeService) MaxInflight() int { return int(f.maxInflight.Load()) }

func (f *FakeService) next(sent string) Reply {
	if f.Responder != nil {
		return f.Responder(sent)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.script) > 0 {
		r := f.script[0]
		f.script = f.script[1:]
		return r
	}
	if f.Default != "" {
		return Reply{Text: f.Default}
	}
	return Reply{Text: fmt.Sprintf("reply to: %.60s", sent)}
}

// FakeChat records what was sent to it.
type FakeChat struct {
	svc     *FakeService
	System  string
	History []remote.Message

	mu   sync.Mutex
	Sent []string
}

// Send returns the next scripted reply.
func (c *FakeChat) Send(ctx context.Context, text string) (string, error) {
	c.svc.sends.Add(1)
	cur := c.svc.inflight.Add(1)
	for {
		max := c.svc.maxInflight.Load()
		if cur <= max || c.svc.maxInflight.CompareAndSwap(max, cur) {
			break
		}
	}
	defer c.svc.inflight.Add(-1)

	if d := c.svc.Delay; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	c.mu.Lock()
	c.Sent = append(c.Sent, text)
	c.mu.Unlock()

	r := c.svc.next(text)
	if r.Err != nil {
		return "", r.Err
	}
	return r.Text, nil
}

// SentMessages returns a copy of everything sent on this chat.
func (c *FakeChat) SentMessages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Sent))
	copy(out, c.Sent)
	return out
}
