package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alanyoungcy/polyview/internal/domain"
	"github.com/google/uuid"
)

// testClient connects to the Redis named by POLYVIEW_TEST_REDIS_ADDR and
// skips the test when it is unset. Every test gets its own key prefix.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("POLYVIEW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("POLYVIEW_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := New(ctx, ClientConfig{Addr: addr, KeyPrefix: "polyview-test:" + uuid.NewString() + ":"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMarketCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMarketCache(testClient(t), time.Minute)

	m := domain.Market{
		ID:           "event-1",
		Question:     "Who wins?",
		Outcomes:     []string{"A", "B", "C"},
		Tokens:       []domain.Token{{TokenID: "ta"}, {TokenID: "tb"}, {TokenID: ""}},
		ConditionIDs: []string{"c1", "c2", "c3"},
		MemberIDs:    []string{"m1", "m2", "m3"},
		Synthesized:  true,
	}
	if err := mc.SetMany(ctx, []domain.Market{m, {ID: "solo"}}); err != nil {
		t.Fatalf("SetMany() error = %v", err)
	}

	for _, id := range []string{"event-1", "c2", "m3"} {
		got, err := mc.Get(ctx, id)
		if err != nil || got.ID != "event-1" {
			t.Errorf("Get(%q) = %q, %v", id, got.ID, err)
		}
	}
	if got, err := mc.GetByToken(ctx, "tb"); err != nil || got.ID != "event-1" {
		t.Errorf("GetByToken(tb) = %q, %v", got.ID, err)
	}

	if err := mc.Invalidate(ctx, "event-1"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, err := mc.Get(ctx, "c2"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get after invalidate error = %v, want ErrNotFound", err)
	}
	if _, err := mc.GetByToken(ctx, "ta"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetByToken after invalidate error = %v, want ErrNotFound", err)
	}
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager(testClient(t))

	unlock, err := lm.Acquire(ctx, "refresh", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := lm.Acquire(ctx, "refresh", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second Acquire() error = %v, want ErrLockHeld", err)
	}
	unlock()
	unlock()

	again, err := lm.Acquire(ctx, "refresh", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() after unlock error = %v", err)
	}
	again()
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter(testClient(t))

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "client", 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("Allow() #%d = %v, %v", i, ok, err)
		}
	}
	if ok, err := rl.Allow(ctx, "client", 3, time.Minute); err != nil || ok {
		t.Errorf("Allow() over limit = %v, %v", ok, err)
	}
	if ok, err := rl.Allow(ctx, "other", 3, time.Minute); err != nil || !ok {
		t.Errorf("Allow() other key = %v, %v", ok, err)
	}
}

func TestSignalBus(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bus := NewSignalBus(testClient(t))

	ch, err := bus.Subscribe(ctx, domain.ChannelMarketsRefreshed)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := bus.Publish(ctx, domain.ChannelMarketsRefreshed, []byte(`{"generation":1}`)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-ch:
		if string(msg) != `{"generation":1}` {
			t.Errorf("payload = %s", msg)
		}
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}

func TestHasPattern(t *testing.T) {
	if hasPattern(domain.ChannelMarketsRefreshed) {
		t.Error("plain channel reported as pattern")
	}
	if !hasPattern("markets_*") {
		t.Error("glob channel not reported as pattern")
	}
}
