package services_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"casino-settlement/internal/services"
)

func newTestRedis(t *testing.T) *services.RedisService {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skipf("TEST_REDIS_ADDR not set, skipping redis integration test")
	}
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	r, err := services.NewRedisService(addr, "", 15, log)
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestWithdrawalQueueFIFO(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	for _, id := range []uint64{11, 22, 33} {
		if err := r.PushWithdrawal(ctx, id); err != nil {
			t.Fatalf("push %d: %v", id, err)
		}
	}

	for _, want := range []uint64{11, 22, 33} {
		got, ok, err := r.PopWithdrawal(ctx, time.Second)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if !ok {
			t.Fatal("queue unexpectedly empty")
		}
		if got != want {
			t.Errorf("pop order: got %d, want %d", got, want)
		}
	}

	// Empty queue times out without error.
	_, ok, err := r.PopWithdrawal(ctx, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("pop on empty queue: %v", err)
	}
	if ok {
		t.Error("expected timeout on empty queue")
	}
}

func TestTransactionDedupCache(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	txHash := fmt.Sprintf("0xcache%d", time.Now().UnixNano())
	if r.SeenTransaction(ctx, txHash) {
		t.Fatal("fresh hash reported as seen")
	}
	r.MarkTransaction(ctx, txHash, time.Minute)
	if !r.SeenTransaction(ctx, txHash) {
		t.Error("marked hash not reported as seen")
	}
}

func TestCheckRateLimit(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	userID := time.Now().UnixNano()
	allowed := 0
	for i := 0; i < 5; i++ {
		if r.CheckRateLimit(ctx, userID, "test", 3, time.Minute) {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("allowed %d of 5 with limit 3", allowed)
	}
}

func TestEventPubSub(t *testing.T) {
	r := newTestRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := r.SubscribeEvents(ctx)
	defer sub.Close()
	// Wait for the subscription to land before publishing.
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	r.PublishEvent(ctx, services.Event{Type: services.EventDepositConfirmed, UserID: 7})

	select {
	case msg := <-sub.Channel():
		if msg.Payload == "" {
			t.Error("empty event payload")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}
