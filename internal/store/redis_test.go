package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/model"
	"github.com/praxislabs/scout/internal/workflow"
)

func newRedisStoreForTest(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreWithClient(client, time.Hour, zap.NewNop()), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	s, _ := newRedisStoreForTest(t)
	ctx := context.Background()

	st := workflow.NewState("t1")
	st.Stage = workflow.StageHumanReview
	st.PlannedQueries = []string{"q1", "q2"}
	st.Messages = append(st.Messages, model.NewMessage(model.RoleUser, "hello", model.StatusComplete))

	if err := s.Save(ctx, st); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := s.Load(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.Stage != workflow.StageHumanReview || len(got.PlannedQueries) != 2 {
		t.Fatalf("unexpected state: %+v", got)
	}
	if got.Messages[0].Content != "hello" {
		t.Fatalf("messages lost: %+v", got.Messages)
	}
}

func TestRedisStoreMiss(t *testing.T) {
	s, _ := newRedisStoreForTest(t)
	if _, ok, err := s.Load(context.Background(), "nope"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestRedisStoreTTL(t *testing.T) {
	s, mr := newRedisStoreForTest(t)
	ctx := context.Background()

	if err := s.Save(ctx, workflow.NewState("t1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.FastForward(2 * time.Hour)
	if _, ok, _ := s.Load(ctx, "t1"); ok {
		t.Fatal("state should have expired")
	}
}

func TestRedisStoreDelete(t *testing.T) {
	s, _ := newRedisStoreForTest(t)
	ctx := context.Background()

	_ = s.Save(ctx, workflow.NewState("t1"))
	if err := s.Delete(ctx, "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Load(ctx, "t1"); ok {
		t.Fatal("state survived delete")
	}
}
