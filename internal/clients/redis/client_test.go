package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := NewClient(context.Background(), logger.NewNop(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer rdb.Close()
	if err := rdb.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Fatalf("value: want=v got=%q", got)
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient(context.Background(), logger.NewNop(), ""); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := NewClient(context.Background(), logger.NewNop(), "http://nope"); err == nil {
		t.Fatalf("expected error for non-redis scheme")
	}
}
