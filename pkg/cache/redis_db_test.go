//go:build db

package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/platformbuilds/authz-core/pkg/logger"
)

// Database Test Cases: live Redis single-node if REDIS_ADDR is set.
func TestRedisStore_DB(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping DB test")
	}
	ttl := 2 * time.Second
	s, err := NewRedisStore(addr, 0, os.Getenv("REDIS_PASSWORD"), ttl, logger.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Set(ctx, "dbk", "dbv", ttl); err != nil {
		t.Fatalf("set: %v", err)
	}
	b, err := s.Get(ctx, "dbk")
	if err != nil || string(b) != "dbv" {
		t.Fatalf("get: %v %q", err, string(b))
	}

	if _, err := s.Get(ctx, "dbk-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.SetMulti(ctx, []Entry{{Key: "dbk2", Value: "a"}, {Key: "dbk3", Value: "b"}}); err != nil {
		t.Fatalf("setmulti: %v", err)
	}
	got, err := s.GetMulti(ctx, []string{"dbk2", "dbk3", "dbk4"})
	if err != nil || len(got) != 2 {
		t.Fatalf("getmulti: %v %d", err, len(got))
	}

	n, err := s.DeletePattern(ctx, "dbk*")
	if err != nil || n < 3 {
		t.Fatalf("deletepattern: %v %d", err, n)
	}
}
