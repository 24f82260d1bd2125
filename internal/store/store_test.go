package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "cfa_api_key", []byte("token-1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := s.Get(ctx, "cfa_api_key")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, []byte("token-1")) {
		t.Errorf("expected token-1, got %q", got)
	}

	err = s.Batch(ctx, []Op{
		SetOp("cfa_api_key", []byte("token-2")),
		SetOp("cfa_device_id", []byte("device_abc")),
	})
	if err != nil {
		t.Fatalf("Batch set failed: %v", err)
	}
	if got, _ := s.Get(ctx, "cfa_api_key"); string(got) != "token-2" {
		t.Errorf("expected token-2 after batch, got %q", got)
	}
	if got, _ := s.Get(ctx, "cfa_device_id"); string(got) != "device_abc" {
		t.Errorf("expected device_abc after batch, got %q", got)
	}

	if err := s.Batch(ctx, []Op{DeleteOp("cfa_api_key"), DeleteOp("cfa_device_id")}); err != nil {
		t.Fatalf("Batch delete failed: %v", err)
	}
	for _, key := range []string{"cfa_api_key", "cfa_device_id"} {
		if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected %s removed, got %v", key, err)
		}
	}

	if err := s.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("deleting a missing key should succeed, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreRejectsUnknownOpAtomically(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	err := m.Batch(ctx, []Op{SetOp("a", []byte("1")), {Type: OpType(99), Key: "b"}})
	if err == nil {
		t.Fatal("expected error for unknown op")
	}
	if len(m.Keys()) != 0 {
		t.Errorf("expected no keys written, got %v", m.Keys())
	}
}

func TestBadgerStoreInMemory(t *testing.T) {
	s, err := OpenBadger("", true)
	if err != nil {
		t.Fatalf("OpenBadger failed: %v", err)
	}
	defer s.Close()

	exerciseStore(t, s)
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	ctx := context.Background()

	s, err := OpenBadger(path, false)
	if err != nil {
		t.Fatalf("OpenBadger failed: %v", err)
	}
	if err := s.Set(ctx, "cfa_api_key", []byte("durable")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenBadger(path, false)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "cfa_api_key")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(got) != "durable" {
		t.Errorf("expected 'durable', got %q", got)
	}
}

func TestBadgerStoreClosed(t *testing.T) {
	s, err := OpenBadger("", true)
	if err != nil {
		t.Fatalf("OpenBadger failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if _, err := s.Get(context.Background(), "k"); err == nil {
		t.Error("expected error reading from a closed store")
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), Options{Backend: "etcd"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("CFA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CFA_TEST_REDIS_ADDR not set")
	}

	s, err := OpenRedis(context.Background(), addr, 15)
	if err != nil {
		t.Fatalf("OpenRedis failed: %v", err)
	}
	defer s.Close()

	exerciseStore(t, s)
}
