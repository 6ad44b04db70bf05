package server

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	statexfer "github.com/blockberries/statexfer"
	"github.com/blockberries/statexfer/config"
	"github.com/blockberries/statexfer/install"
)

func testConfig(t *testing.T, dataDir string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.DataDir = dataDir
	cfg.KV.Buckets = 8
	cfg.Transfer.Batch = 3
	cfg.Transfer.Timeout = 10 * time.Second
	return cfg
}

func startServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	s, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s
}

func pairs(n int, round int) map[string][]byte {
	out := make(map[string][]byte, n)
	for i := range n {
		out[fmt.Sprintf("key-%03d", i)] = []byte(fmt.Sprintf("value-%d-%d", i, round))
	}
	return out
}

func TestPut_AdvancesSequence(t *testing.T) {
	s := startServer(t, testConfig(t, ""))
	ctx := context.Background()

	d1, err := s.Put(ctx, pairs(10, 1))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if d1.Seq != 1 {
		t.Fatalf("first checkpoint seq = %d, want 1", d1.Seq)
	}
	d2, err := s.Put(ctx, map[string][]byte{"key-000": nil})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if d2.Seq != 2 {
		t.Fatalf("second checkpoint seq = %d, want 2", d2.Seq)
	}
	if _, ok := s.Get([]byte("key-000")); ok {
		t.Fatal("deleted key still present")
	}
	if v, ok := s.Get([]byte("key-001")); !ok || string(v) != "value-1-1" {
		t.Fatalf("key-001 = %q, %v", v, ok)
	}
}

func TestFetch_InstallsPeerState(t *testing.T) {
	ctx := context.Background()
	src := startServer(t, testConfig(t, ""))
	dst := startServer(t, testConfig(t, ""))

	want, err := src.Put(ctx, pairs(40, 1))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := dst.Fetch(ctx, src.Addr().String())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("installed seq %d, want seq %d with identical parts", got.Seq, want.Seq)
	}
	if dst.Driver().Phase() != install.Ready {
		t.Fatalf("phase = %s, want Ready", dst.Driver().Phase())
	}
	for k, v := range pairs(40, 1) {
		if gv, ok := dst.Get([]byte(k)); !ok || string(gv) != string(v) {
			t.Fatalf("%s = %q, want %q", k, gv, v)
		}
	}
	if n := testutil.ToFloat64(dst.Metrics().Transfers.WithLabelValues("ok")); n != 1 {
		t.Fatalf("ok transfers = %v, want 1", n)
	}

	// The replica keeps writing from the installed sequence.
	next, err := dst.Put(ctx, map[string][]byte{"extra": []byte("x")})
	if err != nil {
		t.Fatalf("Put after fetch: %v", err)
	}
	if next.Seq != want.Seq+1 {
		t.Fatalf("seq after fetch = %d, want %d", next.Seq, want.Seq+1)
	}
}

func TestFetch_Incremental(t *testing.T) {
	ctx := context.Background()
	src := startServer(t, testConfig(t, ""))
	dst := startServer(t, testConfig(t, ""))

	if _, err := src.Put(ctx, pairs(40, 1)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := dst.Fetch(ctx, src.Addr().String()); err != nil {
		t.Fatalf("first Fetch: %v", err)
	}
	before := testutil.ToFloat64(dst.Metrics().PartsAccepted)

	// One key touches one bucket.
	if _, err := src.Put(ctx, map[string][]byte{"key-007": []byte("changed")}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := dst.Fetch(ctx, src.Addr().String()); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if moved := testutil.ToFloat64(dst.Metrics().PartsAccepted) - before; moved != 1 {
		t.Fatalf("second transfer moved %v parts, want 1", moved)
	}
	if v, _ := dst.Get([]byte("key-007")); string(v) != "changed" {
		t.Fatalf("key-007 = %q", v)
	}
}

func TestFetch_EmptyPeer(t *testing.T) {
	src := startServer(t, testConfig(t, ""))
	dst := startServer(t, testConfig(t, ""))

	_, err := dst.Fetch(context.Background(), src.Addr().String())
	if !errors.Is(err, statexfer.ErrStateUnavailable) {
		t.Fatalf("expected ErrStateUnavailable, got %v", err)
	}
	if dst.Driver().Phase() != install.Idle {
		t.Fatalf("phase = %s, want Idle", dst.Driver().Phase())
	}
}

func TestRestart_RestoresCheckpoint(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := New(ctx, testConfig(t, dir), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want, err := s.Put(ctx, pairs(5, 1))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = New(ctx, testConfig(t, dir), nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	seq, err := s.Driver().SeqNo()
	if err != nil {
		t.Fatalf("SeqNo: %v", err)
	}
	if seq != want.Seq {
		t.Fatalf("restored seq = %d, want %d", seq, want.Seq)
	}
	if v, ok := s.Get([]byte("key-004")); !ok || string(v) != "value-4-1" {
		t.Fatalf("key-004 = %q, %v", v, ok)
	}
}

func TestStart_Twice(t *testing.T) {
	s := startServer(t, testConfig(t, ""))
	if err := s.Start(); err == nil {
		t.Fatal("expected error starting twice")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Transfer.Batch = 0
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected invalid config error")
	}
}
