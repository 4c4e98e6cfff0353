package history

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/cyberinferno/sumstream/checksum"
	"github.com/cyberinferno/sumstream/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func entry(id uint32, sum uint16, n uint64) Entry {
	return Entry{Report: checksum.Report{Sum: sum, Len: n}, Session: id, At: time.Now()}
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("none", func(t *testing.T) {
		s, err := New(ctx, config.History{Backend: config.HistoryNone})
		require.NoError(t, err)
		assert.IsType(t, Nop{}, s)
	})

	t.Run("memory", func(t *testing.T) {
		s, err := New(ctx, config.History{Backend: config.HistoryMemory, TTL: time.Minute})
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, s)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := New(ctx, config.History{Backend: "disk"})
		assert.Error(t, err)
	})

	t.Run("unreachable redis", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		_, err := New(ctx, config.History{Backend: config.HistoryRedis, RedisAddr: "127.0.0.1:1", TTL: time.Minute})
		assert.Error(t, err)
	})
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	var s Store = Nop{}

	require.NoError(t, s.Record(ctx, "10.0.0.1", entry(1, 1, 1)))
	got, err := s.Recent(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, s.Clear(ctx))
	assert.NoError(t, s.Close())
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("newest first per peer", func(t *testing.T) {
		s := NewMemoryStore(time.Minute, 0)
		require.NoError(t, s.Record(ctx, "10.0.0.1", entry(1, 335, 5)))
		require.NoError(t, s.Record(ctx, "10.0.0.1", entry(2, 0, 0)))
		require.NoError(t, s.Record(ctx, "10.0.0.2", entry(3, 1, 1)))

		got, err := s.Recent(ctx, "10.0.0.1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, uint32(2), got[0].Session)
		assert.Equal(t, checksum.Report{Sum: 335, Len: 5}, got[1].Report)
		assert.Equal(t, 2, s.PeerCount())
	})

	t.Run("caps entries per peer", func(t *testing.T) {
		s := NewMemoryStore(time.Minute, 2)
		for i := uint32(1); i <= 5; i++ {
			require.NoError(t, s.Record(ctx, "peer", entry(i, 0, 0)))
		}

		got, err := s.Recent(ctx, "peer")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, uint32(5), got[0].Session)
		assert.Equal(t, uint32(4), got[1].Session)
	})

	t.Run("entries expire", func(t *testing.T) {
		s := NewMemoryStore(20*time.Millisecond, 0)
		require.NoError(t, s.Record(ctx, "peer", entry(1, 0, 0)))
		time.Sleep(40 * time.Millisecond)

		got, err := s.Recent(ctx, "peer")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("returned slice is a copy", func(t *testing.T) {
		s := NewMemoryStore(time.Minute, 0)
		require.NoError(t, s.Record(ctx, "peer", entry(1, 0, 0)))

		got, _ := s.Recent(ctx, "peer")
		got[0].Session = 99

		again, _ := s.Recent(ctx, "peer")
		assert.Equal(t, uint32(1), again[0].Session)
	})

	t.Run("clear", func(t *testing.T) {
		s := NewMemoryStore(time.Minute, 0)
		require.NoError(t, s.Record(ctx, "peer", entry(1, 0, 0)))
		require.NoError(t, s.Clear(ctx))
		assert.Equal(t, 0, s.PeerCount())
	})

	t.Run("clear waits for an in-flight record", func(t *testing.T) {
		s := NewMemoryStore(time.Minute, 0)
		require.NoError(t, s.Record(ctx, "peer", entry(1, 0, 0)))

		s.mu.Lock()
		done := make(chan error, 1)
		go func() { done <- s.Clear(ctx) }()

		assert.Never(t, func() bool { return len(done) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
		assert.Equal(t, 1, s.PeerCount())

		s.mu.Unlock()
		require.NoError(t, <-done)
		assert.Equal(t, 0, s.PeerCount())
	})

	t.Run("concurrent clears and records", func(t *testing.T) {
		s := NewMemoryStore(time.Minute, 0)
		var g errgroup.Group
		for i := 0; i < 50; i++ {
			i := i
			g.Go(func() error {
				if i%5 == 0 {
					return s.Clear(ctx)
				}
				return s.Record(ctx, "peer", entry(uint32(i), 0, 0))
			})
		}
		require.NoError(t, g.Wait())

		got, err := s.Recent(ctx, "peer")
		require.NoError(t, err)
		assert.LessOrEqual(t, len(got), 40)
	})

	t.Run("cancelled context", func(t *testing.T) {
		s := NewMemoryStore(time.Minute, 0)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		assert.ErrorIs(t, s.Record(cctx, "peer", entry(1, 0, 0)), context.Canceled)
		_, err := s.Recent(cctx, "peer")
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("concurrent records are not lost", func(t *testing.T) {
		s := NewMemoryStore(time.Minute, 0)
		var g errgroup.Group
		for i := 0; i < 50; i++ {
			i := i
			g.Go(func() error {
				return s.Record(ctx, "peer", entry(uint32(i), 0, 0))
			})
		}
		require.NoError(t, g.Wait())

		got, err := s.Recent(ctx, "peer")
		require.NoError(t, err)
		assert.Len(t, got, 50)
	})
}

func TestKey(t *testing.T) {
	assert.Equal(t, "sumstream:history:10.0.0.1", Key("10.0.0.1"))
}

// TestRedisStore runs against a real server when SUMSTREAM_TEST_REDIS_ADDR is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("SUMSTREAM_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SUMSTREAM_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: addr}), time.Minute, 3)
	defer s.Close()
	require.NoError(t, s.Clear(ctx))

	peer := fmt.Sprintf("test-%d", time.Now().UnixNano())
	for i := uint32(1); i <= 4; i++ {
		require.NoError(t, s.Record(ctx, peer, entry(i, uint16(i), uint64(i))))
	}

	got, err := s.Recent(ctx, peer)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint32(4), got[0].Session)
	assert.Equal(t, checksum.Report{Sum: 4, Len: 4}, got[0].Report)

	require.NoError(t, s.Clear(ctx))
	got, err = s.Recent(ctx, peer)
	require.NoError(t, err)
	assert.Empty(t, got)
}
