// Package history keeps the reports of recently served sessions, grouped by
// peer IP, for a bounded time. The server uses it to note how often a peer has
// connected lately; nothing outlives the configured TTL.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/cyberinferno/sumstream/checksum"
	"github.com/cyberinferno/sumstream/config"
	"github.com/redis/go-redis/v9"
)

// Entry is one served session.
type Entry struct {
	Report  checksum.Report `json:"report"`
	Session uint32          `json:"session"`
	At      time.Time       `json:"at"`
}

// Store records finished sessions per peer. Implementations must be safe for
// concurrent use.
type Store interface {
	// Record adds e to the history of peer.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - peer: The peer IP address
	//   - e: The finished session
	//
	// Returns:
	//   - An error if the entry could not be stored
	Record(ctx context.Context, peer string, e Entry) error

	// Recent returns the entries recorded for peer that have not expired,
	// newest first.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - peer: The peer IP address
	//
	// Returns:
	//   - The entries, possibly empty
	//   - An error if the lookup failed
	Recent(ctx context.Context, peer string) ([]Entry, error)

	// Clear drops every recorded entry.
	Clear(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// New builds the Store selected by cfg.Backend. The redis backend is pinged
// once so a wrong address fails at startup rather than on the first session.
//
// Parameters:
//   - ctx: Context bounding the initial redis ping
//   - cfg: History configuration
//
// Returns:
//   - The Store
//   - An error if the backend is unknown or unreachable
func New(ctx context.Context, cfg config.History) (Store, error) {
	switch cfg.Backend {
	case config.HistoryNone, "":
		return Nop{}, nil
	case config.HistoryMemory:
		return NewMemoryStore(cfg.TTL, cfg.MaxPerPeer), nil
	case config.HistoryRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis %s unreachable: %w", cfg.RedisAddr, err)
		}

		return NewRedisStore(client, cfg.TTL, cfg.MaxPerPeer), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}

// Nop is a Store that records nothing.
type Nop struct{}

// Record implements Store.
func (Nop) Record(context.Context, string, Entry) error { return nil }

// Recent implements Store.
func (Nop) Recent(context.Context, string) ([]Entry, error) { return nil, nil }

// Clear implements Store.
func (Nop) Clear(context.Context) error { return nil }

// Close implements Store.
func (Nop) Close() error { return nil }
