package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"time"

	"github.com/go-faster/errors"
)

// Pinger is a backing service probed with a round trip, e.g. *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck pings p and names it in the error.
func PingCheck(name string, p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrapf(err, "ping %s", name)
		}
		return nil
	}
}

// FuncCheck adapts a probe that is not a Pinger, such as a go-redis client
// whose Ping returns a command, or an AMQP connection's closed flag.
func FuncCheck(name string, fn func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return errors.Wrap(err, name)
		}
		return nil
	}
}

// GoroutineCountCheck fails when more than limit goroutines are running,
// which usually means a leak in request handling.
func GoroutineCountCheck(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, limit)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when any of the recent stop-the-world pauses took
// longer than limit.
func GCMaxPauseCheck(limit time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		if len(stats.Pause) == 0 {
			return nil
		}
		if longest := slices.Max(stats.Pause); longest > limit {
			return errors.Errorf("GC pause %s exceeds threshold %s", longest, limit)
		}
		return nil
	}
}
