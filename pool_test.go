package workerpool

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestPool spawns `count` units seeded with `source`, capturing the
// coordinator of each in spawn order, and waits until every unit knows
// its own identity and sees every sibling.
func newTestPool(t *testing.T, count int, source WorkerSource) (*Pool, []string, []*Worker) {
	t.Helper()

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	pool, err := New(WithLog(handler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Shutdown() })

	var lk sync.Mutex
	var workers []*Worker
	capture := func(w *Worker) {
		if source != nil {
			source(w)
		}
		lk.Lock()
		workers = append(workers, w)
		lk.Unlock()
	}

	ids, err := pool.Spawn(capture, count)
	require.NoError(t, err)
	require.Len(t, ids, count)
	require.Len(t, workers, count, "the source should run once per spawned unit")

	for _, w := range workers {
		w := w
		require.Eventually(t, func() bool {
			return w.ID() != "" && len(w.SiblingIDs()) == count-1
		}, 3*time.Second, 5*time.Millisecond, "every unit should learn its id and see every sibling")
	}
	return pool, ids, workers
}

// echoSource registers the commands most tests dispatch.
func echoSource(w *Worker) {
	w.RegisterCommand("echo", func(ctx context.Context, sender string, args []any) (any, error) {
		return args[0], nil
	})
	w.RegisterCommand("whoami", func(ctx context.Context, sender string, args []any) (any, error) {
		return w.ID(), nil
	})
}

func TestPool_MeshIsFullyConnected(t *testing.T) {
	const count = 4
	_, ids, workers := newTestPool(t, count, echoSource)

	for i, w := range workers {
		require.Equal(t, ids[i], w.ID(), "unit identity should match spawn order")
		siblings := w.SiblingIDs()
		require.Len(t, siblings, count-1)
		for j, id := range ids {
			if j == i {
				require.NotContains(t, siblings, id, "a unit is not its own sibling")
			} else {
				require.Contains(t, siblings, id, "every unit should reach every other unit in one hop")
			}
		}
	}
}

func TestPool_CommandRoundTrip(t *testing.T) {
	pool, _, _ := newTestPool(t, 2, echoSource)

	val, err := pool.SendCommand("echo", 42).Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, val)
}

func TestPool_RoundRobinVisitsEveryUnit(t *testing.T) {
	const count = 3
	pool, ids, _ := newTestPool(t, count, echoSource)

	// k consecutive dispatches land on each of the k units exactly once.
	for round := 0; round < 2; round++ {
		visited := make(map[string]int)
		for i := 0; i < count; i++ {
			val, err := pool.SendCommand("whoami").Wait(context.Background())
			require.NoError(t, err)
			visited[val.(string)]++
		}
		for _, id := range ids {
			require.Equal(t, 1, visited[id], "each unit should be selected exactly once per cycle")
		}
	}
}

func TestPool_SendCommandWithoutWorkers(t *testing.T) {
	pool, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Shutdown() })

	_, err = pool.SendCommand("echo", 1).Wait(context.Background())
	require.ErrorIs(t, err, ErrNoWorkers,
		"the controller cannot execute locally, an empty pool rejects")
}

func TestPool_CommandNotFoundOnTarget(t *testing.T) {
	pool, _, _ := newTestPool(t, 2, echoSource)

	_, err := pool.SendCommand("no-such-command").Wait(context.Background())
	require.ErrorIs(t, err, ErrRemote)

	var rerr *RemoteError
	require.ErrorAs(t, err, &rerr)
	require.Contains(t, rerr.Message, "command not found")
}

func TestPool_ConcurrentCommandsResolveIndependently(t *testing.T) {
	source := func(w *Worker) {
		echoSource(w)
		w.RegisterCommand("slow-echo", func(ctx context.Context, sender string, args []any) (any, error) {
			delay := time.Duration(args[0].(int)) * time.Millisecond
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return args[1], nil
		})
	}
	pool, _, _ := newTestPool(t, 2, source)

	slow := pool.SendCommand("slow-echo", 200, "slow")
	fast := pool.SendCommand("slow-echo", 0, "fast")

	fastVal, err := fast.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fast", fastVal)
	require.False(t, slow.Settled(), "the slower command should still be in flight")

	slowVal, err := slow.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "slow", slowVal, "each resolution matches its own correlation id")
}

func TestPool_PostMessage(t *testing.T) {
	events := make(chan Event, 16)
	source := func(w *Worker) {
		echoSource(w)
		_, _ = w.AddListener(func(ev Event) {
			events <- ev
		})
	}
	pool, _, _ := newTestPool(t, 2, source)

	target, ok := pool.PostMessage("hello units")
	require.True(t, ok)
	require.NotEmpty(t, target)

	select {
	case ev := <-events:
		require.Equal(t, "hello units", ev.Env.Data)
		require.Equal(t, DeviceThread, ev.Env.Sender)
	case <-time.After(3 * time.Second):
		t.Fatal("the posted message never reached a unit's listeners")
	}
}

func TestPool_PostMessageWithoutWorkers(t *testing.T) {
	pool, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Shutdown() })

	_, ok := pool.PostMessage("nobody home")
	require.False(t, ok)
}

func TestPool_ConfigPushReachesEveryUnit(t *testing.T) {
	pool, _, workers := newTestPool(t, 3, echoSource)

	pool.SetHTTPAuthorization("dXNlcjpwYXNz")
	pool.SetHTTPAccessToken("token-123")

	for _, w := range workers {
		w := w
		require.Eventually(t, func() bool {
			auth, token := w.httpConfig()
			return auth == "dXNlcjpwYXNz" && token == "token-123"
		}, 3*time.Second, 5*time.Millisecond, "ambient HTTP config should reach every unit")
	}
}

func TestPool_TerminatePrunesSurvivors(t *testing.T) {
	const count = 3
	pool, ids, workers := newTestPool(t, count, echoSource)

	dead := ids[1]
	pool.Terminate(dead)

	require.NotContains(t, pool.SiblingIDs(), dead)
	for i, w := range workers {
		if ids[i] == dead {
			continue
		}
		w := w
		require.Eventually(t, func() bool {
			return len(w.SiblingIDs()) == count-2
		}, 3*time.Second, 5*time.Millisecond, "survivors should prune the removed sibling")
		require.NotContains(t, w.SiblingIDs(), dead)
	}
}

func TestPool_TerminateLeavesInFlightPending(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	source := func(w *Worker) {
		echoSource(w)
		w.RegisterCommand("hang", func(ctx context.Context, sender string, args []any) (any, error) {
			<-block
			return nil, nil
		})
	}
	pool, ids, workers := newTestPool(t, 2, source)

	caller := workers[0]
	fut := caller.SendCommandTo(ids[1], "hang")
	require.Eventually(t, func() bool {
		return caller.PendingCount() == 1
	}, 3*time.Second, 5*time.Millisecond)

	pool.Terminate(ids[1])

	// No auto-rejection: the callback stays pending until the caller's
	// own deadline fires.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := fut.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded,
		"terminating the executing unit must not settle the caller's future")
	require.False(t, fut.Settled())
}

func TestPool_ShutdownRefusesFurtherWork(t *testing.T) {
	pool, _, _ := newTestPool(t, 2, echoSource)

	require.NoError(t, pool.Shutdown())
	require.NoError(t, pool.Shutdown(), "shutting down twice is harmless")

	_, err := pool.SendCommand("echo", 1).Wait(context.Background())
	require.ErrorIs(t, err, ErrPoolClosed)

	_, err = pool.Spawn(echoSource, 1)
	require.ErrorIs(t, err, ErrPoolClosed)

	_, ok := pool.PostMessage("anyone")
	require.False(t, ok)
}

func TestPool_SpawnCountValidation(t *testing.T) {
	pool, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Shutdown() })

	_, err = pool.Spawn(echoSource, 0)
	require.ErrorIs(t, err, ErrSpawnCount)
	_, err = pool.Spawn(echoSource, -3)
	require.ErrorIs(t, err, ErrSpawnCount)
}

func TestHandle_CrossWireTwiceRefused(t *testing.T) {
	pool, ids, _ := newTestPool(t, 2, echoSource)

	h1 := pool.handle(ids[0])
	h2 := pool.handle(ids[1])
	require.NotNil(t, h1)
	require.NotNil(t, h2)

	require.ErrorIs(t, h1.CrossWire(h2), ErrDuplicateSibling,
		"the pool already wired this pair during spawn")
	require.ErrorIs(t, h1.CrossWire(h1), ErrDuplicateSibling,
		"a unit cannot be wired to itself")
}

func TestPool_InvalidOption(t *testing.T) {
	boom := errors.New("unusable option value")
	broken := func(c *config) error {
		return boom
	}
	_, err := New(Option(broken))
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.ErrorIs(t, err, boom, "the option's own failure should stay inspectable")
}
