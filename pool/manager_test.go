package pool

import (
	"context"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/hostkit/procman/ipc/endpoint"
	"github.com/roadrunner-server/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var log = zap.NewNop()

// TestHelperProcess is re-executed by the tests below as the worker
// executable, serving a bare TCP endpoint on WORKER_ADDRESS.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	switch os.Getenv("WORKER_HELPER_MODE") {
	case "listen":
		ln, err := net.Listen("tcp", os.Getenv("WORKER_ADDRESS"))
		if err != nil {
			os.Exit(1)
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGTERM)
		<-sig
		_ = ln.Close()
	case "crash":
		os.Exit(1)
	case "hang":
		// never binds the endpoint
		time.Sleep(time.Minute)
	}
}

func testCfg(mode string, slots int) *Config {
	return &Config{
		ProcessesPerApp: slots,
		ProcessPath:     os.Args[0],
		Arguments:       []string{"-test.run=TestHelperProcess"},
		StartupTimeout:  time.Second * 10,
		ShutdownTimeout: time.Second * 5,
		Env: map[string]string{
			"GO_WANT_HELPER_PROCESS": "1",
			"WORKER_HELPER_MODE":     mode,
		},
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func Test_NewManager_NilFactory(t *testing.T) {
	m, err := NewManager(nil, log)
	assert.Error(t, err)
	assert.Nil(t, m)
}

func Test_GetProcess_ColdStartAndReuse(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(endpoint.NewFactory(log), log)
	require.NoError(t, err)
	defer m.Shutdown()

	cfg := testCfg("listen", 1)

	w1, err := m.GetProcess(ctx, cfg, false)
	require.NoError(t, err)
	require.NotNil(t, w1)
	assert.True(t, w1.IsReady())

	// single slot, the warm worker is returned on the shared-lock hot path
	w2, err := m.GetProcess(ctx, cfg, false)
	require.NoError(t, err)
	assert.Same(t, w1, w2)
}

func Test_GetProcess_RoundRobin(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(endpoint.NewFactory(log), log)
	require.NoError(t, err)
	defer m.Shutdown()

	cfg := testCfg("listen", 2)

	seen := make(map[string]int)
	for i := 0; i < 8; i++ {
		w, err := m.GetProcess(ctx, cfg, false)
		require.NoError(t, err)
		require.True(t, w.IsReady())
		seen[w.Address()]++
	}

	assert.Len(t, seen, 2)
	for addr, n := range seen {
		assert.GreaterOrEqual(t, n, 4, addr)
	}
}

func Test_GetProcess_CountBounded(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(endpoint.NewFactory(log), log)
	require.NoError(t, err)
	defer m.Shutdown()

	cfg := testCfg("listen", 2)

	wg := &sync.WaitGroup{}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := m.GetProcess(ctx, cfg, false)
			assert.NoError(t, err)
			if w != nil {
				assert.True(t, w.IsReady())
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, len(m.Workers()), 2)
}

func Test_GetProcess_AfterShutdown(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(endpoint.NewFactory(log), log)
	require.NoError(t, err)

	cfg := testCfg("listen", 1)

	_, err = m.GetProcess(ctx, cfg, false)
	require.NoError(t, err)

	m.Shutdown()

	_, err = m.GetProcess(ctx, cfg, false)
	assert.Error(t, err)
	assert.True(t, errors.Is(errors.Stop, err))
}

func Test_Shutdown_Idempotent(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(endpoint.NewFactory(log), log)
	require.NoError(t, err)

	cfg := testCfg("listen", 2)
	require.NoError(t, m.Prewarm(ctx, cfg, false))
	require.Len(t, m.Workers(), 2)

	wg := &sync.WaitGroup{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Shutdown()
		}()
	}
	wg.Wait()

	assert.Empty(t, m.Workers())
}

func Test_SendShutdownSignal_KeepsAccepting(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(endpoint.NewFactory(log), log)
	require.NoError(t, err)
	defer m.Shutdown()

	cfg := testCfg("listen", 1)

	w1, err := m.GetProcess(ctx, cfg, false)
	require.NoError(t, err)

	m.SendShutdownSignal()
	assert.Empty(t, m.Workers())

	// recycling, not teardown: the next request gets a fresh worker
	w2, err := m.GetProcess(ctx, cfg, false)
	require.NoError(t, err)
	assert.True(t, w2.IsReady())
	assert.NotEqual(t, w1.Pid(), w2.Pid())
}

func Test_ShutdownProcess_MatchesByEndpoint(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(endpoint.NewFactory(log), log)
	require.NoError(t, err)
	defer m.Shutdown()

	cfg := testCfg("listen", 1)

	w, err := m.GetProcess(ctx, cfg, false)
	require.NoError(t, err)

	m.ShutdownProcess(w)
	assert.Empty(t, m.Workers())
}

func Test_StaleWorkerReplacedNotReused(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(endpoint.NewFactory(log), log)
	require.NoError(t, err)
	defer m.Shutdown()

	cfg := testCfg("listen", 1)

	w1, err := m.GetProcess(ctx, cfg, false)
	require.NoError(t, err)

	// crash the worker behind the manager's back
	require.NoError(t, syscall.Kill(int(w1.Pid()), syscall.SIGKILL))
	require.Eventually(t, func() bool {
		return !w1.IsReady()
	}, time.Second*5, time.Millisecond*50)

	w2, err := m.GetProcess(ctx, cfg, false)
	require.NoError(t, err)
	assert.True(t, w2.IsReady())
	assert.NotEqual(t, w1.Pid(), w2.Pid())

	// the unexpected exit fed the failure memory
	assert.GreaterOrEqual(t, m.RapidFailCount(), int64(1))
}

func Test_CreationTimeout_SlotNotPoisoned(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(endpoint.NewFactory(log), log)
	require.NoError(t, err)
	defer m.Shutdown()

	hang := testCfg("hang", 1)
	hang.StartupTimeout = time.Millisecond * 400

	_, err = m.GetProcess(ctx, hang, false)
	assert.Error(t, err)
	assert.True(t, errors.Is(errors.WorkerAllocate, err))
	assert.Empty(t, m.Workers())

	// the slot stays eligible for a fresh attempt
	w, err := m.GetProcess(ctx, testCfg("listen", 1), false)
	require.NoError(t, err)
	assert.True(t, w.IsReady())
}

func Test_RapidFail_CircuitBreaker(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m, err := NewManager(endpoint.NewFactory(log), log, WithClock(clock.Now))
	require.NoError(t, err)
	defer m.Shutdown()

	cfg := testCfg("crash", 1)
	cfg.RapidFailsPerMinute = 2

	// three consecutive start crashes inside the window
	for i := 0; i < 3; i++ {
		_, err = m.GetProcess(ctx, cfg, false)
		require.Error(t, err)
		require.True(t, errors.Is(errors.WorkerAllocate, err))
	}

	// the budget is exhausted, creation is refused without an attempt
	_, err = m.GetProcess(ctx, cfg, false)
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Disabled, err))

	// past the window boundary the same slot may try again
	clock.Advance(time.Second * 61)
	_, err = m.GetProcess(ctx, cfg, false)
	require.Error(t, err)
	assert.False(t, errors.Is(errors.Disabled, err))
	assert.True(t, errors.Is(errors.WorkerAllocate, err))
}

func Test_Prewarm(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(endpoint.NewFactory(log), log)
	require.NoError(t, err)
	defer m.Shutdown()

	cfg := testCfg("listen", 2)
	require.NoError(t, m.Prewarm(ctx, cfg, false))

	workers := m.Workers()
	require.Len(t, workers, 2)
	for _, w := range workers {
		assert.True(t, w.IsReady())
	}
}

func Test_WorkerStatesSnapshot(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(endpoint.NewFactory(log), log)
	require.NoError(t, err)
	defer m.Shutdown()

	cfg := testCfg("listen", 1)

	w, err := m.GetProcess(ctx, cfg, false)
	require.NoError(t, err)

	states := m.WorkerStates()
	require.Len(t, states, 1)
	assert.Equal(t, int(w.Pid()), states[0].Pid)
	assert.Equal(t, "ready", states[0].Status)

	b, err := m.WorkersStateJSON()
	require.NoError(t, err)
	assert.NotEmpty(t, b)
}
