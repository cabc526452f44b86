package workers_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/defrost-labs/strategy-engine/internal/workers"
)

func smallPool(t *testing.T) *workers.Pool {
	t.Helper()
	cfg := &workers.PoolConfig{
		Name:            "test",
		NumWorkers:      2,
		QueueSize:       8,
		TaskTimeout:     time.Second,
		ShutdownTimeout: time.Second,
		PanicRecovery:   true,
	}
	p := workers.NewPool(zap.NewNop(), cfg)
	p.Start()
	t.Cleanup(func() { p.Stop() })
	return p
}

func TestSubmitFuncRunsTask(t *testing.T) {
	p := smallPool(t)

	var ran atomic.Bool
	if err := p.SubmitFunc(func() error {
		ran.Store(true)
		return nil
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !ran.Load() {
		time.Sleep(time.Millisecond)
	}
	if !ran.Load() {
		t.Fatal("expected submitted task to run")
	}
}

func TestSubmitWaitReturnsTaskError(t *testing.T) {
	p := smallPool(t)

	wantErr := errors.New("boom")
	err := p.SubmitWait(workers.TaskFunc(func() error { return wantErr }))
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected task error to propagate, got %v", err)
	}
}

func TestSubmitAfterStopReturnsErrPoolStopped(t *testing.T) {
	p := smallPool(t)
	p.Stop()

	if err := p.SubmitFunc(func() error { return nil }); err != workers.ErrPoolStopped {
		t.Fatalf("expected ErrPoolStopped, got %v", err)
	}
}

func TestPanicRecoveryIsCounted(t *testing.T) {
	p := smallPool(t)

	if err := p.SubmitFunc(func() error {
		panic("boom")
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.Stats().PanicRecovered >= 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected panic recovery to be counted, got stats %+v", p.Stats())
}
