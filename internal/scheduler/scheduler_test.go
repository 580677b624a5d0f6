package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vpnradius/backend/internal/logstore"
)

func TestJobRunsAtInterval(t *testing.T) {
	s := New(logstore.New(nil, "ERROR"))

	var runs atomic.Int32
	require.NoError(t, s.Add("counter", 20*time.Millisecond, func() error {
		runs.Add(1)
		return nil
	}))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return runs.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestJobsRunSerially(t *testing.T) {
	s := New(logstore.New(nil, "ERROR"))

	var mu sync.Mutex
	running := false
	overlapped := false

	body := func() error {
		mu.Lock()
		if running {
			overlapped = true
		}
		running = true
		mu.Unlock()

		time.Sleep(15 * time.Millisecond)

		mu.Lock()
		running = false
		mu.Unlock()
		return nil
	}

	require.NoError(t, s.Add("a", 10*time.Millisecond, body))
	require.NoError(t, s.Add("b", 10*time.Millisecond, body))

	s.Start()
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.False(t, overlapped)
}

func TestFailingJobKeepsRunning(t *testing.T) {
	s := New(logstore.New(nil, "ERROR"))

	var runs atomic.Int32
	require.NoError(t, s.Add("flaky", 15*time.Millisecond, func() error {
		runs.Add(1)
		return errors.New("boom")
	}))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAddAfterStartFails(t *testing.T) {
	s := New(logstore.New(nil, "ERROR"))
	s.Start()
	defer s.Stop()

	require.Error(t, s.Add("late", time.Second, func() error { return nil }))
}

func TestAddRejectsNonPositiveInterval(t *testing.T) {
	s := New(logstore.New(nil, "ERROR"))
	require.Error(t, s.Add("bad", 0, func() error { return nil }))
}

func TestStopWaitsForRunningJob(t *testing.T) {
	s := New(logstore.New(nil, "ERROR"))

	started := make(chan struct{})
	done := make(chan struct{})
	require.NoError(t, s.Add("slow", 10*time.Millisecond, func() error {
		select {
		case <-started:
		default:
			close(started)
		}
		time.Sleep(50 * time.Millisecond)
		select {
		case <-done:
		default:
			close(done)
		}
		return nil
	}))

	s.Start()
	<-started
	s.Stop()

	select {
	case <-done:
	default:
		t.Fatal("Stop returned before the running job finished")
	}
}
