package poll

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ebay-scanner/pkg/scanner"
	"ebay-scanner/source"
)

// signalSource fails every fetch and reports each attempt.
type signalSource struct {
	attempts chan struct{}
}

func (s *signalSource) Fetch(_ context.Context, _ *scanner.Target) (*source.Result, error) {
	s.attempts <- struct{}{}
	return nil, &source.FetchError{URL: "https://example.com", Err: context.DeadlineExceeded}
}

func TestSchedulerSurvivesFetchFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &signalSource{attempts: make(chan struct{}, 4)}
	notifier := &fakeNotifier{}
	runner := newTestRunner(src, newFakeSeen(), notifier, &fakeRecorder{})

	s := NewScheduler(runner, 1, quietLogger())
	s.jitter = func() time.Duration { return time.Millisecond }

	targets := []scanner.Target{
		{Kind: scanner.KindStore, Identifier: "acme", Enabled: true, Interval: 1},
		{Kind: scanner.KindStore, Identifier: "disabled", Enabled: false},
	}
	s.Start(ctx, targets)

	// The first run fails; the loop must not exit and must, at the
	// configured threshold, send one operational alert.
	select {
	case <-src.attempts:
	case <-time.After(5 * time.Second):
		t.Fatal("scan never ran")
	}

	require.Eventually(t, func() bool {
		return notifier.alertCount() == 1
	}, 2*time.Second, 10*time.Millisecond, "an alert should fire after the failure threshold")

	cancel()
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}

func TestDisabledTargetNeverRuns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &signalSource{attempts: make(chan struct{}, 1)}
	runner := newTestRunner(src, newFakeSeen(), &fakeNotifier{}, &fakeRecorder{})

	s := NewScheduler(runner, 0, quietLogger())
	s.jitter = func() time.Duration { return time.Millisecond }

	s.Start(ctx, []scanner.Target{{Kind: scanner.KindStore, Identifier: "off", Enabled: false}})

	select {
	case <-src.attempts:
		t.Fatal("disabled target was scanned")
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	s.Wait()
}

func TestRunSafelyRecoversPanic(t *testing.T) {
	runner := newTestRunner(panicSource{}, newFakeSeen(), &fakeNotifier{}, &fakeRecorder{})
	s := NewScheduler(runner, 0, quietLogger())

	err := s.runSafely(context.Background(), &scanner.Target{Kind: scanner.KindStore, Identifier: "acme", Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

type panicSource struct{}

func (panicSource) Fetch(_ context.Context, _ *scanner.Target) (*source.Result, error) {
	panic("selector blew up")
}
