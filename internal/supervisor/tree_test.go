package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyService fails its first run and then blocks until stopped.
type flakyService struct {
	starts atomic.Int32
}

func (s *flakyService) Serve(ctx context.Context) error {
	if s.starts.Add(1) == 1 {
		return errors.New("boom")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *flakyService) String() string { return "flaky" }

type fakeServer struct {
	listening atomic.Bool
	shutdowns atomic.Int32
	stop      chan struct{}
}

func newFakeServer() *fakeServer {
	return &fakeServer{stop: make(chan struct{})}
}

func (f *fakeServer) ListenAndServe() error {
	f.listening.Store(true)
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(ctx context.Context) error {
	f.shutdowns.Add(1)
	close(f.stop)
	return nil
}

func TestTree_RestartsFailedService(t *testing.T) {
	tree := NewTree(nil, TreeConfig{FailureBackoff: 10 * time.Millisecond, ShutdownTimeout: time.Second})
	svc := &flakyService{}
	tree.AddBackground(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	assert.Eventually(t, func() bool { return svc.starts.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}

	report, err := tree.UnstoppedServiceReport()
	require.NoError(t, err)
	assert.Empty(t, report)
}

func TestHTTPService_ShutsDownOnCancel(t *testing.T) {
	server := newFakeServer()
	svc := NewHTTPService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	assert.Eventually(t, server.listening.Load, time.Second, 5*time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.EqualValues(t, 1, server.shutdowns.Load())
	assert.Equal(t, "http-server", svc.String())
}

func TestHTTPService_ListenFailure(t *testing.T) {
	svc := NewHTTPService(listenErr{}, time.Second)
	err := svc.Serve(context.Background())
	assert.ErrorContains(t, err, "address in use")
}

type listenErr struct{}

func (listenErr) ListenAndServe() error              { return errors.New("address in use") }
func (listenErr) Shutdown(ctx context.Context) error { return nil }
