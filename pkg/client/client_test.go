package client

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/core-tools/hsu-control/pkg/domain"
	"github.com/core-tools/hsu-control/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Simple test logger that implements logging.Logger interface
type TestLogger struct{}

func (l *TestLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (l *TestLogger) Debugf(format string, args ...interface{})               {}
func (l *TestLogger) Infof(format string, args ...interface{})                {}
func (l *TestLogger) Warnf(format string, args ...interface{})                {}
func (l *TestLogger) Errorf(format string, args ...interface{})               {}

type MockContract struct {
	mock.Mock
}

func (m *MockContract) Install(ctx context.Context, location string, content []byte) (domain.UnitHandle, error) {
	args := m.Called(location, content)
	return args.Get(0).(domain.UnitHandle), args.Error(1)
}

func (m *MockContract) Uninstall(ctx context.Context, handle domain.UnitHandle) error {
	return m.Called(handle).Error(0)
}

func (m *MockContract) Start(ctx context.Context, handle domain.UnitHandle) error {
	return m.Called(handle).Error(0)
}

func (m *MockContract) Stop(ctx context.Context, handle domain.UnitHandle) error {
	return m.Called(handle).Error(0)
}

func (m *MockContract) SetStartLevel(ctx context.Context, handle domain.UnitHandle, level int) error {
	return m.Called(handle, level).Error(0)
}

func (m *MockContract) WaitForState(ctx context.Context, handle domain.UnitHandle, target domain.UnitState, timeout time.Duration) error {
	return m.Called(handle, target, timeout).Error(0)
}

func (m *MockContract) RemoteCall(ctx context.Context, request domain.RemoteCallRequest) (interface{}, error) {
	args := m.Called(request)
	return args.Get(0), args.Error(1)
}

type fakeReference struct {
	*MockContract
	closed atomic.Bool
}

func (r *fakeReference) Close() error {
	r.closed.Store(true)
	return nil
}

// countingResolver hands out references in order, failing while none are left
type countingResolver struct {
	mutex      sync.Mutex
	calls      int
	failures   int
	delay      time.Duration
	references []*fakeReference
}

func (r *countingResolver) Resolve(ctx context.Context, session Session) (Reference, error) {
	r.mutex.Lock()
	r.calls++
	calls := r.calls
	r.mutex.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if calls <= r.failures || len(r.references) == 0 {
		return nil, errors.NewNotFoundError("name not bound", nil).WithContext(errors.ContextKeyName, session.Name)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	reference := r.references[0]
	if len(r.references) > 1 {
		r.references = r.references[1:]
	}
	return reference, nil
}

func (r *countingResolver) Calls() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.calls
}

func newReference() *fakeReference {
	return &fakeReference{MockContract: &MockContract{}}
}

func newTestClient(resolver Resolver, lookupTimeout time.Duration, pollInterval time.Duration) *Client {
	return New(NewSession("127.0.0.1", 0, "test-endpoint", lookupTimeout), &TestLogger{},
		WithResolver(resolver), WithPollInterval(pollInterval))
}

func TestSession(t *testing.T) {
	session := NewSession("", 0, "worker", time.Second)
	assert.Equal(t, "127.0.0.1:1099", session.RegistryAddress())
	assert.NoError(t, session.Validate())

	assert.Error(t, Session{RegistryHost: "h", RegistryPort: 1}.Validate())
	assert.Error(t, Session{Name: "n", RegistryPort: 1}.Validate())
	assert.Error(t, Session{Name: "n", RegistryHost: "h", RegistryPort: 70000}.Validate())
}

func TestClient_LookupTimeout(t *testing.T) {
	resolver := &countingResolver{}
	client := newTestClient(resolver, 300*time.Millisecond, 100*time.Millisecond)

	start := time.Now()
	err := client.Start(context.Background(), 1)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.IsEndpointUnavailableError(err))
	assert.True(t, stderrors.Is(err, errors.NewNotFoundError("", nil)))
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 300*time.Millisecond+100*time.Millisecond+150*time.Millisecond)
	assert.GreaterOrEqual(t, resolver.Calls(), 3)
}

func TestClient_NoWaitLookupTriesOnce(t *testing.T) {
	resolver := &countingResolver{}
	client := newTestClient(resolver, domain.NoWait, 10*time.Millisecond)

	err := client.Stop(context.Background(), 1)
	assert.True(t, errors.IsEndpointUnavailableError(err))
	assert.Equal(t, 1, resolver.Calls())
}

func TestClient_WaitForeverKeepsLooking(t *testing.T) {
	reference := newReference()
	reference.On("Start", domain.UnitHandle(1)).Return(nil)
	resolver := &countingResolver{failures: 5, references: []*fakeReference{reference}}
	client := newTestClient(resolver, domain.WaitForever, 5*time.Millisecond)

	require.NoError(t, client.Start(context.Background(), 1))
	assert.Equal(t, 6, resolver.Calls())
}

func TestClient_LookupInterrupted(t *testing.T) {
	resolver := &countingResolver{}
	client := newTestClient(resolver, domain.WaitForever, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.Start(ctx, 1)
	require.Error(t, err)
	assert.True(t, errors.IsCancelledError(err))
}

func TestClient_ConcurrentFirstUseResolvesOnce(t *testing.T) {
	reference := newReference()
	reference.On("Start", domain.UnitHandle(1)).Return(nil)
	resolver := &countingResolver{delay: 50 * time.Millisecond, references: []*fakeReference{reference}}
	client := newTestClient(resolver, time.Second, 10*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, client.Start(context.Background(), 1))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, resolver.Calls())
	reference.AssertNumberOfCalls(t, "Start", 10)
}

func TestClient_StaleReferenceIsInvalidated(t *testing.T) {
	first := newReference()
	first.On("Start", domain.UnitHandle(1)).Return(errors.NewStaleReferenceError("endpoint restarted", nil))
	second := newReference()
	second.On("Start", domain.UnitHandle(1)).Return(nil)

	resolver := &countingResolver{references: []*fakeReference{first, second}}
	client := newTestClient(resolver, time.Second, 10*time.Millisecond)

	err := client.Start(context.Background(), 1)
	assert.True(t, errors.IsStaleReferenceError(err))
	assert.True(t, first.closed.Load())

	require.NoError(t, client.Start(context.Background(), 1))
	assert.Equal(t, 2, resolver.Calls())
}

func TestClient_ApplicationErrorsKeepReference(t *testing.T) {
	reference := newReference()
	reference.On("Start", domain.UnitHandle(1)).Return(errors.NewActivationError("not active", int(domain.UnitStateResolved), nil))
	reference.On("Stop", domain.UnitHandle(1)).Return(nil)

	resolver := &countingResolver{references: []*fakeReference{reference}}
	client := newTestClient(resolver, time.Second, 10*time.Millisecond)

	err := client.Start(context.Background(), 1)
	assert.True(t, errors.IsActivationError(err))
	assert.False(t, reference.closed.Load())

	require.NoError(t, client.Stop(context.Background(), 1))
	assert.Equal(t, 1, resolver.Calls())

	require.NoError(t, client.Close())
	assert.True(t, reference.closed.Load())
}

func TestClient_ForwardsOperations(t *testing.T) {
	reference := newReference()
	request := domain.RemoteCallRequest{Capability: "greeter", Method: "Greet", Args: []interface{}{"x"}}
	reference.On("SetStartLevel", domain.UnitHandle(3), 4).Return(nil)
	reference.On("WaitForState", domain.UnitHandle(3), domain.UnitStateActive, 5*time.Second).Return(nil)
	reference.On("RemoteCall", request).Return("hello", nil)

	client := newTestClient(&countingResolver{references: []*fakeReference{reference}}, time.Second, 10*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, client.SetStartLevel(ctx, 3, 4))
	require.NoError(t, client.WaitForState(ctx, 3, domain.UnitStateActive, 5*time.Second))
	result, err := client.RemoteCall(ctx, request)
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
	reference.AssertExpectations(t)
}

func TestClient_CleanupDrainsInReverseOrder(t *testing.T) {
	reference := newReference()
	reference.On("Install", "a", mock.Anything).Return(domain.UnitHandle(1), nil).Once()
	reference.On("Install", "b", mock.Anything).Return(domain.UnitHandle(2), nil).Once()
	reference.On("Install", "c", mock.Anything).Return(domain.UnitHandle(3), nil).Once()
	reference.On("Install", "bad", mock.Anything).Return(domain.UnitHandle(0), errors.NewDeploymentError("malformed", nil)).Once()

	var order []domain.UnitHandle
	record := func(args mock.Arguments) { order = append(order, args.Get(0).(domain.UnitHandle)) }
	reference.On("Uninstall", domain.UnitHandle(3)).Run(record).Return(nil)
	reference.On("Uninstall", domain.UnitHandle(2)).Run(record).Return(errors.NewInternalError("uninstall failed", nil))
	reference.On("Uninstall", domain.UnitHandle(1)).Run(record).Return(nil)

	client := newTestClient(&countingResolver{references: []*fakeReference{reference}}, time.Second, 10*time.Millisecond)
	ctx := context.Background()

	for _, location := range []string{"a", "b", "c"} {
		_, err := client.Install(ctx, location, []byte("name: x"))
		require.NoError(t, err)
	}
	_, err := client.Install(ctx, "bad", []byte("garbage"))
	assert.True(t, errors.IsDeploymentError(err))
	assert.Equal(t, []domain.UnitHandle{1, 2, 3}, client.Installed())

	require.NoError(t, client.Cleanup(ctx))
	assert.Equal(t, []domain.UnitHandle{3, 2, 1}, order)
	assert.Empty(t, client.Installed())

	// a drained stack has nothing left to uninstall
	require.NoError(t, client.Cleanup(ctx))
	reference.AssertNumberOfCalls(t, "Uninstall", 3)
}

func TestClient_CleanupReportsLastFailure(t *testing.T) {
	reference := newReference()
	reference.On("Install", "a", mock.Anything).Return(domain.UnitHandle(1), nil).Once()
	reference.On("Install", "b", mock.Anything).Return(domain.UnitHandle(2), nil).Once()
	reference.On("Uninstall", domain.UnitHandle(2)).Return(nil)
	reference.On("Uninstall", domain.UnitHandle(1)).Return(errors.NewInternalError("uninstall failed", nil))

	client := newTestClient(&countingResolver{references: []*fakeReference{reference}}, time.Second, 10*time.Millisecond)
	ctx := context.Background()

	_, err := client.Install(ctx, "a", nil)
	require.NoError(t, err)
	_, err = client.Install(ctx, "b", nil)
	require.NoError(t, err)

	err = client.Cleanup(ctx)
	require.Error(t, err)
	assert.Empty(t, client.Installed())
	reference.AssertNumberOfCalls(t, "Uninstall", 2)
}

func TestClient_ConcurrentInstallAndCleanup(t *testing.T) {
	const installs = 64

	reference := newReference()
	for i := 1; i <= installs; i++ {
		reference.On("Install", fmt.Sprintf("unit-%d", i), mock.Anything).Return(domain.UnitHandle(i), nil).Once()
	}

	var countsMutex sync.Mutex
	uninstalls := make(map[domain.UnitHandle]int)
	reference.On("Uninstall", mock.Anything).Run(func(args mock.Arguments) {
		countsMutex.Lock()
		uninstalls[args.Get(0).(domain.UnitHandle)]++
		countsMutex.Unlock()
	}).Return(nil)

	client := newTestClient(&countingResolver{references: []*fakeReference{reference}}, time.Second, 10*time.Millisecond)
	ctx := context.Background()

	var wg sync.WaitGroup
	handles := make(chan domain.UnitHandle, installs)
	for i := 1; i <= installs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handle, err := client.Install(ctx, fmt.Sprintf("unit-%d", i), nil)
			assert.NoError(t, err)
			handles <- handle
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, client.Cleanup(ctx))
		}()
	}
	wg.Wait()
	close(handles)

	// whatever the interleaving, one more drain picks up the rest
	require.NoError(t, client.Cleanup(ctx))
	assert.Empty(t, client.Installed())

	countsMutex.Lock()
	defer countsMutex.Unlock()
	seen := 0
	for handle := range handles {
		seen++
		assert.Equal(t, 1, uninstalls[handle], "handle %d", handle)
	}
	assert.Equal(t, installs, seen)
	assert.Len(t, uninstalls, installs)
}
