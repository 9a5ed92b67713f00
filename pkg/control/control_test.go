package control

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/core-tools/hsu-control/pkg/domain"
	"github.com/core-tools/hsu-control/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

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

type testEndpoint struct {
	server   Server
	contract *MockContract
	objectID string
}

func startTestEndpoint(t *testing.T, objectID string) *testEndpoint {
	endpoint := &testEndpoint{contract: &MockContract{}, objectID: objectID}
	server, err := NewServer(ServerOptions{
		UnaryInterceptors: []grpc.UnaryServerInterceptor{
			ObjectIDServerInterceptor(func() string { return endpoint.objectID }, IsControlMethod),
		},
	}, &TestLogger{})
	require.NoError(t, err)
	RegisterGRPCServerHandler(server.GRPC(), endpoint.contract, &TestLogger{})
	server.Start()
	t.Cleanup(func() { server.Stop(context.Background()) })
	endpoint.server = server
	return endpoint
}

func dialTestEndpoint(t *testing.T, address, objectID string) domain.Contract {
	conn, err := Dial(ConnectionOptions{Address: address, ObjectID: objectID}, &TestLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewGRPCClientGateway(conn, &TestLogger{})
}

func TestGateway_ForwardsOperations(t *testing.T) {
	endpoint := startTestEndpoint(t, "object-1")
	gateway := dialTestEndpoint(t, endpoint.server.Address(), "object-1")
	ctx := context.Background()

	endpoint.contract.On("Install", "file:///units/echo.yaml", []byte("name: echo")).Return(domain.UnitHandle(1), nil)
	endpoint.contract.On("Install", "file:///units/other.yaml", []byte(nil)).Return(domain.UnitHandle(2), nil)
	endpoint.contract.On("Start", domain.UnitHandle(1)).Return(nil)
	endpoint.contract.On("Stop", domain.UnitHandle(1)).Return(nil)
	endpoint.contract.On("SetStartLevel", domain.UnitHandle(1), 3).Return(nil)
	endpoint.contract.On("WaitForState", domain.UnitHandle(1), domain.UnitStateActive, domain.WaitForever).Return(nil)
	endpoint.contract.On("Uninstall", domain.UnitHandle(1)).Return(nil)

	handle, err := gateway.Install(ctx, "file:///units/echo.yaml", []byte("name: echo"))
	require.NoError(t, err)
	assert.Equal(t, domain.UnitHandle(1), handle)

	handle, err = gateway.Install(ctx, "file:///units/other.yaml", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitHandle(2), handle)

	require.NoError(t, gateway.Start(ctx, 1))
	require.NoError(t, gateway.SetStartLevel(ctx, 1, 3))
	require.NoError(t, gateway.WaitForState(ctx, 1, domain.UnitStateActive, domain.WaitForever))
	require.NoError(t, gateway.Stop(ctx, 1))
	require.NoError(t, gateway.Uninstall(ctx, 1))

	endpoint.contract.AssertExpectations(t)
}

func TestGateway_RemoteCall(t *testing.T) {
	endpoint := startTestEndpoint(t, "object-1")
	gateway := dialTestEndpoint(t, endpoint.server.Address(), "object-1")

	endpoint.contract.On("RemoteCall", mock.MatchedBy(func(request domain.RemoteCallRequest) bool {
		return request.Capability == "greeter" &&
			request.Method == "Greet" &&
			request.Filter == "(lang=en)" &&
			request.Timeout == 2*time.Second &&
			assert.ObjectsAreEqual([]string{"string"}, request.ParamTypes) &&
			assert.ObjectsAreEqual([]interface{}{"world"}, request.Args)
	})).Return("hello world", nil)

	result, err := gateway.RemoteCall(context.Background(), domain.RemoteCallRequest{
		Capability: "greeter",
		Method:     "Greet",
		ParamTypes: []string{"string"},
		Filter:     "(lang=en)",
		Timeout:    2 * time.Second,
		Args:       []interface{}{"world"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", result)
}

func TestGateway_DomainErrorsSurviveTransport(t *testing.T) {
	endpoint := startTestEndpoint(t, "")
	gateway := dialTestEndpoint(t, endpoint.server.Address(), "")
	ctx := context.Background()

	endpoint.contract.On("Start", domain.UnitHandle(4)).
		Return(errors.NewActivationError("activator failed to start", int(domain.UnitStateResolved), nil))
	endpoint.contract.On("WaitForState", domain.UnitHandle(4), domain.UnitStateActive, domain.NoWait).
		Return(errors.NewStateTimeoutError("unit did not reach state", int(domain.UnitStateInstalled)))
	endpoint.contract.On("Install", "missing", []byte(nil)).
		Return(domain.UnitHandle(0), errors.NewDeploymentError("cannot resolve unit location", stderrors.New("no such file")))

	err := gateway.Start(ctx, 4)
	require.Error(t, err)
	assert.True(t, errors.IsActivationError(err))
	state, ok := errors.StateOf(err)
	require.True(t, ok)
	assert.Equal(t, int(domain.UnitStateResolved), state)
	assert.False(t, errors.IsStaleReferenceError(err))

	err = gateway.WaitForState(ctx, 4, domain.UnitStateActive, domain.NoWait)
	assert.True(t, errors.IsTimeoutError(err))
	state, ok = errors.StateOf(err)
	require.True(t, ok)
	assert.Equal(t, int(domain.UnitStateInstalled), state)

	_, err = gateway.Install(ctx, "missing", nil)
	assert.True(t, errors.IsDeploymentError(err))
	assert.Contains(t, err.Error(), "no such file")
}

func TestGateway_InvocationTargetIsPreserved(t *testing.T) {
	endpoint := startTestEndpoint(t, "")
	gateway := dialTestEndpoint(t, endpoint.server.Address(), "")

	endpoint.contract.On("RemoteCall", mock.MatchedBy(func(request domain.RemoteCallRequest) bool {
		return request.Method == "Fail"
	})).Return(nil, errors.NewInvocationTargetError("Fail", stderrors.New("echo failure: boom")))
	endpoint.contract.On("RemoteCall", mock.MatchedBy(func(request domain.RemoteCallRequest) bool {
		return request.Method == "Validate"
	})).Return(nil, errors.NewInvocationTargetError("Validate", errors.NewValidationError("bad input", nil)))

	_, err := gateway.RemoteCall(context.Background(), domain.RemoteCallRequest{Capability: "echo", Method: "Fail"})
	require.Error(t, err)
	assert.True(t, errors.IsInvocationTargetError(err))
	target := errors.UnwrapInvocationTarget(err)
	assert.Equal(t, "echo failure: boom", target.Error())
	var remoteErr *RemoteError
	assert.True(t, stderrors.As(target, &remoteErr))

	_, err = gateway.RemoteCall(context.Background(), domain.RemoteCallRequest{Capability: "echo", Method: "Validate"})
	require.Error(t, err)
	target = errors.UnwrapInvocationTarget(err)
	assert.True(t, errors.IsValidationError(target))
	assert.False(t, errors.IsInvocationTargetError(target))
}

func TestGateway_StaleObjectID(t *testing.T) {
	endpoint := startTestEndpoint(t, "object-2")
	gateway := dialTestEndpoint(t, endpoint.server.Address(), "object-1")

	err := gateway.Start(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.IsStaleReferenceError(err))
	endpoint.contract.AssertNotCalled(t, "Start", mock.Anything)
}

func TestGateway_UnreachableEndpointIsStale(t *testing.T) {
	endpoint := startTestEndpoint(t, "")
	address := endpoint.server.Address()
	endpoint.server.Stop(context.Background())

	gateway := dialTestEndpoint(t, address, "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := gateway.Start(ctx, 1)
	require.Error(t, err)
	assert.True(t, errors.IsStaleReferenceError(err))
}

func TestFromStatusError_Peers(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "connection refused")

	assert.True(t, errors.IsStaleReferenceError(FromStatusError(unavailable, PeerEndpoint)))

	registryErr := FromStatusError(unavailable, PeerRegistry)
	assert.False(t, errors.IsStaleReferenceError(registryErr))
	assert.True(t, errors.IsNetworkError(registryErr))

	assert.True(t, errors.IsTimeoutError(FromStatusError(status.Error(codes.DeadlineExceeded, "deadline"), PeerEndpoint)))
	assert.True(t, errors.IsCancelledError(FromStatusError(status.Error(codes.Canceled, "cancelled"), PeerEndpoint)))
	assert.True(t, errors.IsNetworkError(FromStatusError(stderrors.New("plain"), PeerEndpoint)))
	assert.Nil(t, FromStatusError(nil, PeerEndpoint))
}

func TestToStatusError_Codes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"validation", errors.NewValidationError("bad", nil), codes.InvalidArgument},
		{"no such service", errors.NewNoSuchServiceError("none", nil), codes.NotFound},
		{"activation", errors.NewActivationError("failed", 4, nil), codes.FailedPrecondition},
		{"timeout", errors.NewTimeoutError("late", nil), codes.DeadlineExceeded},
		{"plain", stderrors.New("boom"), codes.Internal},
		{"context cancelled", context.Canceled, codes.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, ok := status.FromError(ToStatusError(tt.err))
			require.True(t, ok)
			assert.Equal(t, tt.code, st.Code())
		})
	}
	assert.Nil(t, ToStatusError(nil))
}

func TestIsControlMethod(t *testing.T) {
	assert.True(t, IsControlMethod(FullMethod(ControlServiceName, MethodStart)))
	assert.False(t, IsControlMethod("/hsu.control.v1.RegistryService/Lookup"))
	assert.False(t, IsControlMethod("/"))
}
