package endpoint

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/core-tools/hsu-control/pkg/control"
	"github.com/core-tools/hsu-control/pkg/domain"
	"github.com/core-tools/hsu-control/pkg/errors"
	"github.com/core-tools/hsu-control/pkg/registry"
	"github.com/core-tools/hsu-control/pkg/runtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freePort reserves an ephemeral port and releases it for a server started later
func freePort(t *testing.T) int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

func startRegistry(t *testing.T, port int) *registry.Server {
	server, err := registry.NewServer(registry.ServerOptions{Host: "127.0.0.1", Port: port}, &TestLogger{})
	require.NoError(t, err)
	server.Start()
	t.Cleanup(func() { server.Stop(context.Background()) })
	return server
}

func waitDone(t *testing.T, registrar *Registrar, timeout time.Duration) {
	select {
	case <-registrar.Done():
	case <-time.After(timeout):
		t.Fatalf("registrar did not finish within %v", timeout)
	}
}

func newTestRegistrar(t *testing.T, registryAddress string, interval time.Duration, attempts uint) (*Registrar, *Endpoint) {
	endpoint, _ := newTestEndpoint(t, false)
	registrar := NewRegistrar(endpoint, RegistrarOptions{
		Name:            "test-endpoint",
		RegistryAddress: registryAddress,
		Host:            "127.0.0.1",
		RetryInterval:   interval,
		MaxAttempts:     attempts,
	}, &TestLogger{})
	t.Cleanup(func() { registrar.Stop(context.Background()) })
	return registrar, endpoint
}

func TestRegistrar_Defaults(t *testing.T) {
	registrar := NewRegistrar(nil, RegistrarOptions{Name: "defaults"}, &TestLogger{})
	assert.Equal(t, DefaultRetryInterval, registrar.options.RetryInterval)
	assert.Equal(t, uint(DefaultMaxAttempts), registrar.options.MaxAttempts)
	assert.False(t, registrar.Registered())
	assert.Empty(t, registrar.Address())
	assert.Empty(t, registrar.ObjectID())
}

func TestRegistrar_RegistersWhenRegistryStartsLate(t *testing.T) {
	port := freePort(t)
	address := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	registrar, _ := newTestRegistrar(t, address, 50*time.Millisecond, 40)
	registrar.Start(context.Background())

	time.Sleep(200 * time.Millisecond)
	assert.False(t, registrar.Registered())

	registryServer := startRegistry(t, port)

	waitDone(t, registrar, 5*time.Second)
	require.NoError(t, registrar.Err())
	assert.True(t, registrar.Registered())

	binding, err := registryServer.Registry().Lookup(context.Background(), "test-endpoint")
	require.NoError(t, err)
	assert.Equal(t, registrar.Address(), binding.Address)
	assert.Equal(t, registrar.ObjectID(), binding.ObjectID)
	assert.NotEmpty(t, binding.ObjectID)
}

func TestRegistrar_ExhaustionLeavesEndpointUnregistered(t *testing.T) {
	address := net.JoinHostPort("127.0.0.1", strconv.Itoa(freePort(t)))

	registrar, _ := newTestRegistrar(t, address, 10*time.Millisecond, 3)
	registrar.Start(context.Background())

	waitDone(t, registrar, 10*time.Second)
	assert.False(t, registrar.Registered())
	require.Error(t, registrar.Err())
	assert.True(t, errors.IsNetworkError(registrar.Err()))
}

func TestRegistrar_StartTwiceIsNoop(t *testing.T) {
	registryServer := startRegistry(t, 0)

	registrar, _ := newTestRegistrar(t, registryServer.Address(), 10*time.Millisecond, 5)
	registrar.Start(context.Background())
	done := registrar.Done()
	registrar.Start(context.Background())
	assert.Equal(t, done, registrar.Done())

	waitDone(t, registrar, 5*time.Second)
	assert.True(t, registrar.Registered())
}

func TestRegistrar_ExportedEndpointServesCalls(t *testing.T) {
	registryServer := startRegistry(t, 0)

	registrar, _ := newTestRegistrar(t, registryServer.Address(), 10*time.Millisecond, 5)
	registrar.Start(context.Background())
	waitDone(t, registrar, 5*time.Second)
	require.True(t, registrar.Registered())

	conn, err := control.Dial(control.ConnectionOptions{
		Address:  registrar.Address(),
		ObjectID: registrar.ObjectID(),
	}, &TestLogger{})
	require.NoError(t, err)
	defer conn.Close()
	contract := control.NewGRPCClientGateway(conn, &TestLogger{})

	ctx := context.Background()
	handle, err := contract.Install(ctx, "echo", descriptor("echo", "activator: echo\n"))
	require.NoError(t, err)
	require.NoError(t, contract.Start(ctx, handle))
	require.NoError(t, contract.WaitForState(ctx, handle, domain.UnitStateActive, time.Second))

	result, err := contract.RemoteCall(ctx, domain.RemoteCallRequest{
		Capability: runtime.EchoCapability,
		Method:     "Echo",
		Args:       []interface{}{"over the wire"},
	})
	require.NoError(t, err)
	assert.Equal(t, "over the wire", result)

	stale, err := control.Dial(control.ConnectionOptions{
		Address:  registrar.Address(),
		ObjectID: "previous-incarnation",
	}, &TestLogger{})
	require.NoError(t, err)
	defer stale.Close()

	err = control.NewGRPCClientGateway(stale, &TestLogger{}).Start(ctx, handle)
	require.Error(t, err)
	assert.True(t, errors.IsStaleReferenceError(err))
}

func TestRegistrar_StopUnbindsAndUnexports(t *testing.T) {
	registryServer := startRegistry(t, 0)

	registrar, _ := newTestRegistrar(t, registryServer.Address(), 10*time.Millisecond, 5)
	registrar.Start(context.Background())
	waitDone(t, registrar, 5*time.Second)
	require.True(t, registrar.Registered())

	address, objectID := registrar.Address(), registrar.ObjectID()

	require.NoError(t, registrar.Stop(context.Background()))
	assert.False(t, registrar.Registered())
	assert.Empty(t, registrar.Address())

	_, err := registryServer.Registry().Lookup(context.Background(), "test-endpoint")
	assert.True(t, errors.IsNotFoundError(err))

	conn, err := control.Dial(control.ConnectionOptions{Address: address, ObjectID: objectID}, &TestLogger{})
	require.NoError(t, err)
	defer conn.Close()
	err = control.NewGRPCClientGateway(conn, &TestLogger{}).Start(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.IsStaleReferenceError(err))

	// a second stop finds nothing bound or exported
	assert.NoError(t, registrar.Stop(context.Background()))
}

func TestRegistrar_StopDoesNotUnbindNewerIncarnation(t *testing.T) {
	registryServer := startRegistry(t, 0)

	registrar, _ := newTestRegistrar(t, registryServer.Address(), 10*time.Millisecond, 5)
	registrar.Start(context.Background())
	waitDone(t, registrar, 5*time.Second)
	require.True(t, registrar.Registered())

	replacement := registry.Binding{Name: "test-endpoint", Address: "127.0.0.1:1", ObjectID: "newer"}
	require.NoError(t, registryServer.Registry().Rebind(context.Background(), replacement))

	require.NoError(t, registrar.Stop(context.Background()))

	binding, err := registryServer.Registry().Lookup(context.Background(), "test-endpoint")
	require.NoError(t, err)
	assert.Equal(t, replacement, binding)
}

func TestRegistrar_StopWhileRetrying(t *testing.T) {
	address := net.JoinHostPort("127.0.0.1", strconv.Itoa(freePort(t)))

	registrar, _ := newTestRegistrar(t, address, time.Second, 100)
	registrar.Start(context.Background())
	time.Sleep(50 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, registrar.Stop(stopCtx))

	waitDone(t, registrar, time.Second)
	assert.False(t, registrar.Registered())
}
