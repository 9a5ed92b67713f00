package client

import (
	"context"
	stderrors "errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/core-tools/hsu-control/pkg/domain"
	"github.com/core-tools/hsu-control/pkg/endpoint"
	"github.com/core-tools/hsu-control/pkg/errors"
	"github.com/core-tools/hsu-control/pkg/registry"
	"github.com/core-tools/hsu-control/pkg/runtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndToEnd_StartupRace(t *testing.T) {
	ctx := context.Background()

	registryServer, err := registry.NewServer(registry.ServerOptions{Host: "127.0.0.1"}, &TestLogger{})
	require.NoError(t, err)
	registryServer.Start()
	defer registryServer.Stop(ctx)

	activators := runtime.NewActivatorRegistry()
	require.NoError(t, runtime.RegisterBuiltins(activators))
	framework := runtime.NewFramework(runtime.FrameworkOptions{Activators: activators}, &TestLogger{})
	defer framework.Shutdown(ctx)

	registrar := endpoint.NewRegistrar(
		endpoint.NewEndpoint(framework, endpoint.Options{}, &TestLogger{}),
		endpoint.RegistrarOptions{
			Name:            "e2e-endpoint",
			RegistryAddress: registryServer.Address(),
			Host:            "127.0.0.1",
			RetryInterval:   20 * time.Millisecond,
		}, &TestLogger{})
	defer registrar.Stop(ctx)

	host, port, err := net.SplitHostPort(registryServer.Address())
	require.NoError(t, err)
	session := NewSession(host, parsePort(t, port), "e2e-endpoint", 10*time.Second)
	client := New(session, &TestLogger{})
	defer client.Close()

	// the endpoint registers only after the client has begun looking it up
	go func() {
		time.Sleep(300 * time.Millisecond)
		registrar.Start(context.Background())
	}()

	handle, err := client.Install(ctx, "unit-A", []byte("name: unit-a\nactivator: echo\n"))
	require.NoError(t, err)
	assert.Equal(t, domain.UnitHandle(1), handle)

	require.NoError(t, client.Start(ctx, handle))
	require.NoError(t, client.WaitForState(ctx, handle, domain.UnitStateActive, 5000*time.Millisecond))

	result, err := client.RemoteCall(ctx, domain.RemoteCallRequest{
		Capability: runtime.EchoCapability,
		Method:     "Echo",
		Timeout:    time.Second,
		Args:       []interface{}{"ping"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ping", result)

	_, err = client.RemoteCall(ctx, domain.RemoteCallRequest{
		Capability: "Greeter",
		Method:     "greet",
		ParamTypes: []string{},
		Filter:     "(name=test)",
		Timeout:    1000 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, errors.IsNoSuchServiceError(err))

	require.NoError(t, client.Cleanup(ctx))
	_, err = framework.State(handle)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestEndToEnd_NothingRegistered(t *testing.T) {
	ctx := context.Background()

	registryServer, err := registry.NewServer(registry.ServerOptions{Host: "127.0.0.1"}, &TestLogger{})
	require.NoError(t, err)
	registryServer.Start()
	defer registryServer.Stop(ctx)

	host, port, err := net.SplitHostPort(registryServer.Address())
	require.NoError(t, err)
	client := New(NewSession(host, parsePort(t, port), "absent", 300*time.Millisecond), &TestLogger{})

	start := time.Now()
	_, err = client.Install(ctx, "unit-A", []byte("name: unit-a\n"))
	require.Error(t, err)
	assert.True(t, errors.IsEndpointUnavailableError(err))
	assert.True(t, stderrors.Is(err, errors.NewNotFoundError("", nil)))
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func parsePort(t *testing.T, value string) int {
	port, err := strconv.Atoi(value)
	require.NoError(t, err)
	return port
}
