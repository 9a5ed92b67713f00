package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/core-tools/hsu-control/pkg/client"
	"github.com/core-tools/hsu-control/pkg/domain"
	"github.com/core-tools/hsu-control/pkg/logging"
	"github.com/core-tools/hsu-control/pkg/proxy"
	"github.com/core-tools/hsu-control/pkg/retry"
	"github.com/core-tools/hsu-control/pkg/runtime"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	RegistryHost  string        `long:"registry-host" env:"HSU_REGISTRY_HOST" default:"127.0.0.1" description:"registry host"`
	RegistryPort  int           `long:"registry-port" env:"HSU_REGISTRY_PORT" default:"1099" description:"registry port"`
	Name          string        `long:"name" env:"HSU_ENDPOINT_NAME" default:"hsu-control" description:"endpoint name"`
	LookupTimeout time.Duration `long:"lookup-timeout" default:"30s" description:"how long to wait for the endpoint"`
	Rounds        int           `long:"rounds" default:"1" description:"install/start/call/cleanup rounds to run"`
	Pause         time.Duration `long:"pause" default:"0s" description:"pause between rounds, e.g. to restart the endpoint"`
}

// echoUnit is installed by content so the endpoint needs no local file
var echoUnit = runtime.Manifest{
	Name:      "controltest-echo",
	Activator: runtime.EchoActivatorName,
	Properties: map[string]string{
		"name":   "controltest",
		"prefix": "echo: ",
	},
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	logger, sync, err := logging.NewZapLogger("module: controltest , ", logging.DefaultZapConfig())
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer sync()

	logger.Infof("Running controltest, opts: %+v...", opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := client.NewSession(opts.RegistryHost, opts.RegistryPort, opts.Name, opts.LookupTimeout)
	controlClient := retry.New(client.New(session, logger), retry.DefaultPolicy(), logging.WithPrefix(logger, "retry , "))
	defer controlClient.Close()

	for round := 1; round <= opts.Rounds; round++ {
		if err := runRound(ctx, controlClient, logger, round); err != nil {
			logger.Errorf("Round %d failed: %v", round, err)
			os.Exit(1)
		}
		if round < opts.Rounds && opts.Pause > 0 {
			select {
			case <-time.After(opts.Pause):
			case <-ctx.Done():
				logger.Infof("Interrupted")
				return
			}
		}
	}

	logger.Infof("Controltest passed, rounds: %d", opts.Rounds)
}

func runRound(ctx context.Context, controlClient client.ControlClient, logger logging.Logger, round int) (err error) {
	defer func() {
		if cleanupErr := controlClient.Cleanup(ctx); cleanupErr != nil && err == nil {
			err = cleanupErr
		}
	}()

	content, err := echoUnit.Marshal()
	if err != nil {
		return err
	}
	handle, err := controlClient.Install(ctx, echoUnit.Name, content)
	if err != nil {
		return err
	}
	if err := controlClient.Start(ctx, handle); err != nil {
		return err
	}
	if err := controlClient.WaitForState(ctx, handle, domain.UnitStateActive, 5*time.Second); err != nil {
		return err
	}

	locator := proxy.New(controlClient, runtime.EchoCapability, "(name=controltest)", time.Second)
	reply, err := proxy.Call[string](ctx, locator, "Echo", fmt.Sprintf("round %d", round))
	if err != nil {
		return err
	}
	logger.Infof("Round %d, handle: %d, reply: %s", round, handle, reply)
	return nil
}
