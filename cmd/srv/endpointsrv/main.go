package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/core-tools/hsu-control/pkg/endpoint"
	"github.com/core-tools/hsu-control/pkg/logging"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Config           string        `long:"config" short:"c" description:"path to the endpoint configuration file"`
	Name             string        `long:"name" env:"HSU_ENDPOINT_NAME" description:"name the endpoint is bound under"`
	Port             int           `long:"port" description:"port the endpoint is exported on (0 picks one)"`
	RegistryHost     string        `long:"registry-host" env:"HSU_REGISTRY_HOST" description:"registry host"`
	RegistryPort     int           `long:"registry-port" env:"HSU_REGISTRY_PORT" description:"registry port"`
	EmbeddedRegistry bool          `long:"embedded-registry" description:"host the registry in this process"`
	MetricsAddress   string        `long:"metrics" description:"serve Prometheus metrics on this address, e.g. :9090"`
	RunDuration      time.Duration `long:"run-duration" description:"stop after this long (0 runs until signalled)"`
	LogLevel         string        `long:"log-level" default:"info" description:"debug, info, warn or error"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-server , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v", err)
		os.Exit(1)
	}

	config := endpoint.DefaultConfig()
	if opts.Config != "" {
		config, err = endpoint.LoadConfigFromFile(opts.Config)
		if err != nil {
			fmt.Printf("Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	}
	applyFlags(config, opts)

	logger, sync, err := logging.NewZapLogger(logPrefix("hsu-endpoint"), zapConfigFor(config, opts.LogLevel))
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer sync()

	logger.Infof("opts: %+v", opts)

	if err := endpoint.ValidateConfig(config); err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	server, err := endpoint.NewServer(config, nil, logger)
	if err != nil {
		logger.Errorf("Failed to create endpoint server: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.RunDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.RunDuration)
		defer cancel()
	}

	logger.Infof("Starting...")

	if err := server.Run(ctx); err != nil {
		logger.Errorf("Endpoint server stopped with error: %v", err)
		os.Exit(1)
	}

	logger.Infof("Done")
}

// zapConfigFor picks the logging section of the config file, falling back to --log-level
func zapConfigFor(config *endpoint.Config, logLevel string) logging.ZapConfig {
	if config.Logging != nil {
		return *config.Logging
	}
	zapConfig := logging.DefaultZapConfig()
	zapConfig.Level = logLevel
	return zapConfig
}

// applyFlags overrides configuration values with explicitly given flags and environment
func applyFlags(config *endpoint.Config, opts flagOptions) {
	if opts.Name != "" {
		config.Endpoint.Name = opts.Name
	}
	if opts.Port != 0 {
		config.Endpoint.Port = opts.Port
	}
	if opts.RegistryHost != "" {
		config.Registry.Host = opts.RegistryHost
	}
	if opts.RegistryPort != 0 {
		config.Registry.Port = opts.RegistryPort
	}
	if opts.EmbeddedRegistry {
		config.Registry.Embedded = true
	}
	if opts.MetricsAddress != "" {
		config.Metrics.Address = opts.MetricsAddress
	}
}
