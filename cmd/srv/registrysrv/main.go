package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/core-tools/hsu-control/pkg/logging"
	"github.com/core-tools/hsu-control/pkg/registry"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Host     string `long:"host" env:"HSU_REGISTRY_HOST" default:"127.0.0.1" description:"host to listen on"`
	Port     int    `long:"port" env:"HSU_REGISTRY_PORT" description:"port to listen on"`
	LogLevel string `long:"log-level" default:"info" description:"debug, info, warn or error"`
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

	if opts.Port == 0 {
		opts.Port = registry.DefaultPort
	}

	zapConfig := logging.DefaultZapConfig()
	zapConfig.Level = opts.LogLevel
	logger, sync, err := logging.NewZapLogger(logPrefix("hsu-registry"), zapConfig)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer sync()

	logger.Infof("opts: %+v", opts)

	server, err := registry.NewServer(registry.ServerOptions{
		Host: opts.Host,
		Port: opts.Port,
	}, logger)
	if err != nil {
		logger.Errorf("Failed to create registry server: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("Starting...")
	server.Start()

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Stop(stopCtx)

	logger.Infof("Done")
}
