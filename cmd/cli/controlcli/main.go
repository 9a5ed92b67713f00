package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/core-tools/hsu-control/pkg/client"
	"github.com/core-tools/hsu-control/pkg/domain"
	"github.com/core-tools/hsu-control/pkg/logging"
	"github.com/core-tools/hsu-control/pkg/proxy"
	"github.com/core-tools/hsu-control/pkg/retry"

	flags "github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

type globalOptions struct {
	RegistryHost  string        `long:"registry-host" env:"HSU_REGISTRY_HOST" default:"127.0.0.1" description:"registry host"`
	RegistryPort  int           `long:"registry-port" env:"HSU_REGISTRY_PORT" default:"1099" description:"registry port"`
	Name          string        `long:"name" env:"HSU_ENDPOINT_NAME" default:"hsu-control" description:"endpoint name"`
	LookupTimeout time.Duration `long:"lookup-timeout" default:"10s" description:"how long to wait for the endpoint to be registered"`
	RetryAttempts uint          `long:"retry-attempts" default:"5" description:"attempts for calls failing with a stale reference"`
	RetryDelay    time.Duration `long:"retry-delay" default:"1s" description:"delay between stale reference retries"`
	Verbose       bool          `long:"verbose" short:"v" description:"debug logging"`
}

var options globalOptions

type handleArgs struct {
	Handle int64 `positional-arg-name:"handle" required:"yes"`
}

type installCommand struct {
	File  string        `long:"file" description:"send the unit descriptor from this file instead of resolving the location remotely"`
	Start bool          `long:"start" description:"start the unit after installing it"`
	Wait  time.Duration `long:"wait" description:"wait this long for the unit to become active (requires --start)"`
	Args  struct {
		Location string `positional-arg-name:"location" required:"yes"`
	} `positional-args:"yes"`
}

type uninstallCommand struct {
	Args handleArgs `positional-args:"yes"`
}

type startCommand struct {
	Args handleArgs `positional-args:"yes"`
}

type stopCommand struct {
	Args handleArgs `positional-args:"yes"`
}

type startLevelCommand struct {
	Args struct {
		Handle int64 `positional-arg-name:"handle" required:"yes"`
		Level  int   `positional-arg-name:"level" required:"yes"`
	} `positional-args:"yes"`
}

type waitCommand struct {
	State   string        `long:"state" default:"active" description:"target state name or ordinal"`
	Timeout time.Duration `long:"timeout" default:"5s" description:"how long to wait"`
	Forever bool          `long:"forever" description:"wait without a timeout"`
	Args    handleArgs    `positional-args:"yes"`
}

type callCommand struct {
	Filter     string        `long:"filter" description:"selection filter, e.g. (name=test)"`
	Timeout    time.Duration `long:"timeout" default:"1s" description:"how long to wait for a matching provider"`
	ParamTypes []string      `long:"type" description:"expected parameter type, repeated per argument"`
	Args       struct {
		Capability string   `positional-arg-name:"capability" required:"yes"`
		Method     string   `positional-arg-name:"method" required:"yes"`
		Values     []string `positional-arg-name:"args"`
	} `positional-args:"yes"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-client , ", module)
}

// session runs fn against a retrying client for the configured endpoint
func session(fn func(ctx context.Context, controlClient client.ControlClient, logger logging.Logger) error) error {
	zapConfig := logging.DefaultZapConfig()
	if options.Verbose {
		zapConfig.Level = "debug"
	}
	logger, sync, err := logging.NewZapLogger(logPrefix("hsu-control"), zapConfig)
	if err != nil {
		return err
	}
	defer sync()

	controlSession := client.NewSession(options.RegistryHost, options.RegistryPort, options.Name, options.LookupTimeout)
	if err := controlSession.Validate(); err != nil {
		return err
	}

	controlClient := retry.New(
		client.New(controlSession, logger),
		retry.Policy{MaxAttempts: options.RetryAttempts, Delay: options.RetryDelay},
		logging.WithPrefix(logger, "retry , "),
	)
	defer controlClient.Close()

	return fn(context.Background(), controlClient, logger)
}

func (c *installCommand) Execute(args []string) error {
	var content []byte
	if c.File != "" {
		data, err := os.ReadFile(c.File)
		if err != nil {
			return fmt.Errorf("failed to read unit descriptor: %w", err)
		}
		content = data
	}

	return session(func(ctx context.Context, controlClient client.ControlClient, logger logging.Logger) error {
		handle, err := controlClient.Install(ctx, c.Args.Location, content)
		if err != nil {
			return err
		}
		fmt.Println(handle)

		if !c.Start {
			return nil
		}
		if err := controlClient.Start(ctx, handle); err != nil {
			return err
		}
		if c.Wait > 0 {
			return controlClient.WaitForState(ctx, handle, domain.UnitStateActive, c.Wait)
		}
		return nil
	})
}

func (c *uninstallCommand) Execute(args []string) error {
	return session(func(ctx context.Context, controlClient client.ControlClient, logger logging.Logger) error {
		return controlClient.Uninstall(ctx, domain.UnitHandle(c.Args.Handle))
	})
}

func (c *startCommand) Execute(args []string) error {
	return session(func(ctx context.Context, controlClient client.ControlClient, logger logging.Logger) error {
		return controlClient.Start(ctx, domain.UnitHandle(c.Args.Handle))
	})
}

func (c *stopCommand) Execute(args []string) error {
	return session(func(ctx context.Context, controlClient client.ControlClient, logger logging.Logger) error {
		return controlClient.Stop(ctx, domain.UnitHandle(c.Args.Handle))
	})
}

func (c *startLevelCommand) Execute(args []string) error {
	return session(func(ctx context.Context, controlClient client.ControlClient, logger logging.Logger) error {
		return controlClient.SetStartLevel(ctx, domain.UnitHandle(c.Args.Handle), c.Args.Level)
	})
}

func (c *waitCommand) Execute(args []string) error {
	target, err := domain.ParseUnitState(c.State)
	if err != nil {
		return err
	}
	timeout := c.Timeout
	if c.Forever {
		timeout = domain.WaitForever
	}

	return session(func(ctx context.Context, controlClient client.ControlClient, logger logging.Logger) error {
		if err := controlClient.WaitForState(ctx, domain.UnitHandle(c.Args.Handle), target, timeout); err != nil {
			return err
		}
		logger.Infof("Unit reached state, handle: %d, state: %s", c.Args.Handle, target)
		return nil
	})
}

func (c *callCommand) Execute(args []string) error {
	values, err := parseValues(c.Args.Values)
	if err != nil {
		return err
	}

	return session(func(ctx context.Context, controlClient client.ControlClient, logger logging.Logger) error {
		locator := proxy.New(controlClient, c.Args.Capability, c.Filter, c.Timeout)
		result, err := locator.InvokeWithTypes(ctx, c.Args.Method, c.ParamTypes, values...)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(result)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	})
}

// parseValues reads each argument as a YAML scalar or document, so numbers,
// booleans, lists and maps keep their type; anything else stays a string.
func parseValues(raw []string) ([]interface{}, error) {
	values := make([]interface{}, 0, len(raw))
	for i, text := range raw {
		var value interface{}
		if err := yaml.Unmarshal([]byte(text), &value); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		values = append(values, value)
	}
	return values, nil
}

func main() {
	var parser = flags.NewParser(&options, flags.HelpFlag|flags.PassDoubleDash)

	commands := []struct {
		name, short string
		data        interface{}
	}{
		{"install", "Install a unit", &installCommand{}},
		{"uninstall", "Uninstall a unit", &uninstallCommand{}},
		{"start", "Start a unit", &startCommand{}},
		{"stop", "Stop a unit", &stopCommand{}},
		{"start-level", "Set the start level of a unit", &startLevelCommand{}},
		{"wait", "Wait for a unit to reach a state", &waitCommand{}},
		{"call", "Invoke a method on a capability provider", &callCommand{}},
	}
	for _, command := range commands {
		if _, err := parser.AddCommand(command.name, command.short, command.short, command.data); err != nil {
			fmt.Printf("Failed to register command %s: %v\n", command.name, err)
			os.Exit(1)
		}
	}

	if _, err := parser.ParseArgs(os.Args[1:]); err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}
