// Package main provides the session-keeper agent entry point. It keeps
// a server-issued chat session alive while stdin shows activity and
// lets it expire when it does not.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/txn2/session-keeper/internal/agent"
	"github.com/txn2/session-keeper/pkg/activity"
)

// version is set at build time.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type agentOptions struct {
	configPath  string
	serverURL   string
	showVersion bool
}

func parseFlags() agentOptions {
	opts := agentOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.serverURL, "server", "", "Session API base URL (overrides config)")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func loadConfig(opts agentOptions) (*agent.Config, error) {
	var cfg *agent.Config
	if opts.configPath != "" {
		loaded, err := agent.LoadConfig(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = agent.DefaultConfig()
	}
	if opts.serverURL != "" {
		cfg.Server.BaseURL = opts.serverURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("session-keeper %s\n", version)
		return nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx := setupSignalHandler()

	a := agent.New(cfg, clockwork.NewRealClock())
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Shutdown()

	ctrl := a.Controller()
	unregister := ctrl.OnExpired(func(id string) {
		fmt.Printf("session %s expired; press enter after restarting\n", id)
	})
	defer unregister()

	status := ctrl.Status()
	fmt.Printf("session %s active until %s (language %s)\n",
		status.ID, status.ExpiresAt.Format("15:04:05"), status.Language)
	fmt.Println("type to stay active, 'restart' to restart, 'quit' to exit")

	return readLoop(ctx, a)
}

// readLoop treats each stdin line as user activity until the context
// is cancelled or the user quits.
func readLoop(ctx context.Context, a *agent.Agent) error {
	ctrl := a.Controller()
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctrl.Close(context.Background())
		case line, ok := <-lines:
			if !ok {
				return ctrl.Close(context.Background())
			}
			switch strings.TrimSpace(line) {
			case "quit":
				return ctrl.Close(context.Background())
			case "restart":
				ctrl.AcknowledgeExpiration()
				if err := ctrl.Restart(ctx, nil); err != nil {
					fmt.Fprintf(os.Stderr, "restart failed: %v\n", err)
					continue
				}
				fmt.Printf("session %s active\n", ctrl.Status().ID)
			default:
				a.Monitor().Observe(activity.KindKeyPress)
			}
		}
	}
}
