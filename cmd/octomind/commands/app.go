package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Muvon/octomind-sub000/internal/config"
	"github.com/Muvon/octomind-sub000/internal/event"
	"github.com/Muvon/octomind-sub000/internal/logging"
	"github.com/Muvon/octomind-sub000/internal/memory"
	"github.com/Muvon/octomind-sub000/internal/provider"
	"github.com/Muvon/octomind-sub000/internal/session"
	"github.com/Muvon/octomind-sub000/internal/storage"
	"github.com/Muvon/octomind-sub000/internal/tool"
	"github.com/Muvon/octomind-sub000/internal/toolserver"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

// app is the wired engine shared by the commands.
type app struct {
	workDir   string
	config    *types.Config
	bus       *event.Bus
	providers *provider.Registry
	tools     *toolserver.Registry
	router    *toolserver.Router
	memory    *memory.Store
	manager   *session.Manager
}

// newApp loads the configuration for the working directory and wires every
// component. Tool servers that fail to register are logged and skipped.
func newApp(ctx context.Context) (*app, error) {
	dir, err := GetWorkDir()
	if err != nil {
		return nil, err
	}
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if logLevel == "" && cfg.LogLevel != "" {
		logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	}

	a := &app{workDir: dir, config: cfg, bus: event.NewBus()}
	a.providers = provider.NewDefaultRegistry(cfg)
	a.tools = toolserver.NewRegistry(toolserver.Options{
		Environment: tool.Environment{
			WorkDir:      dir,
			Env:          os.Environ(),
			Agents:       cfg.Agents,
			Completer:    tool.ProviderCompleter{Registry: a.providers},
			DefaultModel: cfg.Model,
		},
		Sink: a.bus,
	})
	for _, def := range cfg.Servers {
		if _, err := a.tools.Register(ctx, def); err != nil {
			logging.Warn().Err(err).Str("server", def.Name).Msg("Skipping tool server")
		}
	}
	a.router = toolserver.NewRouter(a.tools, 0)

	st := storage.New(paths.StoragePath())
	a.memory = memory.NewStore(st)
	a.manager = session.NewManager(session.Options{
		Config:    cfg,
		Providers: a.providers,
		Tools:     a.router,
		Store:     session.NewStore(st),
		Memory:    a.memory,
		Sink:      a.bus,
	})
	logging.Info().Str("dir", dir).Str("model", cfg.Model).Str("role", cfg.Role).Int("servers", len(a.tools.Handles())).Msg("Engine ready")
	return a, nil
}

// reconfigure applies a reloaded configuration to running components.
// Tool servers are not re-registered.
func (a *app) reconfigure(cfg *types.Config) {
	for vendor, pc := range cfg.Providers {
		a.providers.Configure(vendor, pc)
	}
	a.manager.SetConfig(cfg)
}

// Close stops every turn and server.
func (a *app) Close() error {
	a.manager.Close()
	return errors.Join(a.tools.Close(), a.bus.Close())
}

// sessionName returns name or the default session name for the directory.
func sessionName(name string) string {
	if name != "" {
		return name
	}
	return "default"
}

// describeError adds what a failed turn left behind.
func describeError(err error, res *session.TurnResult) error {
	if res == nil {
		return err
	}
	switch {
	case res.RolledBack:
		return fmt.Errorf("%w (history unchanged)", err)
	case res.Pairs > 0:
		return fmt.Errorf("%w (%d completed tool results kept)", err, res.Pairs)
	}
	return err
}
