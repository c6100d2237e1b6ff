package main

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeeves-cluster-organization/answerflow/commbus"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/agents"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/config"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/llm"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/logging"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/observability"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/prompts"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/runtime"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/tools"
)

// UnitFactory builds the capability units for a loaded configuration.
type UnitFactory func(cfg *config.WorkflowConfig, fs afero.Fs, reg *prompts.Registry, logger logging.Logger) (agents.Units, error)

// app carries the state shared by all subcommands.
type app struct {
	fs      afero.Fs
	v       *viper.Viper
	cfgFile string
	units   UnitFactory

	cfg            *config.WorkflowConfig
	logger         logging.Logger
	shutdownTracer func(context.Context) error
}

func newApp(fs afero.Fs, units UnitFactory) *app {
	if units == nil {
		units = llmUnits
	}
	v := viper.New()
	v.SetFs(fs)
	return &app{fs: fs, v: v, units: units}
}

// setup loads the configuration and starts logging and tracing.
func (a *app) setup(cmd *cobra.Command) error {
	if err := config.Init(a.v, a.cfgFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

	if cfg.Tracing.Enabled {
		shutdown, err := observability.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
		if err != nil {
			return err
		}
		a.shutdownTracer = shutdown
		a.logger.Info("tracing_enabled", "endpoint", cfg.Tracing.Endpoint)
	}
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	if a.shutdownTracer == nil {
		return nil
	}
	return a.shutdownTracer(ctx)
}

// newRunner wires prompts, units and bus observers into a Runner.
func (a *app) newRunner() (*runtime.Runner, error) {
	reg, err := prompts.NewRegistry()
	if err != nil {
		return nil, err
	}
	if a.cfg.PromptsFile != "" {
		if err := reg.LoadFile(a.fs, a.cfg.PromptsFile); err != nil {
			return nil, err
		}
	}

	units, err := a.units(a.cfg, a.fs, reg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build units: %w", err)
	}

	return runtime.NewRunner(a.cfg, units,
		runtime.WithLogger(a.logger),
		runtime.WithPrompts(reg),
		runtime.WithObserver(commbus.NewLoggingObserver(a.logger)),
		runtime.WithObserver(commbus.NewMetricsObserver()),
	)
}

// llmUnits builds the LLM-backed units with the built-in tools. File reads
// are confined to the configured files root.
func llmUnits(cfg *config.WorkflowConfig, fs afero.Fs, reg *prompts.Registry, logger logging.Logger) (agents.Units, error) {
	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return agents.Units{}, err
	}

	executor := tools.NewToolExecutor()
	files := tools.NewFileReader(afero.NewBasePathFs(fs, cfg.FilesRoot), tools.DefaultMaxFileBytes)
	if err := tools.RegisterBuiltins(executor, files); err != nil {
		return agents.Units{}, err
	}

	return agents.NewLLMUnits(cfg, agents.Deps{
		LLM:               client,
		Prompts:           reg,
		Tools:             executor,
		Logger:            logger,
		MaxToolIterations: cfg.MaxToolIterations,
	})
}
