package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/pandock/internal/config"
	"github.com/ZebulonRouseFrantzich/pandock/internal/logging"
	"github.com/ZebulonRouseFrantzich/pandock/internal/paths"
	"github.com/ZebulonRouseFrantzich/pandock/internal/platform"
	"github.com/ZebulonRouseFrantzich/pandock/internal/service"
)

type globalFlags struct {
	configPath string
	dataDir    string
	logLevel   string
	verbose    bool
}

// commandContext lazily loads configuration and the service for commands
// that need them.
type commandContext struct {
	flags *globalFlags

	svc *service.Service
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) layout() (paths.Layout, error) {
	return paths.Resolve(strings.TrimSpace(c.flags.dataDir), "")
}

func (c *commandContext) configPath(layout paths.Layout) string {
	if p := strings.TrimSpace(c.flags.configPath); p != "" {
		return p
	}
	return layout.ConfigFile()
}

// loadConfig parses the config file, applying the --log-level override.
func (c *commandContext) loadConfig(cmd *cobra.Command, layout paths.Layout) (*config.Config, error) {
	bootstrap, err := logging.New(logging.Options{Level: "warn", Output: cmd.ErrOrStderr()})
	if err != nil {
		return nil, err
	}
	parser := config.NewParser(platform.NewDetector()).WithLogger(logging.FromSlog(bootstrap))
	cfg, err := parser.ParseFile(cmd.Context(), c.configPath(layout))
	if err != nil {
		return nil, fmt.Errorf("load config: %s", config.FormatError(err, c.flags.verbose))
	}
	if level := strings.TrimSpace(c.flags.logLevel); level != "" {
		if _, err := logging.ParseLevel(level); err != nil {
			return nil, err
		}
		cfg.Logging.Level = strings.ToLower(level)
	}
	return cfg, nil
}

// service builds the service on first use.
func (c *commandContext) service(cmd *cobra.Command) (*service.Service, error) {
	if c.svc != nil {
		return c.svc, nil
	}
	layout, err := c.layout()
	if err != nil {
		return nil, err
	}
	cfg, err := c.loadConfig(cmd, layout)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}

	svc, err := service.New(cmd.Context(), service.Options{
		Layout:     layout,
		Config:     cfg,
		Logger:     logging.FromSlog(logger),
		MirrorLogs: cfg.Logging.Format == "json",
	})
	if err != nil {
		return nil, err
	}
	c.svc = svc
	return svc, nil
}

// observe attaches a terminal observer to the service's topics. In json
// mode the transcript goes to the structured log instead.
func (c *commandContext) observe(cmd *cobra.Command, svc *service.Service) *observer {
	showLogs := svc.Config().Logging.Format != "json"
	return startObserver(svc, cmd.ErrOrStderr(), showLogs, c.flags.verbose)
}

// finish closes the service and waits for obs to render everything that was
// published.
func (c *commandContext) finish(obs *observer) {
	c.close()
	if obs != nil {
		obs.wait()
	}
}

func (c *commandContext) close() {
	if c.svc != nil {
		c.svc.Close()
	}
}
