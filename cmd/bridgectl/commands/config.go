package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/agentbridge/agentbridge/internal/app"
)

// loadConfig merges file and environment configuration, then lets explicit
// CLI flags win.
func loadConfig(path string, cmd *cli.Command, environFunc func() []string) (app.Config, error) {
	cfg, err := app.LoadConfig(path, environFunc)
	if err != nil {
		return app.Config{}, err
	}

	if cmd.IsSet("addr") {
		cfg.Server.Addr = cmd.String("addr")
	}

	return cfg, nil
}
