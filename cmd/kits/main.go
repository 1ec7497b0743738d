// Command kits runs the kit engine against a simulated host and administers
// its data.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"uniquekits.dev/internal/app"
	"uniquekits.dev/internal/config"
	"uniquekits.dev/internal/logging"
)

type globals struct {
	configPath string
	dataDir    string
	logLevel   string
	backend    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "kits",
		Short:         "Kit distribution engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "kits-config.yml", "config file (missing file means defaults)")
	root.PersistentFlags().StringVar(&g.dataDir, "data", "", "data directory (overrides config)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (overrides config)")
	root.PersistentFlags().StringVar(&g.backend, "store", "", "record store backend: bolt, sqlite or memory")

	root.AddCommand(
		newRunCmd(g),
		newKitCmd(g),
		newGiveCmd(g),
		newRecordCmd(g),
		newBalanceCmd(g),
		newImportCmd(g),
		newSnapshotCmd(g),
		newDBCmd(g),
	)
	return root
}

func (g *globals) config() (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return cfg, err
	}
	if g.dataDir != "" {
		cfg.DataDir = g.dataDir
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.backend != "" {
		cfg.Store.Backend = g.backend
	}
	return cfg, cfg.Validate()
}

// open builds the engine for a one-shot admin command. The file watcher is
// never started here.
func (g *globals) open(ctx context.Context, cmd *cobra.Command) (*app.App, *simHost, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, nil, err
	}
	log, _, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	h := newSimHost(cmd.OutOrStdout(), log)
	a, err := app.New(ctx, cfg, h.ports(), log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	return a, h, nil
}

func closeApp(ctx context.Context, a *app.App) error {
	err := a.Close(context.WithoutCancel(ctx))
	_ = a.Log.Sync()
	return err
}

// userID accepts a UUID or a user name. Names map to a stable name-derived id.
func userID(s string) uuid.UUID {
	if id, err := uuid.Parse(s); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("uniquekits:"+strings.ToLower(s)))
}
