package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/Zhima-Mochi/minishop-saga/internal/config"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/mysql"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to a YAML config file",
		EnvVars: []string{"SAGA_CONFIG"},
	}

	app := &cli.App{
		Name:  "minishop-saga",
		Usage: "order fulfillment saga",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API, event workers and reconciliation scheduler",
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}
					return serve(c.Context, cfg)
				},
			},
			{
				Name:  "migrate",
				Usage: "apply the MySQL schema migrations",
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}
					if cfg.Storage.Driver != config.DriverMySQL {
						return fmt.Errorf("migrate: storage.driver is %q, want %q", cfg.Storage.Driver, config.DriverMySQL)
					}
					version, err := mysql.Migrate(mysqlConfig(cfg))
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "schema at version %d\n", version)
					return nil
				},
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
