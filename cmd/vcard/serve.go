package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alovak/vcard/internal/config"
	"github.com/alovak/vcard/issuer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the issuer HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}

			logger := newLogger(os.Stderr, v.GetString("log_format"), v.GetString("log_level"))

			app := issuer.NewApp(logger, cfg)
			if err := app.Start(); err != nil {
				return fmt.Errorf("starting issuer: %w", err)
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			app.Shutdown()
			return nil
		},
	}

	cmd.Flags().String("http-addr", "", "listen address (overrides http_addr)")
	cmd.Flags().String("store", "", `card record store: "file", "mem" or "pg"`)
	cmd.Flags().String("data-dir", "", "account documents directory for the file store")
	cmd.Flags().String("db-dsn", "", "postgres DSN for the pg store")
	cmd.Flags().String("redis-addr", "", "publish events to this Redis")

	bindFlag(v, cmd, "http_addr", "http-addr")
	bindFlag(v, cmd, "store_backend", "store")
	bindFlag(v, cmd, "data_dir", "data-dir")
	bindFlag(v, cmd, "db_dsn", "db-dsn")
	bindFlag(v, cmd, "redis_addr", "redis-addr")
	return cmd
}

// bindFlag binds flag to key. viper only prefers a bound flag once it was
// changed, so the empty flag defaults never shadow the config file.
func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	v.BindPFlag(key, cmd.Flags().Lookup(flag))
}
