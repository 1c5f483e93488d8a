// Command vcard runs the virtual card issuer and talks to a running one.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alovak/vcard/internal/issuerclient"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/exp/slog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree around its own viper instance so
// tests can run commands side by side.
func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "vcard",
		Short:         "Virtual card issuer",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().String("config", "", "config file (default ./vcard.yaml)")
	cmd.PersistentFlags().String("issuer", "http://localhost:9090", "issuer base URL for client commands")
	cmd.PersistentFlags().String("log-format", "text", `log format ("text" or "json")`)
	cmd.PersistentFlags().String("log-level", "info", `log level ("debug", "info", "warn", "error")`)

	v.BindPFlag("issuer_url", cmd.PersistentFlags().Lookup("issuer"))
	v.BindPFlag("log_format", cmd.PersistentFlags().Lookup("log-format"))
	v.BindPFlag("log_level", cmd.PersistentFlags().Lookup("log-level"))

	cmd.AddCommand(
		newServeCmd(v),
		newIDCmd(),
		newAccountCmd(v),
		newCardCmd(v),
		newPoolCmd(v),
		newNetworkCmd(v),
	)
	return cmd
}

func newLogger(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func clientFrom(v *viper.Viper) *issuerclient.Client {
	v.SetEnvPrefix("VCARD")
	v.AutomaticEnv()
	return issuerclient.New(v.GetString("issuer_url"), nil)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
