package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"dataninja/internal/app"
	"dataninja/internal/proxy"
	"dataninja/internal/telemetry"
	"dataninja/internal/ui"
)

// newPrompter builds the interactive prompts for play.
var newPrompter = func(accessible bool) ui.Prompter { return ui.NewHuhPrompter(accessible) }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dataninja",
		Short:         "Learn pandas against the clock",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newPlayCmd())
	root.AddCommand(newProxyCmd())
	root.AddCommand(newMissionsCmd())
	root.AddCommand(newHistoryCmd())
	return root
}

// newConfig starts from defaults and overlays DATANINJA_* variables, so
// flags registered against it default to the environment.
func newConfig() (app.Config, error) {
	cfg := app.DefaultConfig()
	err := cfg.LoadEnv()
	return cfg, err
}

func newPlayCmd() *cobra.Command {
	cfg, envErr := newConfig()
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Sign in and train through the missions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if envErr != nil {
				return envErr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			_, packFromEnv := os.LookupEnv("DATANINJA_PACK")
			cfg.RememberPack = !cmd.Flags().Changed("pack") && !packFromEnv
			if cfg.LogPath == "" {
				cfg.LogPath = filepath.Join(cfg.DataDir, "dataninja.log")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			out := cmd.OutOrStdout()
			cols, styled := cfg.UI.Width, false
			if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
				styled = true
				if w, _, err := term.GetSize(int(f.Fd())); err == nil && cols <= 0 {
					cols = w
				}
			}
			theme := ui.ThemeForVariant(cfg.UI.StyleVariant)
			if !styled {
				theme = ui.ThemeForVariant("plain")
			}
			r := ui.NewRenderer(theme, cols, styled)
			return app.Play(ctx, a, newPrompter(cfg.UI.Accessible), r, out)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for the progress store, log and charts")
	f.StringVar(&cfg.LogPath, "log", cfg.LogPath, "JSON log file (default <data-dir>/dataninja.log)")
	f.StringVar(&cfg.SandboxMode, "sandbox", cfg.SandboxMode, "interpreter mode: auto, python or mock")
	f.StringVar(&cfg.Interpreter, "python", cfg.Interpreter, "python interpreter to use")
	f.StringVar(&cfg.PacksDir, "packs-dir", cfg.PacksDir, "extra mission packs directory")
	f.StringVar(&cfg.PackID, "pack", cfg.PackID, "mission pack id")
	f.DurationVar(&cfg.RunTimeout, "run-timeout", cfg.RunTimeout, "per-run time limit")
	f.BoolVar(&cfg.Offline, "offline", cfg.Offline, "play without the score backend")
	f.StringVar(&cfg.Backend.URL, "api-url", cfg.Backend.URL, "proxy URL for sign-in and submission")
	f.StringVar(&cfg.Backend.Origin, "origin", cfg.Backend.Origin, "origin claimed to the proxy")
	f.StringVar(&cfg.Backend.AppKey, "app-key", cfg.Backend.AppKey, "shared key for non-allow-listed origins")
	f.StringVar(&cfg.UI.StyleVariant, "style", cfg.UI.StyleVariant, "color theme: ninja, paper or plain")
	f.BoolVar(&cfg.UI.Accessible, "accessible", cfg.UI.Accessible, "screen-reader friendly prompts")
	f.IntVar(&cfg.UI.Width, "width", cfg.UI.Width, "override terminal width")
	return cmd
}

func newProxyCmd() *cobra.Command {
	var envFile, listen string
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Serve the origin-gated score proxy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := proxy.LoadConfig(envFile)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.ListenAddr = listen
			}
			logger := telemetry.NewConsoleLogger(cmd.ErrOrStderr())
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return proxy.NewServer(cfg, logger).ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides LISTEN_ADDR)")
	return cmd
}
