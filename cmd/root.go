// Package cmd implements the sitebuild CLI
package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ngld/sitebuild/pkg/sblog"
)

var rootCmd = &cobra.Command{
	Use:   "sitebuild [task...] [option=value...]",
	Short: "Static site asset builder",
	Long: `sitebuild renders the pages, compiles the stylesheets and scripts, optimizes images and serves a live
reloading preview of the result.

Without arguments it runs the default task: a development build followed by the preview server and the
file watcher. Arguments that contain a "=" set options declared in tasks.star.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, options := splitArgs(args)
		if len(tasks) == 0 {
			tasks = []string{TaskDefault}
		}

		return runTasks(cmd, options, tasks...)
	},
}

// splitArgs separates task names from option assignments
func splitArgs(args []string) ([]string, map[string]string) {
	tasks := make([]string, 0, len(args))
	options := make(map[string]string)

	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > -1 {
			options[part[:pos]] = part[pos+1:]
		} else {
			tasks = append(tasks, part)
		}
	}

	return tasks, options
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runTasks opens a session and runs the given tasks. Cancellation through a signal isn't an error.
func runTasks(cmd *cobra.Command, options map[string]string, tasks ...string) error {
	ctx, cancel := signalContext()
	defer cancel()

	ctx, s, err := openSession(ctx, cmd, options)
	if err != nil {
		return err
	}
	defer s.Close()

	err = s.Run(ctx, tasks...)
	if err != nil && eris.Is(err, context.Canceled) && ctx.Err() != nil {
		sblog.Log(ctx).Info().Msg("stopped")
		return nil
	}

	return err
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("root", "", "project root (defaults to the closest directory containing sitebuild.toml or tasks.star)")
	flags.String("config", "", "config file (defaults to <root>/sitebuild.toml)")
	flags.BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	flags.BoolP("force", "f", false, "force build; always execute the passed steps even if they don't have to run")
	flags.Bool("log-json", false, "print log events as JSON")
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		logger := zerolog.New(NewConsoleWriter(""))
		logger.Error().Err(err).Msg("sitebuild failed")
		os.Exit(1)
	}
}
