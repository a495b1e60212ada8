package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ngld/sitebuild/pkg"
	"github.com/ngld/sitebuild/pkg/archive"
	"github.com/ngld/sitebuild/pkg/buildsys"
	"github.com/ngld/sitebuild/pkg/pipeline"
	"github.com/ngld/sitebuild/pkg/sblog"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the site for production",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTasks(cmd, nil, pipeline.TaskBuild)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Build the site for development, serve it and rebuild on changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTasks(cmd, nil, TaskDefault)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the output directory with live reload",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTasks(cmd, nil, TaskServer)
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete the output directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		withCache, err := cmd.Flags().GetBool("cache")
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		ctx, s, err := openSession(ctx, cmd, nil)
		if err != nil {
			return err
		}
		defer s.Close()

		err = s.Run(ctx, pipeline.TaskClean)
		if err != nil || !withCache {
			return err
		}

		// the database lives in the cache directory
		s.Close()
		cacheDir := s.Table.Abs(s.Cfg.Cache.Dir)
		if s.Opts.DryRun {
			sblog.Log(ctx).Info().Str("task", "clean").Msgf("would delete %s", cacheDir)
			return nil
		}

		err = os.RemoveAll(cacheDir)
		if err != nil {
			return eris.Wrapf(err, "failed to delete %s", cacheDir)
		}

		sblog.Log(ctx).Info().Str("task", "clean").Msgf("deleted %s", cacheDir)
		return nil
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the available tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, options := splitArgs(args)

		ctx, cancel := signalContext()
		defer cancel()

		_, s, err := openSession(ctx, cmd, options)
		if err != nil {
			return err
		}
		defer s.Close()

		printTasks(s.Tasks)
		return nil
	},
}

func printTasks(tasks buildsys.TaskList) {
	pkg.PrintTask("Available tasks:")

	names := tasks.Visible()
	sort.Strings(names)

	maxNameLen := 0
	for _, name := range names {
		if len(name) > maxNameLen {
			maxNameLen = len(name)
		}
	}

	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	for _, name := range names {
		fmt.Printf(lineFmt, name+":", tasks[name].Desc)
	}
}

var packCmd = &cobra.Command{
	Use:   "pack [output]",
	Short: "Pack the output directory into a .tar.xz archive",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		build, err := cmd.Flags().GetBool("build")
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		ctx, s, err := openSession(ctx, cmd, nil)
		if err != nil {
			return err
		}
		defer s.Close()

		if build {
			err = s.Run(ctx, pipeline.TaskBuild)
			if err != nil {
				return err
			}
		}

		dist := s.Table.Abs(s.Cfg.Dist)
		info, err := os.Stat(dist)
		if err != nil || !info.IsDir() {
			return eris.Errorf("%s doesn't exist, run the build first", dist)
		}

		output := filepath.Join(s.Root, filepath.Base(s.Root)+".tar.xz")
		if len(args) > 0 {
			output, err = filepath.Abs(args[0])
			if err != nil {
				return err
			}
		}

		pkg.PrintTask("Packing " + dist)
		err = archive.Pack(ctx, dist, output)
		if err != nil {
			pkg.PrintError(err.Error())
			return err
		}

		pkg.PrintSubtask("Wrote " + output)
		return nil
	},
}

func init() {
	buildCmd.Flags().Bool("precompress", false, "write brotli compressed copies of the text assets")
	cleanCmd.Flags().Bool("cache", false, "also delete the cache directory")
	packCmd.Flags().Bool("build", false, "build the site before packing it")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(packCmd)
}
