package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/treesync/internal/client/config"
	"github.com/openmined/treesync/internal/utils"
	"github.com/openmined/treesync/internal/version"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	red    = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:           "treesync",
	Short:         "Two-way sync between a local store and a WebDAV tree",
	Version:       version.Detailed(),
	SilenceErrors: true,
}

func init() {
	addGlobalFlags(rootCmd)
}

func addGlobalFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.SortFlags = false
	flags.StringP("config", "c", config.DefaultConfigPath, "treesync config file")
	flags.StringP("datadir", "d", config.DefaultDataDir, "treesync data directory")
	flags.StringP("remote", "r", "", "WebDAV root url")
	flags.StringP("username", "u", "", "WebDAV username")
	flags.Bool("debug", false, "log debug messages to stdout")
}

func main() {
	// a .env in the working directory is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	if err := utils.EnsureParent(config.DefaultLogFilePath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	logFile := &lumberjack.Logger{
		Filename:   config.DefaultLogFilePath,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
	}
	logInterceptor := utils.NewLogInterceptor(logFile)
	defer logInterceptor.Close()

	stdoutLevel := new(slog.LevelVar)
	stdoutLevel.Set(slog.LevelInfo)
	slog.SetDefault(newLogger(stdoutLevel, logInterceptor))

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			stdoutLevel.Set(slog.LevelDebug)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("Error:"), err)
		logInterceptor.Close()
		os.Exit(1)
	}
}

// newLogger writes to stdout at stdoutLevel and everything down to debug to
// file.
func newLogger(stdoutLevel slog.Leveler, file *utils.LogInterceptor) *slog.Logger {
	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      stdoutLevel,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// the interceptor stamps each line
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})
	return slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler))
}
