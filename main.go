package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloudlink/internal/config"
	"cloudlink/internal/dashboard"
	"cloudlink/internal/logging"
	"cloudlink/internal/runstatus"
	"cloudlink/internal/runtime"

	flags "github.com/jessevdk/go-flags"
)

var BuildVersion = "dev"

const shutdownTimeout = 5 * time.Second

func main() {
	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	opts, err := config.ParseOptions(os.Args[1:])
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if saved, loadErr := config.LoadSettings(); loadErr == nil {
		opts = config.MergeOptionsWithSettings(opts, saved)
	}
	if err := config.ValidateRequired(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	code := run(rootCtx, opts)
	stopSignals()
	os.Exit(code)
}

func run(ctx context.Context, opts config.Options) int {
	logger := logging.New(opts.Debug)
	defer func() {
		_ = logger.Close()
	}()
	if opts.LogToFile {
		if err := logger.EnableFilePersistence("", 0); err != nil {
			logger.Warn("file logging unavailable", logging.Field("error", err))
		}
	}
	logger.Info("cloudlink starting", logging.Field("version", BuildVersion))

	if err := config.SaveSettings(config.SettingsFromOptions(opts)); err != nil {
		logger.Debug("settings not saved", logging.Field("error", err))
	}

	var payload any = map[string]any{}
	if opts.Command != "" && opts.Payload != "" {
		if err := json.Unmarshal([]byte(opts.Payload), &payload); err != nil {
			logger.Error("invalid --payload JSON", logging.Field("error", err))
			return 2
		}
	}

	controller := runtime.NewController(ctx)
	exited := make(chan error, 1)
	commandResult := make(chan bool, 1)
	var commandOnce sync.Once

	err := controller.Start(opts, logger, runtime.StartHooks{
		OnStatus: func(status string) {
			logger.Info("status changed", logging.Field("status", status))
			if opts.Command == "" || runstatus.Key(status) != runstatus.KeyConnected {
				return
			}
			commandOnce.Do(func() {
				go func() {
					ok, execErr := controller.Execute(ctx, opts.Command, payload)
					if execErr != nil {
						logger.Error("command failed", logging.Field("command", opts.Command), logging.Field("error", execErr))
					} else {
						logger.Info("command finished", logging.Field("command", opts.Command), logging.Field("applied", ok))
					}
					commandResult <- execErr == nil && ok
					controller.Stop()
				}()
			})
		},
		OnUpdate: func(update dashboard.Dashboard) {
			logger.Info("dashboard update",
				logging.Field("widgets", update.Widgets.Kinds()),
				logging.Field("commands", len(update.Commands)),
			)
		},
		OnExit: func(runErr error) {
			exited <- runErr
		},
	})
	if err != nil {
		logger.Error("failed to start", logging.Field("error", err))
		return 1
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		if !controller.StopAndWait(shutdownTimeout) {
			logger.Warn("shutdown timed out")
			return 1
		}
		runErr = <-exited
	case runErr = <-exited:
	}

	select {
	case ok := <-commandResult:
		if !ok {
			return 1
		}
	default:
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	return 0
}
