package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/vfxforge/bidd/api"
	"github.com/vfxforge/bidd/bid"
	"github.com/vfxforge/bidd/internal/files"
	"github.com/vfxforge/bidd/setup"
	"github.com/vfxforge/bidd/sidecar"
	"go.uber.org/zap"
)

const workerScriptName = "worker.py"

func main() {
	app := &cli.App{
		Name:  "bidd",
		Usage: "the VFX bid daemon: supervises the Python worker and serves the control API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level. One of [debug,info,warn,error].",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "config-dir",
				Usage: "Directory for settings and setup state. Defaults to the user config dir.",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			setupCommand(),
			callCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newLogger(ctx *cli.Context) (*zap.SugaredLogger, error) {
	level, err := zap.ParseAtomicLevel(ctx.String("log-level"))
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = level
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger.Sugar().Named("bidd"), nil
}

func configDir(ctx *cli.Context) (string, error) {
	if dir := ctx.String("config-dir"); dir != "" {
		return dir, os.MkdirAll(dir, 0o755)
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("finding user config dir: %w", err)
	}
	dir := filepath.Join(base, "bidd")
	return dir, os.MkdirAll(dir, 0o755)
}

// locateScript resolves the worker script: the flag when given, otherwise
// the nearest worker.py above the working directory.
func locateScript(ctx *cli.Context) (string, error) {
	if script := ctx.String("script"); script != "" {
		return script, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if script := files.FindUp(workerScriptName, wd); script != "" {
		return script, nil
	}
	return "", fmt.Errorf("no %s found above %s, pass --script", workerScriptName, wd)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "start the worker and serve the control API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "script",
				Usage: "Path to the Python worker script.",
			},
			&cli.StringFlag{
				Name:  "listen-addr",
				Usage: "The address for the HTTP server to listen on.",
				Value: "127.0.0.1:7780",
			},
			&cli.DurationFlag{
				Name:  "call-timeout",
				Usage: "Per-request timeout for worker RPCs.",
				Value: 120 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "no-worker",
				Usage: "Serve the API without starting the worker.",
			},
		},
		Action: func(ctx *cli.Context) error {
			logger, err := newLogger(ctx)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			dir, err := configDir(ctx)
			if err != nil {
				return err
			}

			hub := api.NewEventHub(logger)
			registry := sidecar.NewRegistry(logger,
				sidecar.WithCallTimeout(ctx.Duration("call-timeout")),
				sidecar.WithEventHandler(hub.Publish),
			)
			defer registry.Stop() //nolint:errcheck

			if !ctx.Bool("no-worker") {
				script, err := locateScript(ctx)
				if err != nil {
					return err
				}
				if err := registry.Start(script); err != nil {
					return fmt.Errorf("starting worker: %w", err)
				}
			}

			server, err := api.NewServer(logger, registry, bid.NewStore(), hub,
				api.WithListenAddr(ctx.String("listen-addr")),
				api.WithConfigDir(dir),
			)
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				logger.Infow("shutting down", "Signal", sig)
				server.Stop() //nolint:errcheck
			}()

			logger.Infow("serving control API", "ListenAddr", ctx.String("listen-addr"))
			return server.Run()
		},
	}
}

func setupCommand() *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "run first-time setup: check the host, install Python deps, fetch the model",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "python",
				Usage: "Python interpreter to use instead of auto-detection.",
			},
			&cli.StringFlag{
				Name:  "model-url",
				Usage: "URL to download the GGUF model from.",
			},
			&cli.StringFlag{
				Name:  "model-dir",
				Usage: "Directory to store the model in. Defaults to <config-dir>/models.",
			},
			&cli.BoolFlag{
				Name:  "skip-model",
				Usage: "Skip the model download step.",
			},
			&cli.BoolFlag{
				Name:  "reset",
				Usage: "Clear the setup-complete marker and run again.",
			},
		},
		Action: func(ctx *cli.Context) error {
			logger, err := newLogger(ctx)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			dir, err := configDir(ctx)
			if err != nil {
				return err
			}

			if ctx.Bool("reset") {
				if err := setup.Reset(dir); err != nil {
					return err
				}
			}
			if !setup.IsFirstRun(dir) {
				logger.Info("setup already complete, nothing to do")
				return nil
			}

			sys, err := setup.CheckSystem(dir)
			if err != nil {
				return err
			}
			logger.Infow("system check",
				"Platform", sys.Platform,
				"Architecture", sys.Architecture,
				"CPUs", sys.CPUs,
				"DiskFreeBytes", sys.DiskFreeBytes,
			)
			if !sys.DiskSufficient {
				return fmt.Errorf("insufficient disk space: %d bytes free, %d required", sys.DiskFreeBytes, uint64(setup.RequiredDiskSpace))
			}

			status := setup.DetectPython(ctx.Context, ctx.String("python"))
			if !status.Installed {
				return fmt.Errorf("no usable Python found, install python3 or pass --python")
			}
			logger.Infow("found Python", "Path", status.ExecutablePath, "Version", status.Version)

			if len(status.MissingPackages) > 0 {
				if !status.PipAvailable {
					return fmt.Errorf("pip is not available for %s", status.ExecutablePath)
				}
				logger.Infow("installing packages", "Packages", status.MissingPackages)
				err := setup.InstallPackages(ctx.Context, status.ExecutablePath, status.MissingPackages, func(line string) {
					logger.Debugf("pip: %s", line)
				})
				if err != nil {
					return fmt.Errorf("installing packages: %w", err)
				}
			}

			if !ctx.Bool("skip-model") {
				url := ctx.String("model-url")
				if url == "" {
					return fmt.Errorf("pass --model-url or --skip-model")
				}
				modelDir := ctx.String("model-dir")
				if modelDir == "" {
					modelDir = filepath.Join(dir, "models")
				}
				if err := os.MkdirAll(modelDir, 0o755); err != nil {
					return err
				}
				dest := filepath.Join(modelDir, filepath.Base(url))
				logger.Infow("downloading model", "URL", url, "Dest", dest)
				lastPercent := -1
				err := setup.DownloadModel(ctx.Context, url, dest, func(p setup.DownloadProgress) {
					if p.Percent != lastPercent {
						lastPercent = p.Percent
						logger.Infof("download %d%% (%d/%d bytes)", p.Percent, p.Downloaded, p.Total)
					}
				})
				if err != nil {
					return fmt.Errorf("downloading model: %w", err)
				}
			}

			if err := setup.MarkComplete(dir); err != nil {
				return err
			}
			logger.Info("setup complete")
			return nil
		},
	}
}

func callCommand() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "start the worker, issue a single RPC, print the result",
		ArgsUsage: "METHOD [PARAMS-JSON]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "script",
				Usage: "Path to the Python worker script.",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the response.",
				Value: 120 * time.Second,
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() < 1 {
				return fmt.Errorf("usage: bidd call METHOD [PARAMS-JSON]")
			}
			method := ctx.Args().Get(0)

			var params any
			if raw := ctx.Args().Get(1); raw != "" {
				if err := json.Unmarshal([]byte(raw), &params); err != nil {
					return fmt.Errorf("parsing params: %w", err)
				}
			}

			logger, err := newLogger(ctx)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			script, err := locateScript(ctx)
			if err != nil {
				return err
			}

			sc, err := sidecar.Start(script,
				sidecar.WithLogger(logger.Named("sidecar")),
				sidecar.WithCallTimeout(ctx.Duration("timeout")),
			)
			if err != nil {
				return fmt.Errorf("starting worker: %w", err)
			}
			defer sc.Stop() //nolint:errcheck

			client := sc.Client()
			if client == nil {
				return sidecar.ErrNotRunning
			}
			result, err := client.Call(ctx.Context, method, params)
			if err != nil {
				return err
			}

			pretty, err := json.MarshalIndent(json.RawMessage(result), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(pretty))
			return nil
		},
	}
}
