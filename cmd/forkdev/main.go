// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Command forkdev runs a scripted session against the fork aware backend: it opens the
// configured forks, then switches, snapshots and reads state as the script says.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/vechain/forkbackend/fork"
	flog "github.com/vechain/forkbackend/log"
	"github.com/vechain/forkbackend/metrics"
	cli "gopkg.in/urfave/cli.v1"
)

var (
	version   string
	gitCommit string

	log = flog.WithContext("pkg", "forkdev")
)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Value: "forkdev.yaml",
		Usage: "path of the session config file",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Value: 3,
		Usage: "log verbosity (0-5), overrides the config",
	}
	jsonLogsFlag = cli.BoolFlag{
		Name:  "json-logs",
		Usage: "output logs in JSON format",
	}
	metricsAddrFlag = cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "metrics service listening address, overrides the config",
	}
)

func fullVersion() string {
	if gitCommit == "" {
		return version + "-dev"
	}
	return fmt.Sprintf("%s-%s", version, gitCommit)
}

func main() {
	app := cli.App{
		Version: fullVersion(),
		Name:    "forkdev",
		Usage:   "scripted sessions against a fork aware state backend",
		Flags: []cli.Flag{
			configFlag,
			verbosityFlag,
			jsonLogsFlag,
			metricsAddrFlag,
		},
		Action: defaultAction,
		Commands: []cli.Command{
			{
				Name:   "check",
				Usage:  "validate the session config and exit",
				Flags:  []cli.Flag{configFlag},
				Action: checkAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Fatal:", err)
		os.Exit(1)
	}
}

func initLogger(ctx *cli.Context, cfg *config) {
	verbosity := ctx.Int(verbosityFlag.Name)
	if !ctx.IsSet(verbosityFlag.Name) && cfg.Verbosity != nil {
		verbosity = *cfg.Verbosity
	}
	flog.Init(flog.ParseLevel(verbosity), ctx.Bool(jsonLogsFlag.Name) || cfg.JSONLogs)
}

func checkAction(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx.String(configFlag.Name))
	if err != nil {
		return err
	}
	fmt.Printf("config ok: %d forks, %d steps\n", len(cfg.Forks), len(cfg.Script))
	return nil
}

func defaultAction(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx.String(configFlag.Name))
	if err != nil {
		return err
	}
	initLogger(ctx, cfg)
	defer func() { log.Info("exited") }()

	addr := cfg.MetricsAddr
	if ctx.IsSet(metricsAddrFlag.Name) {
		addr = ctx.String(metricsAddrFlag.Name)
	}
	if addr != "" {
		metrics.InitializePrometheusMetrics()
		stop, err := startMetricsServer(addr)
		if err != nil {
			return err
		}
		defer stop()
	}

	exitCtx := handleExitSignal()
	forks := fork.NewMultiFork(fork.DialOpener(cfg.upstreamOptions()), nil)
	s, err := newSession(exitCtx, cfg, forks, os.Stdout)
	if err != nil {
		return err
	}
	defer func() { log.Info("closing forks..."); s.Close() }()

	start := time.Now()
	if err := s.run(exitCtx, cfg.Script); err != nil {
		return err
	}
	log.Info("session done", "steps", len(cfg.Script), "elapsed", time.Since(start))
	return nil
}

func startMetricsServer(addr string) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen metrics addr %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: time.Second}
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", "err", err)
		}
	}()
	log.Info("metrics server started", "url", "http://"+listener.Addr().String()+"/metrics")
	return func() {
		log.Info("stopping metrics server...")
		srv.Shutdown(context.Background())
	}, nil
}

func handleExitSignal() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		exitSignalCh := make(chan os.Signal, 1)
		signal.Notify(exitSignalCh, os.Interrupt, syscall.SIGTERM)
		if sig := <-exitSignalCh; sig != nil {
			log.Info("exit signal received", "signal", sig)
			cancel()
		}
	}()
	return ctx
}
