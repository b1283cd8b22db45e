package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ibtrading/config"
	"ibtrading/gateway"
	"ibtrading/internal/metrics"
	"ibtrading/logger"
	"ibtrading/session"
)

type app struct {
	configPath string
	cfg        *config.Config
	log        *logger.Log
	recorder   *metrics.Recorder
	detach     func()
	ctx        context.Context
	cancel     context.CancelFunc
}

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	a := &app{log: log}
	root := a.rootCommand()
	err := root.Execute()
	if a.detach != nil {
		a.detach()
	}
	if a.cancel != nil {
		a.cancel()
	}
	cobra.CheckErr(err)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ibtrading",
		Short:         "Blocking request/response client for the brokerage gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath, "Path to configuration file")

	root.AddCommand(
		a.nextIDCommand(),
		a.contractCommand(),
		a.historyCommand(),
		a.positionsCommand(),
		a.summaryCommand(),
		a.pnlCommand(),
		a.ordersCommand(),
		a.scanCommand(),
		a.orderCommand(),
		a.cancelCommand(),
		a.endSessionCommand(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	a.cfg = cfg

	if err := a.log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	a.log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting ibtrading")

	a.ctx, a.cancel = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	metrics.Configure(cfg.Metrics)
	if cfg.Metrics.Enabled && cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(a.ctx, cfg.Metrics.CloudWatch)
	}
	a.recorder = metrics.NewRecorder(a.log)
	if cfg.Metrics.Enabled && cfg.Metrics.ReportInterval > 0 {
		a.detach = a.recorder.Attach()
		go a.recorder.Report(a.ctx, cfg.Metrics.ReportInterval)
	}
	if cfg.Logging.ReportInterval > 0 {
		logger.StartReport(a.ctx, a.log, cfg.Logging.ReportInterval)
	}
	return nil
}

// withSession connects a session over the WebSocket bridge, runs fn and
// disconnects.
func (a *app) withSession(fn func(ctx context.Context, s *session.Session) error) error {
	bridge := gateway.NewBridge(a.cfg.Gateway, a.log)
	s, err := session.New(a.cfg, bridge, session.WithLogger(a.log), session.WithRecorder(a.recorder))
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			a.log.WithComponent("main").WithError(err).Warn("session close")
		}
	}()

	if err := s.Connect(a.ctx); err != nil {
		return err
	}
	return fn(a.ctx, s)
}
