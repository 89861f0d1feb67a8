package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/L1nMay/vulnorch/internal/api"
	"github.com/L1nMay/vulnorch/internal/auth"
	"github.com/L1nMay/vulnorch/internal/logger"
	"github.com/L1nMay/vulnorch/internal/metrics"
	"github.com/L1nMay/vulnorch/internal/notifier"
	"github.com/L1nMay/vulnorch/internal/scan"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scan orchestrator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	cfg := a.cfg

	authn, err := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.TokenTTL())
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	history, err := openHistory(cfg)
	if err != nil {
		return err
	}
	if history != nil {
		defer history.Close()
	}

	m := metrics.New()
	engine := newEngine(cfg, m)
	runner := scan.NewRunner(cfg, engine, st)
	runner.AddObserver(m)
	if history != nil {
		runner.AddObserver(historyRecorder(history))
	}

	// the worker outlives the API so shutdown failures are still delivered
	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	if cfg.Telegram.Enabled {
		w := notifier.NewWorker(notifier.NewTelegramNotifier(cfg.Telegram), 64)
		runner.AddObserver(w)
		go func() {
			defer close(workerDone)
			w.Run(workerCtx)
		}()
	} else {
		close(workerDone)
	}

	svc := scan.NewService(cfg, runner, engine, st, st)
	if res := svc.TestConnection(parent); !res.OK {
		logger.Warnf("%s: %s", res.Message, res.Details)
	} else {
		logger.Infof("%s (%s)", res.Message, res.Details)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(cfg, svc, authn, m, history)
	serveErr := srv.ListenAndServe(ctx)

	logger.Infof("shutting down, %d scan(s) running", runner.Running())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("orchestrator shutdown: %v", err)
	}

	stopWorker()
	<-workerDone
	return serveErr
}
