package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Tyrowin/sofarelay/internal/logging"
	"github.com/Tyrowin/sofarelay/internal/metrics"
	"github.com/Tyrowin/sofarelay/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sofarelay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("sofarelay", pflag.ContinueOnError)
	envFile := flags.String("env-file", ".env", "optional file of KEY=VALUE settings")
	port := flags.String("port", "", "listen address, overrides SERVER_PORT")
	staticDir := flags.String("static-dir", "", "directory holding index.html and icons/, overrides STATIC_DIR")
	roleMode := flags.String("role-mode", "", "referer or token, overrides ROLE_MODE")
	idPolicy := flags.String("id-policy", "", "count or monotonic, overrides ID_POLICY")
	logLevel := flags.String("log-level", "", "overrides LOG_LEVEL")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if err := server.LoadEnvFile(*envFile); err != nil {
		return err
	}
	cfg := server.NewConfigFromEnv()
	applyFlag(&cfg.Port, *port)
	applyFlag(&cfg.StaticDir, *staticDir)
	applyFlag(&cfg.RoleMode, *roleMode)
	applyFlag(&cfg.IDPolicy, *idPolicy)
	applyFlag(&cfg.LogLevel, *logLevel)

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	relay, err := server.New(cfg, logger, metrics.NewRegistry())
	if err != nil {
		return err
	}
	relay.StartHub()

	httpServer := server.CreateServer(cfg.Port, relay.SetupRoutes())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, logger)
	}()

	logger.Info("Admin: open the map page from localhost", zap.String("url", "http://localhost"+listenPort(cfg.Port)))
	logger.Info("Delivery: expose the port through a tunnel", zap.String("hint", "npx ngrok http "+strings.TrimPrefix(listenPort(cfg.Port), ":")))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case sig := <-stop:
		logger.Info("Received signal", zap.Stringer("signal", sig))
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := relay.Hub().Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Warn("Hub shutdown incomplete", zap.Error(err))
	}
	return nil
}

func applyFlag(target *string, value string) {
	if value != "" {
		*target = value
	}
}

// listenPort returns the ":port" suffix of a listen address.
func listenPort(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[i:]
	}
	return ":" + addr
}
