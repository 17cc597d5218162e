// Command server runs the OpenKart dedicated match server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openkart/matchserver/server/announce"
	"github.com/openkart/matchserver/server/console"
	"github.com/openkart/matchserver/server/core"
	"github.com/openkart/matchserver/server/logging"
	"github.com/openkart/matchserver/server/transport"
	"github.com/openkart/matchserver/shared/settings"
)

var version = "dev" // set at build time

type serverFlags struct {
	port         uint
	tickRate     int
	name         string
	maxClients   int
	acceptToken  string
	settingsPath string
	logLevel     string
	logDir       string
	masterURL    string
	address      string
}

func main() {
	// .env is optional; flags below default from the environment
	_ = godotenv.Load()

	var f serverFlags
	cmd := &cobra.Command{
		Use:          "server",
		Short:        "Runs the OpenKart dedicated match server.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}
	cmd.Flags().UintVar(&f.port, "port", envUint("OPENKART_PORT", 7777), "listen port")
	cmd.Flags().IntVar(&f.tickRate, "tickrate", core.DefaultTickRate, "session ticks per second")
	cmd.Flags().StringVar(&f.name, "name", envStr("OPENKART_NAME", "OpenKart Server"), "server display name")
	cmd.Flags().IntVar(&f.maxClients, "max-clients", 16, "maximum connected clients (0 = unlimited)")
	cmd.Flags().StringVar(&f.acceptToken, "accept-token", core.DefaultAcceptToken, "token a hello payload must contain")
	cmd.Flags().StringVar(&f.settingsPath, "settings", envStr("OPENKART_SETTINGS", settings.DefaultPath), "match settings document path")
	cmd.Flags().StringVar(&f.logLevel, "log-level", envStr("OPENKART_LOG_LEVEL", "info"), "trace|debug|info|warn|error")
	cmd.Flags().StringVar(&f.logDir, "log-dir", envStr("OPENKART_LOG_DIR", "logs"), "session log directory (empty = stderr only)")
	cmd.Flags().StringVar(&f.masterURL, "master", envStr("OPENKART_MASTER", ""), "master server URL (empty = do not announce)")
	cmd.Flags().StringVar(&f.address, "address", "", "public address reported to the master")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, f serverFlags) error {
	sessionLog, err := logging.New(f.logLevel, f.logDir)
	if err != nil {
		return err
	}
	log := sessionLog.Logger

	doc, err := settings.Load(f.settingsPath)
	if err != nil {
		log.WithError(err).WithField("path", f.settingsPath).Warn("settings unavailable, using defaults")
	}

	tr := transport.NewWsServer(log)
	if err := tr.Listen(f.port); err != nil {
		log.WithError(err).Error("transport startup failed")
		return err
	}

	cons := console.New(log)
	go cons.Run(os.Stdin)

	sess, err := core.NewSession(
		core.WithTransport(tr),
		core.WithLogger(log),
		core.WithState(core.NewMatchState(doc)),
		core.WithCommandQueue(cons.Commands()),
		core.WithSettingsPath(f.settingsPath),
		core.WithTickRate(f.tickRate),
		core.WithMaxClients(f.maxClients),
		core.WithAcceptToken(f.acceptToken),
	)
	if err != nil {
		return err
	}

	// SIGINT/SIGTERM take the same graceful path as the stop command
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("signal received, shutting down")
		cons.Push("stop")
	}()

	var ann *announce.Announcer
	if f.masterURL != "" {
		address := f.address
		if address == "" {
			address = fmt.Sprintf("ws://localhost:%d", f.port)
		}
		ann = announce.New(log, f.masterURL, f.name, address, version, f.maxClients, func() (int, string) {
			players, phase := sess.Status()
			return players, phase.String()
		})
		ann.Start()
	}

	log.WithFields(logrus.Fields{
		"name": f.name, "port": f.port, "tickrate": f.tickRate, "version": version,
	}).Info("match server up")

	runErr := sess.Run(ctx)

	if ann != nil {
		ann.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	tr.Shutdown(shutdownCtx)
	cancel()
	if err := settings.Save(f.settingsPath, sess.State().Settings()); err != nil {
		log.WithError(err).Error("persist settings at shutdown failed")
	}
	if err := sessionLog.Close(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return runErr
}

func envStr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envUint(key string, fallback uint) uint {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint(n)
		}
	}
	return fallback
}
