// Command master runs the server browser that match servers announce to.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openkart/matchserver/master"
)

func main() {
	_ = godotenv.Load()

	var (
		port uint
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:          "master",
		Short:        "Runs the OpenKart master server (server browser).",
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			log := logrus.StandardLogger()
			log.SetFormatter(&logrus.TextFormatter{
				TimestampFormat: time.RFC3339,
				FullTimestamp:   true,
			})

			reg := master.NewRegistry(log, ttl)
			defer reg.Stop()

			addr := fmt.Sprintf(":%d", port)
			log.WithField("addr", addr).Info("master server up")
			return http.ListenAndServe(addr, master.Routes(reg))
		},
	}
	cmd.Flags().UintVar(&port, "port", 8090, "listen port")
	cmd.Flags().DurationVar(&ttl, "ttl", 90*time.Second, "drop servers silent for this long")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
