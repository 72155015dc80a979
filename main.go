// Starts an http server to respond to ActivityPub requests.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/tkrehbiel/activitycore/server"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

func main() {
	configFile := pflag.StringP("config", "c", "config.json", "config file, json or yaml")
	publicURL := pflag.String("url", "", "public-facing url of this server")
	host := pflag.String("host", "", "this hostname")
	pubCert := pflag.String("cert", "", "public certificate")
	privCert := pflag.String("key", "", "private key")
	port := pflag.IntP("port", "p", 0, "listen port")
	database := pflag.String("db", "", "sqlite database file")
	policy := pflag.String("follow-policy", "", "ACCEPT, REJECT or MANUAL")
	quiet := pflag.BoolP("quiet", "q", false, "skip trace logging")
	pflag.Parse()

	telemetry.SetTrace(!*quiet)
	telemetry.Log("starting activitycore")

	cfg, err := server.LoadConfig(*configFile)
	if err != nil {
		telemetry.Error(err, "reading config [%s]", *configFile)
		os.Exit(1)
	}
	if *publicURL != "" {
		cfg.URL = *publicURL
	}
	if *host != "" {
		cfg.Server.HostName = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *pubCert != "" {
		cfg.Server.Certificate = *pubCert
	}
	if *privCert != "" {
		cfg.Server.PrivateKey = *privCert
	}
	if *database != "" {
		cfg.Server.Database = *database
	}
	if *policy != "" {
		cfg.Server.FollowPolicy = *policy
	}

	svc, err := server.NewService(cfg)
	if err != nil {
		telemetry.Error(err, "creating service")
		os.Exit(1)
	}

	// Wait for ^C
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Startup the service to listen for http requests
	if err := svc.Start(ctx); err != nil {
		telemetry.Error(err, "starting service")
		os.Exit(1)
	}

	<-ctx.Done()
	telemetry.Log("stopping activitycore")

	// Shut down the service
	shutdown, cancel := context.WithTimeout(context.Background(), time.Second*60)
	defer cancel()
	svc.Stop(shutdown)
	telemetry.Log("stopped activitycore cleanly")
}
