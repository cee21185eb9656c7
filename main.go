package main

import (
	"flag"

	"github.com/golang/glog"
	"github.com/spf13/viper"

	"github.com/fledge/fledge-server/config"
	"github.com/fledge/fledge-server/router"
	"github.com/fledge/fledge-server/server"
)

func main() {
	flag.Parse() // required for glog flags and testing package flags

	v := viper.New()
	config.SetupViper(v, "fledge")
	cfg, err := config.New(v)
	if err != nil {
		glog.Fatalf("Configuration could not be loaded or did not pass validation: %v", err)
	}

	if err := serve(cfg); err != nil {
		glog.Errorf("fledge-server failed: %v", err)
	}
}

func serve(cfg *config.Configuration) error {
	r, err := router.New(cfg)
	if err != nil {
		return err
	}
	defer r.Shutdown()

	corsRouter := router.SupportCORS(r)
	handler := router.NoCache{Handler: router.LimitRequests(cfg, corsRouter)}
	return server.Listen(cfg, handler, r.MetricsEngine)
}
