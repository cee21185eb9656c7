package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/golang/glog"

	"github.com/fledge/fledge-server/config"
	metricsconfig "github.com/fledge/fledge-server/metrics/config"
)

var (
	mainServer  *http.Server
	adminServer *http.Server
)

// Listen blocks forever, serving the auction API on the main port and
// operational handlers on the admin port. The servers shut down gracefully
// on SIGTERM or SIGINT.
func Listen(cfg *config.Configuration, handler http.Handler, metrics *metricsconfig.DetailedMetricsEngine) (err error) {
	stopSignals := make(chan os.Signal, 1)
	signal.Notify(stopSignals, syscall.SIGTERM, syscall.SIGINT)

	stopAdmin := make(chan os.Signal)
	stopMain := make(chan os.Signal)
	done := make(chan struct{})

	adminServer = newAdminServer(cfg, metrics)
	go shutdownAfterSignals(adminServer, stopAdmin, done)

	mainServer = newMainServer(cfg, handler)
	go shutdownAfterSignals(mainServer, stopMain, done)

	mainListener, err := newListener(mainServer.Addr)
	if err != nil {
		glog.Errorf("Error listening for TCP connections on %s: %v", mainServer.Addr, err)
		return
	}
	adminListener, err := newListener(adminServer.Addr)
	if err != nil {
		glog.Errorf("Error listening for TCP connections on %s: %v", adminServer.Addr, err)
		return
	}
	go runServer(mainServer, "Main", mainListener)
	go runServer(adminServer, "Admin", adminListener)

	wait(stopSignals, done, stopMain, stopAdmin)
	return
}

func newAdminServer(cfg *config.Configuration, metrics *metricsconfig.DetailedMetricsEngine) *http.Server {
	mux := http.NewServeMux()
	if metrics != nil && metrics.PrometheusMetrics != nil {
		mux.Handle("/metrics", promHandler(metrics.PrometheusMetrics.Registry))
	}
	return &http.Server{
		Addr:    cfg.Host + ":" + fmt.Sprintf("%d", cfg.AdminPort),
		Handler: mux,
	}
}

func newMainServer(cfg *config.Configuration, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Host + ":" + fmt.Sprintf("%d", cfg.Port),
		Handler:      gziphandler.GzipHandler(handler),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

func runServer(server *http.Server, name string, listener net.Listener) {
	glog.Infof("%s server starting on: %s", name, server.Addr)
	err := server.Serve(listener)
	glog.Errorf("%s server quit with error: %v", name, err)
}

func newListener(address string) (net.Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("error listening for TCP connections on %s: %v", address, err)
	}
	return ln, nil
}

func shutdownAfterSignals(server *http.Server, stopper <-chan os.Signal, done chan<- struct{}) {
	sig := <-stopper

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	glog.Infof("Stopping %s because of signal: %s", server.Addr, sig.String())
	if err := server.Shutdown(ctx); err != nil {
		glog.Errorf("Failed to shutdown %s: %v", server.Addr, err)
	}
	done <- struct{}{}
}

func wait(inbound <-chan os.Signal, done <-chan struct{}, outbound ...chan<- os.Signal) {
	sig := <-inbound

	for _, ch := range outbound {
		go sendSignal(ch, sig)
	}
	for i := 0; i < len(outbound); i++ {
		<-done
	}
}

func sendSignal(to chan<- os.Signal, sig os.Signal) {
	to <- sig
}
