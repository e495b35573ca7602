// Command syncsrv runs a synctree server: a single-threaded HTTP server
// that can fork named child workers and optionally forward requests to them
// (§1). Every invocation of this binary can become either a root process or
// a re-exec'd child, decided at startup by RecoverChildListener.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/synctree/synctree"
)

func main() {
	configFile := flag.String("config", "", "path to a config file (.json, .toml, .yaml)")
	flag.Parse()

	cfg := synctree.DefaultConfig()
	if *configFile != "" {
		if err := synctree.LoadConfigFile(cfg, *configFile); err != nil {
			log.Fatalf("syncsrv: %v", err)
		}
	}

	journal := synctree.NewConsoleJournal(cfg.AppName, cfg.LoggerFormat, cfg.LoggerEnabled)

	var metrics *synctree.Metrics
	if cfg.MetricsEnabled {
		metrics = synctree.NewMetrics(prometheus.DefaultRegisterer)
		go func() {
			if err := metrics.Serve(cfg.MetricsAddress); err != nil {
				journal.Warn(fmt.Sprintf("metrics listener stopped: %v", err))
			}
		}()
	}

	ln, spawnDetails, childName, childAPIPrefix, isChild, err := synctree.RecoverChildListener()
	if err != nil {
		log.Fatalf("syncsrv: recovering child listener: %v", err)
	}

	var srv *synctree.Server
	if isChild {
		if childAPIPrefix != "" {
			cfg.APIPrefix = childAPIPrefix
		}
		srv = synctree.NewServerFromListener(cfg, journal, metrics, ln)
		journal.Info(fmt.Sprintf("child %q reconfigured: listening on %s:%d, spawned from %q", childName, srv.Host(), srv.Port(), spawnDetails.SubprocessURL))
	} else {
		srv, err = synctree.NewServer(cfg, journal, metrics)
		if err != nil {
			log.Fatalf("syncsrv: %v", err)
		}
		journal.Info(fmt.Sprintf("root server listening on %s:%d", srv.Host(), srv.Port()))
	}

	pm := synctree.NewProcessManager(journal, metrics)
	forward := synctree.NewForwardingEndpoint(pm, journal, metrics, cfg.ForwardIOBufSize)
	if err := pm.BindForwardingEndpoint(forward); err != nil {
		log.Fatalf("syncsrv: %v", err)
	}

	forwardRoute, err := synctree.NewRegexRoute(
		"proc-fwd",
		`^`+cfg.APIPrefix+`/proc/([0-9A-Za-z\-_]+)(/.*)$`,
		map[int]string{1: "procID", 2: "remainder"},
		cfg.APIPrefix+"/proc/{procID}{remainder}",
	)
	if err != nil {
		log.Fatalf("syncsrv: %v", err)
	}

	procRoute, err := synctree.NewRegexRoute(
		"proc",
		`^`+cfg.APIPrefix+`/proc(?:/([0-9A-Za-z\-_]+))?$`,
		map[int]string{1: "procID"},
		cfg.APIPrefix+"/proc/{procID}",
	)
	if err != nil {
		log.Fatalf("syncsrv: %v", err)
	}

	var boundForwardRoute synctree.Route
	if cfg.ForwardIOBufSize > 0 {
		boundForwardRoute = forwardRoute
	}
	procResource := synctree.NewProcessResource(pm, srv, boundForwardRoute, cfg.Host)

	routes := []synctree.RouteEntry{
		{Route: procRoute, Endpoint: synctree.NewResource(procResource, synctree.YAMLCodec{})},
	}
	routes = append(routes, synctree.RouteEntry{Route: forwardRoute, Endpoint: forward})

	routesRoute := synctree.NewExactRoute("routes", cfg.APIPrefix+"/routes")
	routes = append(routes, synctree.RouteEntry{Route: routesRoute})
	routes[len(routes)-1].Endpoint = synctree.NewRoutesView(routes)

	if cfg.ConfigFile != "" {
		stop, err := synctree.WatchConfigFile(cfg, func(err error) {
			if err != nil {
				journal.Warn(fmt.Sprintf("config reload failed: %v", err))
				return
			}
			journal.Info("config reloaded")
		})
		if err != nil {
			journal.Warn(fmt.Sprintf("config watch disabled: %v", err))
		} else {
			defer stop()
		}
	}

	if err := srv.Run(routes); err != nil {
		journal.Error(fmt.Sprintf("server exited: %v", err))
		os.Exit(1)
	}
}
