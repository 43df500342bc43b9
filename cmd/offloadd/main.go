// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command offloadd wires the hardware flow-offload engine to its
// nftables/netlink/ethtool-backed collaborators and serves the
// administrative dump command over HTTP.
package main

import (
	"flag"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vswitchd/flowoffload/internal/adminapi"
	"github.com/vswitchd/flowoffload/internal/config"
	"github.com/vswitchd/flowoffload/internal/hwdriver"
	"github.com/vswitchd/flowoffload/internal/logging"
	"github.com/vswitchd/flowoffload/internal/metrics"
	"github.com/vswitchd/flowoffload/internal/offload"
)

func main() {
	configPath := flag.String("config", "", "Path to HCL config file")
	listenAddr := flag.String("listen", ":9417", "Admin API listen address")
	flag.Parse()

	log := logging.New(logging.DefaultConfig())

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Error("failed to load config", "path", *configPath, "err", err)
			return
		}
		cfg = loaded
	}

	if !cfg.Offload.Enabled {
		log.Info("offload engine disabled by configuration")
		return
	}

	conn, err := hwdriver.NewRealConn()
	if err != nil {
		log.Error("failed to open nftables connection", "err", err)
		return
	}
	drv := hwdriver.NewNFTablesDriver(conn, log)
	resolver := hwdriver.NewNetlinkPortResolver(hwdriver.NewRealNetlinkHandle(), log)

	for _, v := range cfg.Offload.TunnelVports {
		if err := resolver.Preload(v.Name); err != nil {
			log.Warn("failed to preload tunnel vport", "name", v.Name, "err", err)
		}
	}

	m := metrics.NewMetrics()
	if err := m.Register(); err != nil {
		log.Warn("failed to register metrics", "err", err)
	}

	const class offload.DriverClass = "default"
	engine := offload.NewEngine(drv, resolver, class, log).WithMetrics(m)
	queue := offload.NewQueue().WithMetrics(m)
	queue.FeatureEnabled = cfg.Offload.Enabled

	worker := offload.NewWorker(queue, engine, resolver, class, log).WithMetrics(m)
	if cfg.Offload.AutoDetectHardware {
		eth, err := hwdriver.NewRealEthtoolHandle()
		if err != nil {
			log.Warn("failed to open ethtool handle, skipping hardware auto-detect", "err", err)
		} else {
			worker.WithCapabilityGate(hwdriver.NewCapabilityProbe(eth, log))
		}
	}
	worker.Start()
	defer worker.Join()

	handlers := adminapi.NewHandlers(func(port string) (*offload.CompositionAux, bool) {
		dev, found := resolver.NetdevByName(port)
		if !found || dev.Aux() == nil {
			return nil, false
		}
		return dev.Aux(), true
	})

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	log.Info("offload admin API listening", "addr", *listenAddr)
	if err := http.ListenAndServe(*listenAddr, router); err != nil {
		log.Error("admin API server exited", "err", err)
	}
}
