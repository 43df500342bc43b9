// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the offload engine's HCL configuration file.
package config

import (
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/vswitchd/flowoffload/internal/ferrors"
)

// Config is the top-level offload engine configuration, decoded from an
// HCL document such as:
//
//	offload {
//	  enabled              = true
//	  queue_capacity       = 4096
//	  auto_detect_hardware = true
//	  stats_interval       = "5s"
//
//	  tunnel_vport "vxlan0" {
//	    driver_class = "default"
//	  }
//	}
type Config struct {
	Offload OffloadBlock `hcl:"offload,block"`
}

// OffloadBlock is the body of the single top-level "offload" block.
type OffloadBlock struct {
	// Enabled is the master feature switch; when false, Queue.Put/Del
	// become no-ops (Queue.FeatureEnabled).
	Enabled bool `hcl:"enabled,optional"`
	// QueueCapacity bounds how many in-flight items the worker queue's
	// producer-visible depth metric is expected to report under normal
	// load; the queue itself is unbounded (a list), this is advisory
	// for alerting rather than an enforced cap.
	QueueCapacity int `hcl:"queue_capacity,optional"`
	// AutoDetectHardware gates whether the worker consults a
	// hwdriver.CapabilityProbe before trusting the classifier's
	// offloadability verdict on a given netdev.
	AutoDetectHardware bool `hcl:"auto_detect_hardware,optional"`
	// StatsIntervalRaw is the HCL string form; StatsInterval() parses it.
	StatsIntervalRaw string `hcl:"stats_interval,optional"`

	// TunnelVports lists the tunnel vports to pre-allocate a
	// CompositionAux for at startup, rather than lazily on first sight.
	TunnelVports []TunnelVport `hcl:"tunnel_vport,block"`
}

// TunnelVport names a vxlan/geneve netdev this engine should treat as a
// composition target from startup.
type TunnelVport struct {
	Name        string `hcl:"name,label"`
	DriverClass string `hcl:"driver_class,optional"`
}

// StatsInterval parses StatsIntervalRaw, defaulting to 5s on empty or
// unparsable input.
func (b OffloadBlock) StatsInterval() time.Duration {
	if b.StatsIntervalRaw == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(b.StatsIntervalRaw)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// Default returns the configuration used when no file is present:
// offload enabled, a generous advisory queue capacity, hardware
// auto-detection on, no pre-allocated tunnel vports.
func Default() *Config {
	return &Config{
		Offload: OffloadBlock{
			Enabled:            true,
			QueueCapacity:      4096,
			AutoDetectHardware: true,
			StatsIntervalRaw:   "5s",
		},
	}
}

// Load reads and decodes the HCL file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.Wrap(err, ferrors.KindInternal, "failed to read config file")
	}
	return LoadBytes(path, data)
}

// LoadBytes decodes an HCL document already in memory, with filename
// used only for diagnostic messages.
func LoadBytes(filename string, data []byte) (*Config, error) {
	var cfg Config
	if err := hclsimple.Decode(filename, data, nil, &cfg); err != nil {
		return nil, ferrors.Wrap(err, ferrors.KindValidation, "failed to decode offload config")
	}
	return &cfg, nil
}
