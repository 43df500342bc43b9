// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package hwdriver

import (
	"github.com/safchain/ethtool"

	"github.com/vswitchd/flowoffload/internal/logging"
)

// capability feature strings as reported by ETHTOOL_GFEATURES, matched
// against the kernel's own naming.
const (
	featureHWTCOffload    = "hw-tc-offload"
	featureTCVLANOffload  = "vlan-challenged" // absence implies VLAN push/pop offload is usable
	featureTunnelSegment  = "tx-udp_tnl-segmentation"
	featureTunnelCsum     = "tx-udp_tnl-csum-segmentation"
	featureRxVXLANOffload = "rx-udp_tunnel-port-offload"
)

// EthtoolHandle is the subset of *ethtool.Ethtool the probe needs.
type EthtoolHandle interface {
	Features(ifaceName string) (map[string]bool, error)
	Close()
}

// NewRealEthtoolHandle opens a real ethtool ioctl socket.
func NewRealEthtoolHandle() (EthtoolHandle, error) {
	return ethtool.NewEthtool()
}

// Capabilities summarizes what a netdev's driver has told the kernel it
// can do in hardware, used to gate whether this engine should even
// attempt to offload flows on that port.
type Capabilities struct {
	TCOffload      bool
	TunnelSegment  bool
	TunnelOffload  bool
	VLANChallenged bool
}

// CapableOfTunnelDecap reports whether a netdev is a plausible target
// for the composed tunnel-pop fast path: it needs both classifier-level
// flow offload and tunnel segmentation/offload support.
func (c Capabilities) CapableOfTunnelDecap() bool {
	return c.TCOffload && (c.TunnelSegment || c.TunnelOffload)
}

// CapabilityProbe implements the hardware-capability gate described in
// the configuration surface's auto-detect switch: before the worker
// trusts a netdev's classifier result, it can consult this probe to
// confirm the underlying NIC driver actually advertises offload
// support, the same ethtool feature-flag pattern used elsewhere in
// this codebase for deciding whether a fast-path shortcut is viable on
// a given interface.
type CapabilityProbe struct {
	eth EthtoolHandle
	log *logging.Logger
}

// NewCapabilityProbe wraps eth (real or injected) as a capability gate.
func NewCapabilityProbe(eth EthtoolHandle, log *logging.Logger) *CapabilityProbe {
	if log == nil {
		log = logging.Nop()
	}
	return &CapabilityProbe{eth: eth, log: log}
}

// ProbeCapable reports whether ifaceName's driver advertises generic
// hardware flow-offload support, satisfying offload.CapabilityGate.
func (p *CapabilityProbe) ProbeCapable(ifaceName string) bool {
	return p.Probe(ifaceName).TCOffload
}

// Probe queries ifaceName's advertised ethtool features and reduces
// them to the Capabilities this engine cares about. A query failure
// (e.g. a non-physical or namespace-hidden interface) is treated as
// "no hardware capability", not a fatal error, so callers should fall
// back to a software classification decision rather than propagate it.
func (p *CapabilityProbe) Probe(ifaceName string) Capabilities {
	features, err := p.eth.Features(ifaceName)
	if err != nil {
		p.log.Debug("capability probe failed, assuming software-only", "iface", ifaceName, "err", err)
		return Capabilities{}
	}

	caps := Capabilities{
		TCOffload:      features[featureHWTCOffload],
		TunnelSegment:  features[featureTunnelSegment] || features[featureTunnelCsum],
		TunnelOffload:  features[featureRxVXLANOffload],
		VLANChallenged: features[featureTCVLANOffload],
	}
	p.log.Debug("probed hardware capabilities", "iface", ifaceName,
		"tc_offload", caps.TCOffload, "tunnel_segment", caps.TunnelSegment, "tunnel_offload", caps.TunnelOffload)
	return caps
}
