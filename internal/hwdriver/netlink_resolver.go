// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package hwdriver

import (
	"fmt"
	"sync"

	"github.com/vishvananda/netlink"

	"github.com/vswitchd/flowoffload/internal/logging"
	"github.com/vswitchd/flowoffload/internal/offload"
)

// NetlinkHandle is the subset of netlink operations the resolver needs,
// narrowed so tests can substitute a fake link set instead of querying
// the kernel's link table.
type NetlinkHandle interface {
	LinkList() ([]netlink.Link, error)
	LinkByIndex(index int) (netlink.Link, error)
	LinkByName(name string) (netlink.Link, error)
}

// realNetlinkHandle delegates to the package-level netlink functions,
// which operate against the calling process's network namespace.
type realNetlinkHandle struct{}

func (realNetlinkHandle) LinkList() ([]netlink.Link, error) { return netlink.LinkList() }
func (realNetlinkHandle) LinkByIndex(index int) (netlink.Link, error) {
	return netlink.LinkByIndex(index)
}
func (realNetlinkHandle) LinkByName(name string) (netlink.Link, error) {
	return netlink.LinkByName(name)
}

// NewRealNetlinkHandle returns a NetlinkHandle backed by the running
// process's default network namespace.
func NewRealNetlinkHandle() NetlinkHandle { return realNetlinkHandle{} }

// vxlanLikeKinds are the link kinds this driver treats as tunnel
// vports: VXLAN/GENEVE-backed netdevs that decapsulate on ingress.
var vxlanLikeKinds = map[string]bool{
	"vxlan":  true,
	"geneve": true,
}

// netdev is the concrete offload.Netdev backing every port this
// resolver hands back; each carries its own composition-state slot.
type netdev struct {
	name string
	kind string // "" for a plain physical/virtual port, else link.Type()
	aux  *offload.CompositionAux
}

func (n *netdev) Name() string      { return n.name }
func (n *netdev) VportKind() string { return n.kind }
func (n *netdev) Aux() *offload.CompositionAux {
	return n.aux
}

// NetlinkPortResolver implements offload.PortResolver by mapping the
// dataplane's numeric port IDs onto netlink link indices, and
// recognizing vxlan/geneve vports via their netlink link kind.
//
// Composition state (CompositionAux) is allocated lazily, one per
// vport, the first time that vport is resolved (or eagerly by
// Preload), and kept until Refresh finds the link gone and drops its
// cache entry — approximating an "allocated at vport creation, freed
// at vport deletion" lifecycle as "allocated on first sight" since this
// resolver has no separate vport-create hook of its own.
type NetlinkPortResolver struct {
	nl  NetlinkHandle
	log *logging.Logger

	mu    sync.Mutex
	byIdx map[uint32]*netdev
}

// NewNetlinkPortResolver wraps nl (real or injected) as an
// offload.PortResolver.
func NewNetlinkPortResolver(nl NetlinkHandle, log *logging.Logger) *NetlinkPortResolver {
	if log == nil {
		log = logging.Nop()
	}
	return &NetlinkPortResolver{
		nl:    nl,
		log:   log,
		byIdx: make(map[uint32]*netdev),
	}
}

// NetdevPortsGet implements offload.PortResolver.NetdevPortsGet.
func (r *NetlinkPortResolver) NetdevPortsGet(portID uint32, class offload.DriverClass) (offload.Netdev, bool) {
	r.mu.Lock()
	if dev, ok := r.byIdx[portID]; ok {
		r.mu.Unlock()
		return dev, true
	}
	r.mu.Unlock()

	link, err := r.nl.LinkByIndex(int(portID))
	if err != nil {
		return nil, false
	}

	dev := &netdev{
		name: link.Attrs().Name,
		kind: link.Type(),
	}
	if vxlanLikeKinds[dev.kind] {
		dev.aux = offload.NewCompositionAux()
	}

	r.mu.Lock()
	r.byIdx[portID] = dev
	r.mu.Unlock()

	r.log.Debug("resolved netdev", "port", portID, "name", dev.name, "kind", dev.kind)
	return dev, true
}

// Preload resolves name via netlink and seeds the cache with a
// CompositionAux regardless of detected link kind, for configuration
// tunables (OffloadBlock.TunnelVports) that name a tunnel vport
// explicitly before any flow has touched it.
func (r *NetlinkPortResolver) Preload(name string) error {
	link, err := r.nl.LinkByName(name)
	if err != nil {
		return fmt.Errorf("netlink lookup of %s failed: %w", name, err)
	}
	dev := &netdev{
		name: link.Attrs().Name,
		kind: link.Type(),
		aux:  offload.NewCompositionAux(),
	}
	r.mu.Lock()
	r.byIdx[uint32(link.Attrs().Index)] = dev
	r.mu.Unlock()
	return nil
}

// NetdevByName looks up a cached netdev by its interface name, for
// callers (the admin dump command) that only have a human-facing port
// name rather than the dataplane's numeric port ID.
func (r *NetlinkPortResolver) NetdevByName(name string) (offload.Netdev, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dev := range r.byIdx {
		if dev.name == name {
			return dev, true
		}
	}
	return nil, false
}

// NetdevVportCast implements offload.PortResolver.NetdevVportCast: true
// when dev's netlink link kind is a tunnel-decapsulating type.
func (r *NetlinkPortResolver) NetdevVportCast(dev offload.Netdev) bool {
	nd, ok := dev.(*netdev)
	if !ok {
		return false
	}
	return vxlanLikeKinds[nd.kind]
}

// Refresh re-enumerates all links and drops cached entries for ports
// that have disappeared, without disturbing the CompositionAux of
// surviving vports. Intended to be called from whatever periodic
// housekeeping the embedding process runs; the exact vport-deletion
// trigger is outside this engine's scope.
func (r *NetlinkPortResolver) Refresh() error {
	links, err := r.nl.LinkList()
	if err != nil {
		return fmt.Errorf("netlink link enumeration failed: %w", err)
	}
	live := make(map[uint32]bool, len(links))
	for _, l := range links {
		live[uint32(l.Attrs().Index)] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for idx := range r.byIdx {
		if !live[idx] {
			delete(r.byIdx, idx)
		}
	}
	return nil
}
