// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package hwdriver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vishvananda/netlink"
)

type fakeLink struct {
	attrs netlink.LinkAttrs
	kind  string
}

func (f *fakeLink) Attrs() *netlink.LinkAttrs { return &f.attrs }
func (f *fakeLink) Type() string              { return f.kind }

type fakeNetlinkHandle struct {
	byIndex map[int]netlink.Link
	byName  map[string]netlink.Link
	list    []netlink.Link
}

func (h *fakeNetlinkHandle) LinkList() ([]netlink.Link, error) { return h.list, nil }
func (h *fakeNetlinkHandle) LinkByIndex(index int) (netlink.Link, error) {
	l, ok := h.byIndex[index]
	if !ok {
		return nil, errors.New("no such link")
	}
	return l, nil
}
func (h *fakeNetlinkHandle) LinkByName(name string) (netlink.Link, error) {
	l, ok := h.byName[name]
	if !ok {
		return nil, errors.New("no such link")
	}
	return l, nil
}

func TestNetdevPortsGetAllocatesAuxForVxlanKind(t *testing.T) {
	link := &fakeLink{attrs: netlink.LinkAttrs{Name: "vxlan0", Index: 3}, kind: "vxlan"}
	nl := &fakeNetlinkHandle{byIndex: map[int]netlink.Link{3: link}}
	r := NewNetlinkPortResolver(nl, nil)

	dev, found := r.NetdevPortsGet(3, "")
	assert.True(t, found)
	assert.Equal(t, "vxlan0", dev.Name())
	assert.Equal(t, "vxlan", dev.VportKind())
	assert.NotNil(t, dev.Aux())
}

func TestNetdevPortsGetLeavesAuxNilForPlainPort(t *testing.T) {
	link := &fakeLink{attrs: netlink.LinkAttrs{Name: "eth0", Index: 1}, kind: "device"}
	nl := &fakeNetlinkHandle{byIndex: map[int]netlink.Link{1: link}}
	r := NewNetlinkPortResolver(nl, nil)

	dev, found := r.NetdevPortsGet(1, "")
	assert.True(t, found)
	assert.Nil(t, dev.Aux())
}

func TestNetdevPortsGetCachesAcrossCalls(t *testing.T) {
	link := &fakeLink{attrs: netlink.LinkAttrs{Name: "eth0", Index: 1}, kind: "device"}
	nl := &fakeNetlinkHandle{byIndex: map[int]netlink.Link{1: link}}
	r := NewNetlinkPortResolver(nl, nil)

	dev1, _ := r.NetdevPortsGet(1, "")
	dev2, _ := r.NetdevPortsGet(1, "")
	assert.Same(t, dev1, dev2)
}

func TestNetdevPortsGetUnknownPortNotFound(t *testing.T) {
	r := NewNetlinkPortResolver(&fakeNetlinkHandle{byIndex: map[int]netlink.Link{}}, nil)
	_, found := r.NetdevPortsGet(99, "")
	assert.False(t, found)
}

func TestPreloadForceAllocatesAuxRegardlessOfKind(t *testing.T) {
	link := &fakeLink{attrs: netlink.LinkAttrs{Name: "eth0", Index: 1}, kind: "device"}
	nl := &fakeNetlinkHandle{byName: map[string]netlink.Link{"eth0": link}}
	r := NewNetlinkPortResolver(nl, nil)

	err := r.Preload("eth0")
	assert.NoError(t, err)

	dev, found := r.NetdevPortsGet(1, "")
	assert.True(t, found)
	assert.NotNil(t, dev.Aux())
}

func TestPreloadPropagatesLookupError(t *testing.T) {
	r := NewNetlinkPortResolver(&fakeNetlinkHandle{byName: map[string]netlink.Link{}}, nil)
	err := r.Preload("ghost0")
	assert.Error(t, err)
}

func TestNetdevByNameFindsCachedDevice(t *testing.T) {
	link := &fakeLink{attrs: netlink.LinkAttrs{Name: "vxlan0", Index: 3}, kind: "vxlan"}
	nl := &fakeNetlinkHandle{byIndex: map[int]netlink.Link{3: link}}
	r := NewNetlinkPortResolver(nl, nil)
	r.NetdevPortsGet(3, "")

	dev, found := r.NetdevByName("vxlan0")
	assert.True(t, found)
	assert.Equal(t, "vxlan0", dev.Name())

	_, found = r.NetdevByName("nope")
	assert.False(t, found)
}

func TestNetdevVportCastOnlyTrueForVxlanLikeKinds(t *testing.T) {
	vxlanLink := &fakeLink{attrs: netlink.LinkAttrs{Name: "vxlan0", Index: 3}, kind: "vxlan"}
	ethLink := &fakeLink{attrs: netlink.LinkAttrs{Name: "eth0", Index: 1}, kind: "device"}
	nl := &fakeNetlinkHandle{byIndex: map[int]netlink.Link{3: vxlanLink, 1: ethLink}}
	r := NewNetlinkPortResolver(nl, nil)

	vxlanDev, _ := r.NetdevPortsGet(3, "")
	ethDev, _ := r.NetdevPortsGet(1, "")

	assert.True(t, r.NetdevVportCast(vxlanDev))
	assert.False(t, r.NetdevVportCast(ethDev))
}

func TestRefreshEvictsVanishedLinksButKeepsSurvivorsAux(t *testing.T) {
	link := &fakeLink{attrs: netlink.LinkAttrs{Name: "vxlan0", Index: 3}, kind: "vxlan"}
	nl := &fakeNetlinkHandle{byIndex: map[int]netlink.Link{3: link}, list: []netlink.Link{link}}
	r := NewNetlinkPortResolver(nl, nil)

	dev, _ := r.NetdevPortsGet(3, "")
	aux := dev.Aux()

	gone := &fakeLink{attrs: netlink.LinkAttrs{Name: "eth5", Index: 5}, kind: "device"}
	nl.byIndex[5] = gone
	r.NetdevPortsGet(5, "")

	nl.list = []netlink.Link{link} // eth5 no longer enumerated
	err := r.Refresh()
	assert.NoError(t, err)

	_, found := r.NetdevByName("eth5")
	assert.False(t, found)

	survivor, found := r.NetdevByName("vxlan0")
	assert.True(t, found)
	assert.Same(t, aux, survivor.Aux())
}
