// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package offload

import (
	"context"
	"sync/atomic"

	"github.com/stretchr/testify/mock"
)

// testFlow is a minimal Flow implementation for exercising the worker,
// the composition engine and the queue without a real dataplane.
type testFlow struct {
	ufid       Ufid
	inputPort  uint32
	match      Match
	actions    []Action
	version    uint64
	status     StatusWord
	refs       atomic.Int32
	dead       atomic.Bool
	activityAt atomic.Int64
}

func newTestFlow(inputPort uint32, actions []Action) *testFlow {
	f := &testFlow{ufid: NewUfid(), inputPort: inputPort, actions: actions, match: Match{Fields: map[string]any{}}}
	f.refs.Store(1)
	return f
}

func (f *testFlow) Ufid() Ufid          { return f.ufid }
func (f *testFlow) InputPort() uint32   { return f.inputPort }
func (f *testFlow) Match() Match        { return f.match }
func (f *testFlow) Actions() []Action   { return f.actions }
func (f *testFlow) Version() uint64     { return f.version }
func (f *testFlow) Status() *StatusWord { return &f.status }
func (f *testFlow) Dead() bool          { return f.dead.Load() }

func (f *testFlow) Ref() bool {
	if f.dead.Load() {
		return false
	}
	f.refs.Add(1)
	return true
}

func (f *testFlow) Unref() {
	if f.refs.Add(-1) == 0 {
		f.dead.Store(true)
	}
}

func (f *testFlow) RefCount() int32 { return f.refs.Load() }

// testNetdev is a minimal Netdev for tests, with an optional Aux.
type testNetdev struct {
	name string
	kind string
	aux  *CompositionAux
}

func (d *testNetdev) Name() string         { return d.name }
func (d *testNetdev) VportKind() string    { return d.kind }
func (d *testNetdev) Aux() *CompositionAux { return d.aux }

// mockDriver is a testify mock implementing Driver.
type mockDriver struct {
	mock.Mock
}

func (m *mockDriver) FlowPut(ctx context.Context, class DriverClass, dev Netdev, match Match, actions []Action, ufid Ufid, markOnly bool) (PutResult, error) {
	args := m.Called(ctx, class, dev, match, actions, ufid, markOnly)
	res, _ := args.Get(0).(PutResult)
	return res, args.Error(1)
}

func (m *mockDriver) FlowDel(ctx context.Context, class DriverClass, dev Netdev, ufid Ufid) error {
	args := m.Called(ctx, class, dev, ufid)
	return args.Error(0)
}

func (m *mockDriver) FlowGet(ctx context.Context, class DriverClass, dev Netdev, ufid Ufid) (FlowStats, error) {
	args := m.Called(ctx, class, dev, ufid)
	stats, _ := args.Get(0).(FlowStats)
	return stats, args.Error(1)
}

// mockResolver is a testify mock implementing PortResolver.
type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) NetdevPortsGet(portID uint32, class DriverClass) (Netdev, bool) {
	args := m.Called(portID, class)
	dev, _ := args.Get(0).(Netdev)
	return dev, args.Bool(1)
}

func (m *mockResolver) NetdevVportCast(dev Netdev) bool {
	args := m.Called(dev)
	return args.Bool(0)
}
