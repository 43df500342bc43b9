// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package hwdriver

import (
	"context"
	"errors"
	"testing"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vswitchd/flowoffload/internal/ferrors"
	"github.com/vswitchd/flowoffload/internal/offload"
)

type fakeNFTablesConn struct {
	rules     []*nftables.Rule
	flushErr  error
	delRuleFn func(r *nftables.Rule) error
}

func (c *fakeNFTablesConn) AddTable(t *nftables.Table) *nftables.Table { return t }
func (c *fakeNFTablesConn) AddChain(ch *nftables.Chain) *nftables.Chain { return ch }
func (c *fakeNFTablesConn) AddRule(r *nftables.Rule) *nftables.Rule {
	c.rules = append(c.rules, r)
	return r
}
func (c *fakeNFTablesConn) DelRule(r *nftables.Rule) error {
	if c.delRuleFn != nil {
		return c.delRuleFn(r)
	}
	for i, existing := range c.rules {
		if existing == r {
			c.rules = append(c.rules[:i], c.rules[i+1:]...)
			return nil
		}
	}
	return errors.New("rule not found")
}
func (c *fakeNFTablesConn) GetRules(t *nftables.Table, ch *nftables.Chain) ([]*nftables.Rule, error) {
	return c.rules, nil
}
func (c *fakeNFTablesConn) Flush() error { return c.flushErr }

func TestFlowPutInstallsRuleAndFlowGetReadsCounter(t *testing.T) {
	conn := &fakeNFTablesConn{}
	d := NewNFTablesDriver(conn, nil)
	dev := &testNetdev{name: "eth0"}
	ufid := offload.NewUfid()

	res, err := d.FlowPut(context.Background(), "default", dev, offload.Match{}, []offload.Action{{Kind: offload.ActionOutput, Port: 2}}, ufid, false)
	require.NoError(t, err)
	assert.True(t, res.ActionsOffloaded)
	require.Len(t, conn.rules, 1)

	// Simulate the kernel having counted some traffic on the installed
	// rule's counter expression.
	for _, e := range conn.rules[0].Exprs {
		if c, ok := e.(*expr.Counter); ok {
			c.Packets = 42
			c.Bytes = 4096
		}
	}

	stats, err := d.FlowGet(context.Background(), "default", dev, ufid)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), stats.Packets)
	assert.Equal(t, uint64(4096), stats.Bytes)
}

func TestFlowPutMarkOnlyNeverOffloadsActions(t *testing.T) {
	conn := &fakeNFTablesConn{}
	d := NewNFTablesDriver(conn, nil)
	dev := &testNetdev{name: "eth0"}

	res, err := d.FlowPut(context.Background(), "default", dev, offload.Match{}, []offload.Action{{Kind: offload.ActionOutput, Port: 2}}, offload.NewUfid(), true)
	require.NoError(t, err)
	assert.False(t, res.ActionsOffloaded)
}

func TestFlowPutWrapsFlushFailureAsDriverRefusal(t *testing.T) {
	conn := &fakeNFTablesConn{flushErr: errors.New("kernel rejected rule")}
	d := NewNFTablesDriver(conn, nil)
	dev := &testNetdev{name: "eth0"}

	_, err := d.FlowPut(context.Background(), "default", dev, offload.Match{}, nil, offload.NewUfid(), false)
	assert.Error(t, err)
	assert.Equal(t, ferrors.KindDriverRefusal, ferrors.GetKind(err))
}

func TestFlowDelRemovesTrackedRule(t *testing.T) {
	conn := &fakeNFTablesConn{}
	d := NewNFTablesDriver(conn, nil)
	dev := &testNetdev{name: "eth0"}
	ufid := offload.NewUfid()

	_, err := d.FlowPut(context.Background(), "default", dev, offload.Match{}, nil, ufid, false)
	require.NoError(t, err)
	require.Len(t, conn.rules, 1)

	err = d.FlowDel(context.Background(), "default", dev, ufid)
	assert.NoError(t, err)
	assert.Len(t, conn.rules, 0)
}

func TestFlowDelUntrackedUfidIsNotAnError(t *testing.T) {
	conn := &fakeNFTablesConn{}
	d := NewNFTablesDriver(conn, nil)
	dev := &testNetdev{name: "eth0"}

	err := d.FlowDel(context.Background(), "default", dev, offload.NewUfid())
	assert.NoError(t, err)
}

func TestFlowGetUnknownDeviceReturnsNotFound(t *testing.T) {
	conn := &fakeNFTablesConn{}
	d := NewNFTablesDriver(conn, nil)
	dev := &testNetdev{name: "eth0"}

	_, err := d.FlowGet(context.Background(), "default", dev, offload.NewUfid())
	assert.Error(t, err)
}

type testNetdev struct {
	name string
}

func (d *testNetdev) Name() string                 { return d.name }
func (d *testNetdev) VportKind() string             { return "" }
func (d *testNetdev) Aux() *offload.CompositionAux { return nil }
