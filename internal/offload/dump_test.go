// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package offload

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDumpVTPReportsSortedSectionsAndComposedCrossProduct(t *testing.T) {
	aux := NewCompositionAux()
	eth0 := &testNetdev{name: "eth0"}
	eth1 := &testNetdev{name: "eth1"}

	i1 := &IngressFlow{Flow: newTestFlow(1, nil), IngressDev: eth0}
	i2 := &IngressFlow{Flow: newTestFlow(2, nil), IngressDev: eth1}
	t1 := &TnlPopFlow{Flow: newTestFlow(3, nil), RefCount: 2}
	t2 := &TnlPopFlow{Flow: newTestFlow(4, nil), RefCount: 0}

	aux.mu.Lock()
	aux.insertIngressLocked(i1)
	aux.insertIngressLocked(i2)
	aux.insertTnlPopLocked(t1)
	aux.insertTnlPopLocked(t2)
	aux.AnomalyCount = 3
	aux.mu.Unlock()

	dump := DumpVTP("vxlan0", aux)

	assert.Equal(t, "vxlan0", dump.Port)
	assert.Len(t, dump.Ingress, 2)
	assert.Len(t, dump.TnlPop, 2)
	assert.Len(t, dump.Composed, 4) // 2 ingress x 2 tnlpop cross product
	assert.Equal(t, uint64(3), dump.AnomalyCount())

	assert.True(t, sort.StringsAreSorted(dump.Composed))
	for i := 1; i < len(dump.Ingress); i++ {
		assert.LessOrEqual(t, dump.Ingress[i-1].Ufid, dump.Ingress[i].Ufid)
	}
	for i := 1; i < len(dump.TnlPop); i++ {
		assert.LessOrEqual(t, dump.TnlPop[i-1].Ufid, dump.TnlPop[i].Ufid)
	}

	wantComposed := map[string]bool{
		i1.Flow.Ufid().XOR(t1.Flow.Ufid()).String(): true,
		i1.Flow.Ufid().XOR(t2.Flow.Ufid()).String(): true,
		i2.Flow.Ufid().XOR(t1.Flow.Ufid()).String(): true,
		i2.Flow.Ufid().XOR(t2.Flow.Ufid()).String(): true,
	}
	for _, c := range dump.Composed {
		assert.True(t, wantComposed[c], "unexpected composed ufid %s", c)
	}
}

func TestDumpVTPEmptyAuxHasNoSections(t *testing.T) {
	aux := NewCompositionAux()
	dump := DumpVTP("vxlan1", aux)

	assert.Empty(t, dump.Ingress)
	assert.Empty(t, dump.TnlPop)
	assert.Empty(t, dump.Composed)
	assert.Equal(t, uint64(0), dump.AnomalyCount())
}

func TestWriteTextRendersThreeLabeledSections(t *testing.T) {
	aux := NewCompositionAux()
	eth0 := &testNetdev{name: "eth0"}
	i := &IngressFlow{Flow: newTestFlow(1, nil), IngressDev: eth0}
	tp := &TnlPopFlow{Flow: newTestFlow(2, nil), RefCount: 1}
	aux.mu.Lock()
	aux.insertIngressLocked(i)
	aux.insertTnlPopLocked(tp)
	aux.mu.Unlock()

	dump := DumpVTP("vxlan0", aux)

	var buf bytes.Buffer
	WriteText(&buf, dump)
	out := buf.String()

	assert.Contains(t, out, "ingress flows for vxlan0:")
	assert.Contains(t, out, "tnlpop flows for vxlan0:")
	assert.Contains(t, out, "composed ufids for vxlan0:")
	assert.Contains(t, out, "ingress_dev=eth0")
	assert.Contains(t, out, "ref_count=1")
}
