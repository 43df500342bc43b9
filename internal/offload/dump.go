// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package offload

import (
	"fmt"
	"io"
	"sort"
)

// VTPDump is the structured result of the "offload/dump-vtp"
// administrative command, in a form suitable for either text or JSON
// rendering.
type VTPDump struct {
	Port     string       `json:"port"`
	Ingress  []VTPIngress `json:"ingress"`
	TnlPop   []VTPTnlPop  `json:"tnlpop"`
	Composed []string     `json:"composed"`
	anomaly  uint64
}

// AnomalyCount exposes the Aux's TnlPop-FAILED-with-refcount counter
// captured at dump time.
func (d VTPDump) AnomalyCount() uint64 { return d.anomaly }

type VTPIngress struct {
	Ufid       string `json:"ufid"`
	IngressDev string `json:"ingress_dev"`
}

type VTPTnlPop struct {
	Ufid     string `json:"ufid"`
	RefCount int    `json:"ref_count"`
}

// DumpVTP takes aux's read lock for the whole dump and returns its three
// sections: ingress flows, tnlpop flows, and every composed ufid
// I.ufid XOR T.ufid.
func DumpVTP(port string, aux *CompositionAux) VTPDump {
	aux.mu.RLock()
	defer aux.mu.RUnlock()

	out := VTPDump{Port: port, anomaly: aux.AnomalyCount}

	for _, i := range aux.ingress {
		out.Ingress = append(out.Ingress, VTPIngress{
			Ufid:       i.Flow.Ufid().String(),
			IngressDev: i.IngressDev.Name(),
		})
	}
	for _, t := range aux.tnlpop {
		out.TnlPop = append(out.TnlPop, VTPTnlPop{
			Ufid:     t.Flow.Ufid().String(),
			RefCount: t.RefCount,
		})
	}
	for _, i := range aux.ingress {
		for _, t := range aux.tnlpop {
			out.Composed = append(out.Composed, i.Flow.Ufid().XOR(t.Flow.Ufid()).String())
		}
	}

	sort.Strings(out.Composed)
	sort.Slice(out.Ingress, func(a, b int) bool { return out.Ingress[a].Ufid < out.Ingress[b].Ufid })
	sort.Slice(out.TnlPop, func(a, b int) bool { return out.TnlPop[a].Ufid < out.TnlPop[b].Ufid })

	return out
}

// WriteText renders a VTPDump the way a CLI administrative command
// prints to stdout: three labeled sections.
func WriteText(w io.Writer, d VTPDump) {
	fmt.Fprintf(w, "ingress flows for %s:\n", d.Port)
	for _, i := range d.Ingress {
		fmt.Fprintf(w, "  ufid=%s ingress_dev=%s\n", i.Ufid, i.IngressDev)
	}
	fmt.Fprintf(w, "tnlpop flows for %s:\n", d.Port)
	for _, t := range d.TnlPop {
		fmt.Fprintf(w, "  ufid=%s ref_count=%d\n", t.Ufid, t.RefCount)
	}
	fmt.Fprintf(w, "composed ufids for %s:\n", d.Port)
	for _, c := range d.Composed {
		fmt.Fprintf(w, "  %s\n", c)
	}
}
