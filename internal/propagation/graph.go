// Package propagation groups the copies of a bundle into dissemination waves.
//
// Copies are ordered by insert time and partitioned greedily: a copy joins
// the current wave while it arrives strictly before windowStart+window,
// otherwise it opens a new wave and becomes the new windowStart. The first
// window starts at the origin's insert time.
package propagation

import (
	"time"

	"github.com/roach88/meshtrace/internal/bundle"
)

// DefaultWindow is the sync window used when none is given.
const DefaultWindow = 30 * time.Second

// Node is a tablet holding a copy of the bundle.
type Node struct {
	TabletID   string `json:"tablet_id"`
	InsertTime int64  `json:"insert_time"` // epoch ms
	// Cluster is the index of the node's wave, or -1 for the origin.
	Cluster int `json:"cluster"`
}

// Cluster is one dissemination wave.
type Cluster struct {
	Index   int    `json:"index"`
	Start   int64  `json:"start"` // epoch ms of the window start
	Members []Node `json:"members"`
}

// Edge is a directed hand-off between tablets. ToCluster is the wave that
// contains To.
type Edge struct {
	From      string `json:"from"`
	To        string `json:"to"`
	ToCluster int    `json:"to_cluster"`
}

// Graph is the clustered propagation structure of one bundle.
type Graph struct {
	FileID   string        `json:"file_id"`
	Window   time.Duration `json:"window"`
	Origin   Node          `json:"origin"`
	Clusters []Cluster     `json:"clusters"`
	Edges    []Edge        `json:"edges"`
}

// Nodes returns the origin followed by every cluster member in wave order.
func (g *Graph) Nodes() []Node {
	nodes := []Node{g.Origin}
	for _, c := range g.Clusters {
		nodes = append(nodes, c.Members...)
	}
	return nodes
}

// Partition splits copies, already ordered by insert time, into waves
// starting at originMs. Copies without an insert time are ignored. Clusters
// are never empty: when the first copy falls outside the origin's window it
// opens cluster 0.
func Partition(originMs int64, copies []bundle.Observation, window time.Duration) []Cluster {
	if window <= 0 {
		window = DefaultWindow
	}
	span := bundle.Millis(window)

	var clusters []Cluster
	windowStart := originMs
	for _, c := range copies {
		if !c.HasInsertTime() {
			continue
		}
		t := c.FileInsertTime.Int64

		newWave := t >= windowStart+span
		if newWave {
			windowStart = t
		}
		if newWave || len(clusters) == 0 {
			clusters = append(clusters, Cluster{Index: len(clusters), Start: windowStart})
		}

		cur := &clusters[len(clusters)-1]
		cur.Members = append(cur.Members, Node{TabletID: c.TabletID, InsertTime: t, Cluster: cur.Index})
	}
	return clusters
}
