// Package cluster groups confirmed duplicate pairs into connected
// components and picks the surviving document of each.
package cluster

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"horse.fit/corpusdedup/internal/lsh"
)

const (
	PolicyRandom   = "random"
	PolicySmallest = "smallest"
)

// Cluster is a connected component of the duplicate graph, members sorted.
type Cluster []string

// unionFind is a disjoint-set forest with path halving and union by size,
// so deep duplicate chains never recurse.
type unionFind struct {
	parent map[string]string
	size   map[string]int
}

func newUnionFind() *unionFind {
	return &unionFind{parent: map[string]string{}, size: map[string]int{}}
}

func (u *unionFind) find(x string) string {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
		u.size[x] = 1
		return x
	}
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.size[ra] < u.size[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.size[ra] += u.size[rb]
}

// Build returns the connected components of the pair graph. Output order is
// deterministic: members are sorted and clusters are ordered by their first
// member.
func Build(pairs []lsh.Pair) []Cluster {
	uf := newUnionFind()
	for _, pair := range pairs {
		uf.union(pair.A, pair.B)
	}

	byRoot := make(map[string]Cluster, len(uf.parent))
	for node := range uf.parent {
		root := uf.find(node)
		byRoot[root] = append(byRoot[root], node)
	}

	clusters := make([]Cluster, 0, len(byRoot))
	for _, members := range byRoot {
		sort.Strings(members)
		clusters = append(clusters, members)
	}
	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i][0] < clusters[j][0]
	})
	return clusters
}

// Select picks one representative per cluster. PolicyRandom draws
// uniformly from a generator seeded with seed, so a run is reproducible for
// a fixed seed and cluster set. PolicySmallest keeps the lexicographically
// smallest document id.
func Select(clusters []Cluster, policy string, seed int64) ([]string, error) {
	reps := make([]string, 0, len(clusters))
	switch policy {
	case PolicySmallest:
		for _, members := range clusters {
			reps = append(reps, members[0])
		}
	case PolicyRandom, "":
		rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
		for _, members := range clusters {
			reps = append(reps, members[rng.IntN(len(members))])
		}
	default:
		return nil, fmt.Errorf("unknown representative policy %q", policy)
	}
	return reps, nil
}

// Survivors returns every document outside all clusters plus the
// representatives, sorted.
func Survivors(all []string, clusters []Cluster, reps []string) []string {
	clustered := make(map[string]struct{})
	for _, members := range clusters {
		for _, member := range members {
			clustered[member] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(all))
	out := make([]string, 0, len(all))
	for _, doc := range all {
		if _, dup := clustered[doc]; dup {
			continue
		}
		if _, ok := seen[doc]; ok {
			continue
		}
		seen[doc] = struct{}{}
		out = append(out, doc)
	}
	for _, rep := range reps {
		if _, ok := seen[rep]; ok {
			continue
		}
		seen[rep] = struct{}{}
		out = append(out, rep)
	}
	sort.Strings(out)
	return out
}
