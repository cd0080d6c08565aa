// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.15
//

// Implements the variable ordering: key -> variable index -> scalar column offset, and the
// reverse Cuthill-McKee reordering used to keep the Cholesky envelope small.

package gopose

import (
	"sort"
)

// ordering lays out the variables of a graph in ascending key order
type ordering struct {
	keys  []Key
	kinds []VarKind
	offs  []int       // Scalar offset of each variable
	index map[Key]int // Key -> variable index
	n     int         // Total scalar dimension
}

func newOrdering(g *Graph) *ordering {
	keys := g.Variables()
	o := &ordering{
		keys:  keys,
		kinds: make([]VarKind, len(keys)),
		offs:  make([]int, len(keys)),
		index: make(map[Key]int, len(keys)),
	}
	for i, k := range keys {
		kind, _ := g.Kind(k)
		o.kinds[i] = kind
		o.offs[i] = o.n
		o.index[k] = i
		o.n += kind.Dim()
	}
	return o
}

func (o *ordering) dim(i int) int {
	return o.kinds[i].Dim()
}

// adjacency returns, for each variable index, the sorted indices of the variables it shares a
// factor with
func adjacency(g *Graph, o *ordering) [][]int {
	sets := make([]map[int]struct{}, len(o.keys))
	for i := range sets {
		sets[i] = map[int]struct{}{}
	}
	for _, f := range g.Factors() {
		keys := f.Keys()
		for _, a := range keys {
			for _, b := range keys {
				ia, ib := o.index[a], o.index[b]
				if ia != ib {
					sets[ia][ib] = struct{}{}
				}
			}
		}
	}
	adj := make([][]int, len(sets))
	for i, s := range sets {
		adj[i] = make([]int, 0, len(s))
		for j := range s {
			adj[i] = append(adj[i], j)
		}
		sort.Ints(adj[i])
	}
	return adj
}

// components splits the variables into connected components, each listed in reverse
// Cuthill-McKee order. Components come out in order of their smallest variable index.
func components(adj [][]int) [][]int {
	n := len(adj)
	visited := make([]bool, n)
	comps := [][]int{}
	for s := 0; s < n; s++ {
		if visited[s] {
			continue
		}
		// Collect the component to find its minimum degree start node
		members := bfs(adj, s, visited, nil)
		start := members[0]
		for _, m := range members {
			if len(adj[m]) < len(adj[start]) || (len(adj[m]) == len(adj[start]) && m < start) {
				start = m
			}
		}
		for _, m := range members {
			visited[m] = false
		}
		order := bfs(adj, start, visited, func(a, b int) bool {
			if len(adj[a]) != len(adj[b]) {
				return len(adj[a]) < len(adj[b])
			}
			return a < b
		})
		for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
		comps = append(comps, order)
	}
	return comps
}

// bfs visits everything reachable from s, marking visited. When less is given, the unvisited
// neighbors of each node are queued in that order.
func bfs(adj [][]int, s int, visited []bool, less func(a, b int) bool) []int {
	visited[s] = true
	queue := []int{s}
	for i := 0; i < len(queue); i++ {
		next := []int{}
		for _, nb := range adj[queue[i]] {
			if !visited[nb] {
				visited[nb] = true
				next = append(next, nb)
			}
		}
		if less != nil {
			sort.SliceStable(next, func(a, b int) bool { return less(next[a], next[b]) })
		}
		queue = append(queue, next...)
	}
	return queue
}
