// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.14
//

// Implements the factor graph: variables with initial values and the constraints between them.

package gopose

import (
	"github.com/golang/geo/r2"
	"golang.org/x/exp/slices"
)

// Graph is a mutable collection of variables and factors.
// Variables iterate in ascending key order, factors in insertion order.
type Graph struct {
	kinds   map[Key]VarKind
	initial *Values
	factors []Factor
}

func NewGraph() *Graph {
	return &Graph{
		kinds:   map[Key]VarKind{},
		initial: NewValues(),
	}
}

// AddPose declares a pose variable with its initial value
func (g *Graph) AddPose(k Key, p Pose2) error {
	if err := g.addVariable(k, KindPose); err != nil {
		return err
	}
	g.initial.SetPose(k, p)
	return nil
}

// AddPoint declares a landmark variable with its initial value
func (g *Graph) AddPoint(k Key, p r2.Point) error {
	if err := g.addVariable(k, KindPoint); err != nil {
		return err
	}
	g.initial.SetPoint(k, p)
	return nil
}

func (g *Graph) addVariable(k Key, kind VarKind) error {
	if old, ok := g.kinds[k]; ok {
		return constructionErrorf("duplicate key %d (already a %s)", k, old)
	}
	g.kinds[k] = kind
	return nil
}

// AddFactor appends f after checking that each of its keys is a declared variable of the
// expected kind
func (g *Graph) AddFactor(f Factor) error {
	kinds := f.Kinds()
	for i, k := range f.Keys() {
		kind, ok := g.kinds[k]
		if !ok {
			return constructionErrorf("factor refers to undeclared key %d", k)
		}
		if kind != kinds[i] {
			return constructionErrorf("factor expects key %d to be a %s, but it is a %s", k, kinds[i], kind)
		}
	}
	g.factors = append(g.factors, f)
	return nil
}

func (g *Graph) VariableCount() int {
	return len(g.kinds)
}

func (g *Graph) FactorCount() int {
	return len(g.factors)
}

// Variables returns all keys in ascending order
func (g *Graph) Variables() []Key {
	return sortedKeys(g.kinds)
}

// Kind returns the type of variable k
func (g *Graph) Kind(k Key) (VarKind, bool) {
	kind, ok := g.kinds[k]
	return kind, ok
}

// Poses returns the pose keys in ascending order
func (g *Graph) Poses() []Key {
	keys := []Key{}
	for _, k := range g.Variables() {
		if g.kinds[k] == KindPose {
			keys = append(keys, k)
		}
	}
	return keys
}

// Factors returns the factors in insertion order. The slice must not be modified.
func (g *Graph) Factors() []Factor {
	return g.factors
}

// Initial returns a copy of the initial values
func (g *Graph) Initial() *Values {
	return g.initial.Clone()
}

// AddAnchor puts a PriorPose2 on the first pose at its initial value with the given
// x, y, theta standard deviations
func (g *Graph) AddAnchor(sigmas [3]float64) error {
	poses := g.Poses()
	if len(poses) == 0 {
		return constructionErrorf("graph has no pose to anchor")
	}
	noise, err := NewDiagonal(sigmas[:]...)
	if err != nil {
		return err
	}
	k := poses[0]
	f, err := NewPriorPose2(k, g.initial.Pose(k), noise)
	if err != nil {
		return err
	}
	return g.AddFactor(f)
}

// AddHeadingPriors adds an OrientationPrior for every heading index from 2 to h.Count that
// has a record. Index n refers to the n-th pose in ascending key order; index 1 is left to
// the anchor. All priors share h.Sigma. Returns the number of priors added.
func (g *Graph) AddHeadingPriors(h *Headings) (int, error) {
	if h == nil || h.Count < 2 {
		return 0, nil
	}
	noise, err := NewDiagonal(h.Sigma)
	if err != nil {
		return 0, err
	}
	poses := g.Poses()
	added := 0
	for n := 2; n <= h.Count; n++ {
		angle, ok := h.Angle[n]
		if !ok {
			continue
		}
		if n > len(poses) {
			return added, constructionErrorf("heading index %d exceeds the %d poses of the graph", n, len(poses))
		}
		f, err := NewOrientationPrior(poses[n-1], angle, noise)
		if err != nil {
			return added, err
		}
		if err := g.AddFactor(f); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// Validate checks that the graph has something anchoring its gauge freedom
func (g *Graph) Validate() error {
	if len(g.kinds) == 0 {
		return constructionErrorf("graph has no variables")
	}
	hasAnchor := slices.ContainsFunc(g.factors, func(f Factor) bool {
		switch f.(type) {
		case *PriorPose2, *OrientationPrior:
			return true
		}
		return false
	})
	if !hasAnchor {
		return constructionErrorf("graph has no prior factor anchoring it")
	}
	return nil
}

// Error returns the total error 0.5 * sum ||whitened residual||^2 at v
func (g *Graph) Error(v *Values) float64 {
	e := 0.0
	for _, f := range g.factors {
		e += Error(f, v)
	}
	return e
}

// checkValues verifies that v assigns a value of the right kind to every variable
func (g *Graph) checkValues(v *Values) error {
	for k, kind := range g.kinds {
		vk, ok := v.Kind(k)
		if !ok {
			return constructionErrorf("no value for key %d", k)
		}
		if vk != kind {
			return constructionErrorf("value for key %d is a %s, want %s", k, vk, kind)
		}
	}
	return nil
}
