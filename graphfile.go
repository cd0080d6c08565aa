// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.18
//

// Implements reading and writing of the line-oriented pose graph file (g2o / TORO style)
// including the HD2 heading records.

package gopose

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// EdgeType is the kind of constraint an edge record describes
type EdgeType int

const (
	EdgeSE2      EdgeType = iota // Relative pose between two poses
	EdgeSE2XY                    // Landmark position relative to a pose
	EdgeBR                       // Landmark bearing and range from a pose
	EdgePriorSE2                 // Absolute pose prior
)

// VertexRecord is one declared variable with its initial value
type VertexRecord struct {
	Key   Key
	Kind  VarKind
	Pose  Pose2    // Valid when Kind == KindPose. Theta is stored as read.
	Point r2.Point // Valid when Kind == KindPoint
	Line  int      // Source line, 0 if not read from a file
}

// EdgeRecord is one measurement between variables (or on a single pose for EdgePriorSE2)
type EdgeRecord struct {
	Type    EdgeType
	Key1    Key       // Pose key
	Key2    Key       // Second pose or landmark key. Unused for EdgePriorSE2.
	Pose    Pose2     // Measured pose for EdgeSE2 and EdgePriorSE2
	Point   r2.Point  // Measured relative position for EdgeSE2XY
	Bearing float64   // EdgeBR bearing [rad]
	Range   float64   // EdgeBR range
	Info    []float64 // Upper triangle of the information matrix (EdgeSE2, EdgeSE2XY, EdgePriorSE2)
	Sigmas  []float64 // Bearing and range standard deviations (EdgeBR)
	Line    int
}

// HeadingRecord is one HD2 line as read
type HeadingRecord struct {
	Index int
	Angle float64
	Sigma float64
	Line  int
}

// Headings holds the absolute heading measurements of the file.
// Only the sigma of index 1 is used; it applies to every heading.
type Headings struct {
	Angle   map[int]float64 // Heading angle by 1-based pose index
	Sigma   float64         // Sigma taken from the index 1 record
	Count   int             // Largest index seen
	Records []HeadingRecord // Records in file order
}

// GraphFile is the raw content of a pose graph file
type GraphFile struct {
	Vertices []VertexRecord
	Edges    []EdgeRecord
	Headings *Headings
}

func (h *Headings) clone() *Headings {
	if h == nil {
		return nil
	}
	return &Headings{
		Angle:   maps.Clone(h.Angle),
		Sigma:   h.Sigma,
		Count:   h.Count,
		Records: slices.Clone(h.Records),
	}
}

// Number of numeric fields following the tag, per record type
var recordFields = map[string]int{
	TagVertexSE2: 4,
	TagVertex2:   4,
	TagVertex:    4,
	TagVertexXY:  3,
	TagPoint:     3,
	TagEdgeSE2:   11,
	TagEdge2:     11,
	TagEdge:      11,
	TagEdgeSE2XY: 7,
	TagLandmark:  7,
	TagBR:        6,
	TagPriorSE2:  10,
	TagHeading:   3,
}

// LoadGraph reads a pose graph file from disk
func LoadGraph(fn string, logger *zap.SugaredLogger) (*GraphFile, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, newParseError(0, err, "can't open %s", fn)
	}
	defer f.Close()
	return ReadGraph(f, logger)
}

// ReadGraph reads the pose graph and heading records.
// Unknown tags, blank lines and '#' comments are skipped.
func ReadGraph(r io.Reader, logger *zap.SugaredLogger) (*GraphFile, error) {
	logger = loggerOrNop(logger)

	gf := &GraphFile{
		Headings: &Headings{Angle: map[int]float64{}},
	}
	hasSigma := false

	// Reader to read line by line with newline as delimiter
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 1024*1024)

	ln := 0
	for s.Scan() {
		ln++
		la := strings.Fields(s.Text())
		if len(la) == 0 || strings.HasPrefix(la[0], "#") {
			continue
		}
		tag := la[0]
		n, ok := recordFields[tag]
		if !ok {
			logger.Debugf("line %d: skipping unknown tag %q", ln, tag)
			continue
		}
		if len(la)-1 != n {
			return nil, newParseError(ln, nil, "%s needs %d fields, got %d", tag, n, len(la)-1)
		}
		f, err := parseFields(ln, tag, la[1:])
		if err != nil {
			return nil, err
		}

		switch tag {
		case TagVertexSE2, TagVertex2, TagVertex:
			gf.Vertices = append(gf.Vertices, VertexRecord{
				Key:  Key(f.ints[0]),
				Kind: KindPose,
				Pose: Pose2{X: f.nums[0], Y: f.nums[1], Theta: f.nums[2]},
				Line: ln,
			})
		case TagVertexXY, TagPoint:
			gf.Vertices = append(gf.Vertices, VertexRecord{
				Key:   Key(f.ints[0]),
				Kind:  KindPoint,
				Point: r2.Point{X: f.nums[0], Y: f.nums[1]},
				Line:  ln,
			})
		case TagEdgeSE2, TagEdge2, TagEdge:
			gf.Edges = append(gf.Edges, EdgeRecord{
				Type: EdgeSE2,
				Key1: Key(f.ints[0]),
				Key2: Key(f.ints[1]),
				Pose: Pose2{X: f.nums[0], Y: f.nums[1], Theta: f.nums[2]},
				Info: f.nums[3:],
				Line: ln,
			})
		case TagEdgeSE2XY, TagLandmark:
			gf.Edges = append(gf.Edges, EdgeRecord{
				Type:  EdgeSE2XY,
				Key1:  Key(f.ints[0]),
				Key2:  Key(f.ints[1]),
				Point: r2.Point{X: f.nums[0], Y: f.nums[1]},
				Info:  f.nums[2:],
				Line:  ln,
			})
		case TagBR:
			gf.Edges = append(gf.Edges, EdgeRecord{
				Type:    EdgeBR,
				Key1:    Key(f.ints[0]),
				Key2:    Key(f.ints[1]),
				Bearing: f.nums[0],
				Range:   f.nums[1],
				Sigmas:  f.nums[2:],
				Line:    ln,
			})
		case TagPriorSE2:
			gf.Edges = append(gf.Edges, EdgeRecord{
				Type: EdgePriorSE2,
				Key1: Key(f.ints[0]),
				Pose: Pose2{X: f.nums[0], Y: f.nums[1], Theta: f.nums[2]},
				Info: f.nums[3:],
				Line: ln,
			})
		case TagHeading:
			idx := f.ints[0]
			if idx < 1 {
				return nil, newParseError(ln, nil, "heading index %d must be 1 or more", idx)
			}
			h := gf.Headings
			h.Records = append(h.Records, HeadingRecord{Index: idx, Angle: f.nums[0], Sigma: f.nums[1], Line: ln})
			h.Angle[idx] = f.nums[0]
			if idx == 1 {
				h.Sigma = f.nums[1]
				hasSigma = true
			}
			h.Count = max(h.Count, idx)
		}
	}

	// Check if reading completed without error
	if err := s.Err(); err != nil {
		return nil, newParseError(ln, err, "read failed")
	}

	if len(gf.Headings.Angle) > 0 && !hasSigma {
		return nil, newParseError(0, nil, "%s records present but none for pose index 1, heading sigma unknown", TagHeading)
	}

	if err := gf.checkKeys(); err != nil {
		return nil, err
	}

	logger.Debugf("read %d vertices, %d edges, %d heading records", len(gf.Vertices), len(gf.Edges), len(gf.Headings.Records))
	return gf, nil
}

type fields struct {
	ints []int     // Leading integer fields (keys, heading index)
	nums []float64 // Remaining numeric fields
}

// Number of leading integer fields per tag
func intFields(tag string) int {
	switch tag {
	case TagEdgeSE2, TagEdge2, TagEdge, TagEdgeSE2XY, TagLandmark, TagBR:
		return 2
	default:
		return 1
	}
}

func parseFields(ln int, tag string, la []string) (*fields, error) {
	ni := intFields(tag)
	f := &fields{
		ints: make([]int, ni),
		nums: make([]float64, len(la)-ni),
	}
	for i := 0; i < ni; i++ {
		v, err := strconv.Atoi(la[i])
		if err != nil {
			return nil, newParseError(ln, err, "%s field %d is not an integer", tag, i+1)
		}
		f.ints[i] = v
	}
	for i := ni; i < len(la); i++ {
		v, err := strconv.ParseFloat(la[i], 64)
		if err != nil {
			return nil, newParseError(ln, err, "%s field %d is not a number", tag, i+1)
		}
		f.nums[i-ni] = v
	}
	return f, nil
}

// checkKeys verifies that every edge refers to declared vertices of the right kind
func (gf *GraphFile) checkKeys() error {
	kinds := map[Key]VarKind{}
	for _, v := range gf.Vertices {
		if _, ok := kinds[v.Key]; !ok {
			kinds[v.Key] = v.Kind
		}
	}
	check := func(e EdgeRecord, k Key, want VarKind) error {
		kind, ok := kinds[k]
		if !ok {
			return newParseError(e.Line, nil, "key %d was never declared", k)
		}
		if kind != want {
			return newParseError(e.Line, nil, "key %d is a %s, want a %s", k, kind, want)
		}
		return nil
	}
	for _, e := range gf.Edges {
		if err := check(e, e.Key1, KindPose); err != nil {
			return err
		}
		switch e.Type {
		case EdgeSE2:
			if err := check(e, e.Key2, KindPose); err != nil {
				return err
			}
		case EdgeSE2XY, EdgeBR:
			if err := check(e, e.Key2, KindPoint); err != nil {
				return err
			}
		}
	}
	return nil
}

// InitialValues returns the vertex values of the file
func (gf *GraphFile) InitialValues() *Values {
	v := NewValues()
	for _, vr := range gf.Vertices {
		switch vr.Kind {
		case KindPose:
			v.SetPose(vr.Key, NewPose2(vr.Pose.X, vr.Pose.Y, vr.Pose.Theta))
		case KindPoint:
			v.SetPoint(vr.Key, vr.Point)
		}
	}
	return v
}

// WithValues returns a deep copy whose vertex values are replaced by those in v.
// Vertices missing from v keep their values.
func (gf *GraphFile) WithValues(v *Values) *GraphFile {
	c := &GraphFile{
		Vertices: slices.Clone(gf.Vertices),
		Edges:    slices.Clone(gf.Edges),
		Headings: gf.Headings.clone(),
	}
	for i := range c.Edges {
		c.Edges[i].Info = slices.Clone(c.Edges[i].Info)
		c.Edges[i].Sigmas = slices.Clone(c.Edges[i].Sigmas)
	}
	for i, vr := range c.Vertices {
		kind, ok := v.Kind(vr.Key)
		if !ok || kind != vr.Kind {
			continue
		}
		switch kind {
		case KindPose:
			c.Vertices[i].Pose = v.Pose(vr.Key)
		case KindPoint:
			c.Vertices[i].Point = v.Point(vr.Key)
		}
	}
	return c
}

// BuildGraph declares every vertex and adds a factor for every edge record
func BuildGraph(gf *GraphFile) (*Graph, error) {
	g := NewGraph()
	for _, vr := range gf.Vertices {
		var err error
		switch vr.Kind {
		case KindPose:
			err = g.AddPose(vr.Key, NewPose2(vr.Pose.X, vr.Pose.Y, vr.Pose.Theta))
		case KindPoint:
			err = g.AddPoint(vr.Key, vr.Point)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "vertex at line %d", vr.Line)
		}
	}
	for _, e := range gf.Edges {
		f, err := e.factor()
		if err == nil {
			err = g.AddFactor(f)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "edge at line %d", e.Line)
		}
	}
	return g, nil
}

func (e *EdgeRecord) factor() (Factor, error) {
	switch e.Type {
	case EdgeSE2:
		noise, err := DiagonalFromInformation(3, e.Info)
		if err != nil {
			return nil, err
		}
		return NewBetweenPose2(e.Key1, e.Key2, NewPose2(e.Pose.X, e.Pose.Y, e.Pose.Theta), noise)
	case EdgeSE2XY:
		noise, err := DiagonalFromInformation(2, e.Info)
		if err != nil {
			return nil, err
		}
		return NewPoseToPointXY(e.Key1, e.Key2, e.Point, noise)
	case EdgeBR:
		noise, err := NewDiagonal(e.Sigmas...)
		if err != nil {
			return nil, err
		}
		return NewBearingRange(e.Key1, e.Key2, e.Bearing, e.Range, noise)
	case EdgePriorSE2:
		noise, err := DiagonalFromInformation(3, e.Info)
		if err != nil {
			return nil, err
		}
		return NewPriorPose2(e.Key1, NewPose2(e.Pose.X, e.Pose.Y, e.Pose.Theta), noise)
	default:
		return nil, constructionErrorf("unknown edge type %d", e.Type)
	}
}

// WriteGraph writes gf in the grammar read by ReadGraph using the first tag of each record
// type. Numbers use the shortest representation that reads back to the same float64.
func WriteGraph(w io.Writer, gf *GraphFile) error {
	bw := bufio.NewWriter(w)
	for _, v := range gf.Vertices {
		switch v.Kind {
		case KindPose:
			writeRecord(bw, TagVertexSE2, []int{int(v.Key)}, v.Pose.X, v.Pose.Y, v.Pose.Theta)
		case KindPoint:
			writeRecord(bw, TagVertexXY, []int{int(v.Key)}, v.Point.X, v.Point.Y)
		}
	}
	for _, e := range gf.Edges {
		switch e.Type {
		case EdgeSE2:
			writeRecord(bw, TagEdgeSE2, []int{int(e.Key1), int(e.Key2)}, append([]float64{e.Pose.X, e.Pose.Y, e.Pose.Theta}, e.Info...)...)
		case EdgeSE2XY:
			writeRecord(bw, TagEdgeSE2XY, []int{int(e.Key1), int(e.Key2)}, append([]float64{e.Point.X, e.Point.Y}, e.Info...)...)
		case EdgeBR:
			writeRecord(bw, TagBR, []int{int(e.Key1), int(e.Key2)}, append([]float64{e.Bearing, e.Range}, e.Sigmas...)...)
		case EdgePriorSE2:
			writeRecord(bw, TagPriorSE2, []int{int(e.Key1)}, append([]float64{e.Pose.X, e.Pose.Y, e.Pose.Theta}, e.Info...)...)
		}
	}
	if gf.Headings != nil {
		for _, h := range gf.Headings.Records {
			writeRecord(bw, TagHeading, []int{h.Index}, h.Angle, h.Sigma)
		}
	}
	return bw.Flush()
}

func writeRecord(w *bufio.Writer, tag string, ints []int, nums ...float64) {
	w.WriteString(tag)
	for _, i := range ints {
		w.WriteByte(' ')
		w.WriteString(strconv.Itoa(i))
	}
	for _, x := range nums {
		w.WriteByte(' ')
		w.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	}
	w.WriteByte('\n')
}
