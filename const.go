// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

package gopose

const (
	PI       = 3.1415926535897932 // Pi
	PoseDim  = 3                  // Local dimension of a pose (x, y, theta)
	PointDim = 2                  // Local dimension of a landmark (x, y)
)

// Record tags of the graph file. The first tag of each group is the one written back.
const (
	TagVertexSE2 = "VERTEX_SE2"
	TagVertex2   = "VERTEX2"
	TagVertex    = "VERTEX"
	TagVertexXY  = "VERTEX_XY"
	TagPoint     = "POINT"
	TagEdgeSE2   = "EDGE_SE2"
	TagEdge2     = "EDGE2"
	TagEdge      = "EDGE"
	TagEdgeSE2XY = "EDGE_SE2_XY"
	TagLandmark  = "LANDMARK"
	TagBR        = "BR"
	TagPriorSE2  = "EDGE_PRIOR_SE2"
	TagHeading   = "HD2"
)
