package timeline

import "clipforge/pkg/keyframe"

// MaskShape tags which variant a Mask carries.
type MaskShape string

// Recognised mask shapes.
const (
	MaskRect     MaskShape = "Rect"
	MaskEllipse  MaskShape = "Ellipse"
	MaskPolygon  MaskShape = "Polygon"
	MaskAlpha    MaskShape = "Alpha"
	MaskAnimated MaskShape = "Animated"
)

// Point is a 2D coordinate used by Polygon masks.
type Point struct {
	X, Y float64
}

// Mask is a tagged variant; only the fields relevant to Shape are
// meaningful, mirroring spec §3's Mask definition.
type Mask struct {
	Shape MaskShape

	// Rect
	X, Y, W, H float64
	// Ellipse
	CX, CY, RX, RY float64
	// Polygon
	Points []Point
	// Rect/Ellipse/Polygon
	Feather  float64
	Inverted bool
	// Alpha
	ImagePath string
	// Animated
	Base      *Mask
	Keyframes keyframe.Table
}
