// Package geometry computes where a scanned two-page spread must be cut.
// It is pure arithmetic: given one page's dimensions and rotation plus
// the split parameters, it yields the two sub-rectangles to extract, in
// visual reading order, expressed in the page's own coordinate space.
// Nothing here performs I/O, so the resolver is safe to call from any
// number of goroutines.
package geometry

import (
	"errors"
	"fmt"
)

// ErrInvalidSplitGeometry reports a ratio/offset/gutter combination that
// would produce a zero- or negative-size half for the page at hand.
var ErrInvalidSplitGeometry = errors.New("invalid split geometry")

// ErrUnsupportedRotation reports a page rotation outside the four
// right-angle values.
var ErrUnsupportedRotation = errors.New("unsupported rotation")

// Orientation selects the split axis.
type Orientation int

const (
	// Vertical cuts left/right halves out of the logical width.
	Vertical Orientation = iota
	// Horizontal cuts top/bottom halves out of the logical height.
	Horizontal
)

func (o Orientation) String() string {
	if o == Horizontal {
		return "horizontal"
	}
	return "vertical"
}

// ParseOrientation accepts the flag spellings "vertical" and "horizontal".
func ParseOrientation(s string) (Orientation, error) {
	switch s {
	case "vertical":
		return Vertical, nil
	case "horizontal":
		return Horizontal, nil
	}
	return 0, fmt.Errorf("unknown orientation %q (want vertical or horizontal)", s)
}

// PageDescriptor is an immutable snapshot of one input page's geometry
// as declared by the container: stored dimensions plus the clockwise
// rotation to apply when rendering.
type PageDescriptor struct {
	Width    float64
	Height   float64
	Rotation int
}

// SplitParams tunes the cut. Values are shared read-only across a run.
type SplitParams struct {
	Orientation Orientation
	// Ratio is the fraction of the logical split axis given to the
	// first (left or top) half. Strictly between 0 and 1.
	Ratio float64
	// Offset shifts the cut, in points, along the visual reading
	// direction: positive values enlarge the first half.
	Offset float64
	// Gutter is a dead zone of this many points centered on the cut,
	// removed from both halves. Non-negative.
	Gutter float64
}

// DefaultParams is a centered vertical cut with no gutter.
func DefaultParams() SplitParams {
	return SplitParams{Orientation: Vertical, Ratio: 0.5}
}

// Validate checks the parameters independently of any page.
func (p SplitParams) Validate() error {
	if p.Ratio <= 0 || p.Ratio >= 1 {
		return fmt.Errorf("%w: ratio %g outside (0, 1)", ErrInvalidSplitGeometry, p.Ratio)
	}
	if p.Gutter < 0 {
		return fmt.Errorf("%w: gutter %g is negative", ErrInvalidSplitGeometry, p.Gutter)
	}
	return nil
}

// Rect is an axis-aligned rectangle in the source page's native
// coordinate space, normalized so X0 <= X1 and Y0 <= Y1.
type Rect struct {
	X0, Y0, X1, Y1 float64
}

func (r Rect) Width() float64  { return r.X1 - r.X0 }
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }
func (r Rect) Area() float64   { return r.Width() * r.Height() }

func (r Rect) String() string {
	return fmt.Sprintf("[%g %g %g %g]", r.X0, r.Y0, r.X1, r.Y1)
}

// OutputPage is one half of a split spread: the region to crop and the
// rotation to stamp on the result so it renders upright exactly as it
// did inside the original spread.
type OutputPage struct {
	Rect     Rect
	Rotation int
}

// Resolve bisects one page. The returned slice always holds exactly two
// entries in visual reading order: left before right for vertical cuts,
// top before bottom for horizontal ones, regardless of how the stored
// coordinates run under the page's rotation.
func Resolve(page PageDescriptor, params SplitParams) ([]OutputPage, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if page.Width <= 0 || page.Height <= 0 {
		return nil, fmt.Errorf("%w: page dimensions %gx%g", ErrInvalidSplitGeometry, page.Width, page.Height)
	}
	rotation, err := NormalizeRotation(page.Rotation)
	if err != nil {
		return nil, err
	}

	// The split happens on the logical, upright page. A 90- or
	// 270-rotated page's visual width is its stored height.
	logicalW, logicalH := page.Width, page.Height
	if rotation == 90 || rotation == 270 {
		logicalW, logicalH = logicalH, logicalW
	}

	axis := logicalW
	if params.Orientation == Horizontal {
		axis = logicalH
	}

	cut := params.Ratio*axis + params.Offset
	pad := params.Gutter / 2
	firstEnd := cut - pad
	secondStart := cut + pad
	if firstEnd <= 0 {
		return nil, fmt.Errorf("%w: first half is %g points wide (cut %g, gutter %g, axis %g)",
			ErrInvalidSplitGeometry, firstEnd, cut, params.Gutter, axis)
	}
	if secondStart >= axis {
		return nil, fmt.Errorf("%w: second half is %g points wide (cut %g, gutter %g, axis %g)",
			ErrInvalidSplitGeometry, axis-secondStart, cut, params.Gutter, axis)
	}

	t, err := nativeTransform(page.Width, page.Height, rotation)
	if err != nil {
		return nil, err
	}

	var first, second Rect
	if params.Orientation == Vertical {
		first = mapRect(t, 0, 0, firstEnd, logicalH)
		second = mapRect(t, secondStart, 0, logicalW, logicalH)
	} else {
		first = mapRect(t, 0, 0, logicalW, firstEnd)
		second = mapRect(t, 0, secondStart, logicalW, logicalH)
	}

	return []OutputPage{
		{Rect: first, Rotation: rotation},
		{Rect: second, Rotation: rotation},
	}, nil
}
