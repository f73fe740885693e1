package geometry

import "fmt"

// transform maps a point in visual coordinates onto the page's native
// coordinate space. Visual coordinates are what a reader of the rendered
// page sees: origin at the top-left corner, x growing rightward, y
// growing downward, rotation already applied. Native coordinates are PDF
// user space: origin at the bottom-left of the stored page, y up.
type transform func(vx, vy float64) (x, y float64)

// nativeTransform returns the visual-to-native mapping for one of the
// four right-angle rotations. w and h are the stored (native) page
// dimensions. Each case inverts a clockwise rotation of the rendered
// page; keeping them as one dispatch keeps every sign auditable in
// isolation.
func nativeTransform(w, h float64, rotation int) (transform, error) {
	switch rotation {
	case 0:
		return func(vx, vy float64) (float64, float64) {
			return vx, h - vy
		}, nil
	case 90:
		// Stored left edge renders as the top edge; the visual x axis
		// runs along native y.
		return func(vx, vy float64) (float64, float64) {
			return vy, vx
		}, nil
	case 180:
		return func(vx, vy float64) (float64, float64) {
			return w - vx, vy
		}, nil
	case 270:
		// Mirror of the 90 case: the axis correspondence is the same
		// but both directions invert.
		return func(vx, vy float64) (float64, float64) {
			return w - vy, h - vx
		}, nil
	}
	return nil, fmt.Errorf("%w: %d degrees", ErrUnsupportedRotation, rotation)
}

// NormalizeRotation folds a /Rotate value into {0, 90, 180, 270}. PDF
// permits any multiple of 90, including negative ones.
func NormalizeRotation(rotation int) (int, error) {
	if rotation%90 != 0 {
		return 0, fmt.Errorf("%w: %d degrees is not a multiple of 90", ErrUnsupportedRotation, rotation)
	}
	r := rotation % 360
	if r < 0 {
		r += 360
	}
	return r, nil
}

// mapRect carries an axis-aligned visual rectangle into native space,
// normalizing corner order afterwards: under 90/180/270 the corners swap
// sides.
func mapRect(t transform, vx0, vy0, vx1, vy1 float64) Rect {
	x0, y0 := t(vx0, vy0)
	x1, y1 := t(vx1, vy1)
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	return Rect{X0: x0, Y0: y0, X1: x1, Y1: y1}
}
