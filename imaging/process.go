package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

var (
	ErrUnknownOperation      = errors.New("unknown image operation")
	ErrUnsupportedResizeMode = errors.New("unsupported resize mode")
	ErrBadTargetSize         = errors.New("target size must be positive")
)

// Apply runs ops against src in order and returns the final image. src is
// never written to, so one decoded original can feed several derivation
// rules in a row. Intermediate images are dropped as soon as the next step
// has consumed them.
func Apply(src image.Image, ops []Operation) (image.Image, error) {
	working := src

	for _, op := range ops {
		if op.Kind != OpResize {
			return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, op.Kind)
		}

		next, err := resize(working, op)
		if err != nil {
			return nil, err
		}

		working = next
	}

	return working, nil
}

func resize(working image.Image, op Operation) (image.Image, error) {
	if op.TargetWidth <= 0 || op.TargetHeight <= 0 {
		return nil, ErrBadTargetSize
	}

	switch op.ResizeMode {
	case Crop, Expand:
	case MinimumSize, MaximumSize:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedResizeMode, op.ResizeMode)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedResizeMode, int(op.ResizeMode))
	}

	w := working.Bounds().Dx()
	h := working.Bounds().Dy()

	currentAspect := float64(w) / float64(h)
	targetAspect := float64(op.TargetWidth) / float64(op.TargetHeight)
	tooWide := currentAspect > targetAspect

	// Intermediate size with the target's aspect ratio. Crop keeps the
	// short axis and trims the long one, expand keeps the long axis and
	// pads the short one
	var iw, ih int
	if (op.ResizeMode == Crop && tooWide) || (op.ResizeMode == Expand && !tooWide) {
		iw, ih = int(math.Round(float64(h)*targetAspect)), h
	} else {
		iw, ih = w, int(math.Round(float64(w)/targetAspect))
	}

	x, err := offsetH(op.AnchorH, w, iw)
	if err != nil {
		return nil, err
	}

	y, err := offsetV(op.AnchorV, h, ih)
	if err != nil {
		return nil, err
	}

	rgba := toRGBA(working)

	next := image.NewRGBA(image.Rect(0, 0, iw, ih))

	if op.ResizeMode == Crop {
		// Copy the sub-rectangle out, the working image stays untouched
		draw.Draw(next, next.Bounds(), rgba, image.Pt(x, y), draw.Src)
	} else {
		// Offsets are negative here: the working image lands somewhere
		// inside a larger canvas filled with the background color
		bg := op.Background
		if bg == nil {
			bg = color.Black
		}

		draw.Draw(next, next.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
		draw.Draw(next, image.Rect(-x, -y, -x+w, -y+h), rgba, image.Point{}, draw.Src)
	}

	return shrinkTo(next, op.TargetWidth, op.TargetHeight), nil
}

// offsetH places a span of width inner inside (crop) or around (expand) a
// span of width outer.
func offsetH(a Anchor, outer, inner int) (int, error) {
	switch a {
	case AnchorLeft:
		return 0, nil
	case AnchorCenter:
		return floorHalf(outer - inner), nil
	case AnchorRight:
		return outer - inner, nil
	}

	return 0, fmt.Errorf("invalid horizontal anchor %d", a)
}

func offsetV(a Anchor, outer, inner int) (int, error) {
	switch a {
	case AnchorTop:
		return 0, nil
	case AnchorCenter:
		return floorHalf(outer - inner), nil
	case AnchorBottom:
		return outer - inner, nil
	}

	return 0, fmt.Errorf("invalid vertical anchor %d", a)
}

// floorHalf halves n rounding toward negative infinity, so centered
// expansion splits odd padding the same way a centered crop splits odd
// excess. Plain integer division would round toward zero instead.
func floorHalf(n int) int {
	if n < 0 {
		return -((-n + 1) / 2)
	}

	return n / 2
}

// shrinkTo scales img down to fit within (tw, th), keeping its aspect
// ratio. Images already small enough come back unchanged, this step never
// enlarges.
func shrinkTo(img *image.RGBA, tw, th int) *image.RGBA {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()

	if w <= tw && h <= th {
		return img
	}

	ratio := math.Min(float64(tw)/float64(w), float64(th)/float64(h))
	fw := max(int(math.Round(float64(w)*ratio)), 1)
	fh := max(int(math.Round(float64(h)*ratio)), 1)

	dst := image.NewRGBA(image.Rect(0, 0, fw, fh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	return dst
}

// toRGBA converts paletted or grayscale sources to full-color before any
// crop or paste happens. The result always has its origin at (0,0), which
// the offset math above relies on.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}

	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	return dst
}
