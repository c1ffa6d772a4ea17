// Package imaging implements the pipeline that turns source images into
// derived ones: crop or pad to an aspect ratio, then scale down to a
// target size
package imaging

import "image/color"

// OpResize is the only operation kind the pipeline knows right now
const OpResize = "resize"

// ResizeMode picks how an image gets forced into the target aspect ratio.
type ResizeMode int

const (
	// Fill the target, excess gets trimmed away
	Crop ResizeMode = iota

	// Fit inside the target, missing area padded with the background color
	Expand

	// Reserved. Asking for these is an error, not a no-op
	MinimumSize
	MaximumSize
)

func (m ResizeMode) String() string {
	switch m {
	case Crop:
		return "CROP"
	case Expand:
		return "EXPAND"
	case MinimumSize:
		return "MINIMUM_SIZE"
	case MaximumSize:
		return "MAXIMUM_SIZE"
	}

	return "UNKNOWN"
}

// Anchor picks which part of the image survives a crop, or where the
// image lands on an expanded canvas. Center is shared between both axes.
type Anchor int

const (
	AnchorCenter Anchor = iota
	AnchorLeft
	AnchorRight
	AnchorTop
	AnchorBottom
)

// Operation is a single transform step. Steps run in order, each one
// feeding the next.
type Operation struct {
	Kind string

	TargetWidth  int
	TargetHeight int

	ResizeMode ResizeMode
	AnchorH    Anchor
	AnchorV    Anchor

	// Padding color for Expand. nil means black
	Background color.Color
}
