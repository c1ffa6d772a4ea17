// Package service contains the stored file engine and the background
// jobs built on top of it
package service

import "bitwise74/media-store/imaging"

// DerivationMode decides when a derived file gets made.
type DerivationMode int

const (
	// Only through an explicit Generate call
	Manual DerivationMode = iota

	// On the first fetch that misses
	Lazy

	// As soon as the source file is ingested
	Immediate
)

func (m DerivationMode) String() string {
	switch m {
	case Manual:
		return "MANUAL"
	case Lazy:
		return "LAZY"
	case Immediate:
		return "IMMEDIATE"
	}

	return "UNKNOWN"
}

// DerivationRule describes one derived variant of an original file: an
// identifier, a generation mode and the transform steps that produce it.
// Rules are plain data handed to NewFiles, so every deployment defines
// its own table without touching the engine.
type DerivationRule struct {
	ID         string
	Label      string
	Mode       DerivationMode
	Operations []imaging.Operation
}

// DefaultRules is the stock rule table: a 50x50 center-cropped thumbnail
// made at upload time.
func DefaultRules() []DerivationRule {
	return []DerivationRule{
		{
			ID:    "THUMBNAIL",
			Label: "Thumbnail",
			Mode:  Immediate,
			Operations: []imaging.Operation{
				{
					Kind:         imaging.OpResize,
					TargetWidth:  50,
					TargetHeight: 50,
					ResizeMode:   imaging.Crop,
					AnchorH:      imaging.AnchorCenter,
					AnchorV:      imaging.AnchorCenter,
				},
			},
		},
	}
}
