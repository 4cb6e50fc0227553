package services

import (
	"fmt"
	"math"
)

// MotionProfile is a pan/zoom applied to a still image to simulate camera movement.
type MotionProfile string

const (
	MotionZoomIn   MotionProfile = "zoom_in"   // push toward center
	MotionZoomOut  MotionProfile = "zoom_out"  // start tight, pull back wide
	MotionPanLeft  MotionProfile = "pan_left"  // drift right to left
	MotionPanRight MotionProfile = "pan_right" // drift left to right
)

var motionCycle = [...]MotionProfile{MotionZoomIn, MotionZoomOut, MotionPanLeft, MotionPanRight}

// ProfileForIndex picks the profile for the image at scene index i.
func ProfileForIndex(i int) MotionProfile {
	n := len(motionCycle)
	return motionCycle[((i%n)+n)%n]
}

// MotionSpec is the output geometry for motion clips.
type MotionSpec struct {
	Width   int
	Height  int
	FPS     int
	MaxZoom float64
}

// Frames is the number of output frames for a clip of the given length, at least one.
func (m MotionSpec) Frames(seconds float64) int {
	frames := int(math.Ceil(seconds * float64(m.FPS)))
	if frames < 1 {
		return 1
	}
	return frames
}

// BuildMotionFilter constructs the -vf chain for one clip.
//
// The image is first scaled to cover twice the output size and cropped, which
// gives zoompan enough headroom to move without visible stepping. Pans run at
// a fixed MaxZoom so there is always room to travel.
func BuildMotionFilter(profile MotionProfile, spec MotionSpec, seconds float64) string {
	frames := spec.Frames(seconds)
	zoom := spec.MaxZoom
	if zoom < 1 {
		zoom = 1
	}
	delta := zoom - 1

	const (
		centerX = "iw/2-(iw/zoom/2)"
		centerY = "ih/2-(ih/zoom/2)"
	)

	var zExpr, xExpr, yExpr string
	switch profile {
	case MotionZoomOut:
		zExpr = fmt.Sprintf("%.4f-%.4f*on/%d", zoom, delta, frames)
		xExpr, yExpr = centerX, centerY
	case MotionPanLeft:
		zExpr = fmt.Sprintf("%.4f", zoom)
		xExpr = fmt.Sprintf("(iw-iw/zoom)*(1-on/%d)", frames)
		yExpr = centerY
	case MotionPanRight:
		zExpr = fmt.Sprintf("%.4f", zoom)
		xExpr = fmt.Sprintf("(iw-iw/zoom)*on/%d", frames)
		yExpr = centerY
	default: // MotionZoomIn
		zExpr = fmt.Sprintf("1+%.4f*on/%d", delta, frames)
		xExpr, yExpr = centerX, centerY
	}

	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,"+
			"zoompan=z='%s':x='%s':y='%s':d=%d:s=%dx%d:fps=%d,setsar=1,format=yuv420p",
		spec.Width*2, spec.Height*2, spec.Width*2, spec.Height*2,
		zExpr, xExpr, yExpr,
		frames,
		spec.Width, spec.Height,
		spec.FPS,
	)
}
