// Package vision provides the camera collaborator: frame capture and
// color-based object detection feeding the fusion loop and hand-eye
// calibration callers.
package vision

import (
	"time"

	"github.com/cobotics/go-cobot/internal/config"
)

// Box is one detected object's bounding box in pixel coordinates.
type Box struct {
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Center returns the box center in pixel coordinates.
func (b Box) Center() (x, y float64) {
	return float64(b.X1+b.X2) / 2, float64(b.Y1+b.Y2) / 2
}

// DetectionResult is one detection pass over one frame.
type DetectionResult struct {
	Boxes       []Box     `json:"boxes"`
	ImageWidth  int       `json:"image_width"`
	ImageHeight int       `json:"image_height"`
	Timestamp   time.Time `json:"timestamp"`
}

// Detector is the vision collaborator contract.
type Detector interface {
	// CurrentFrame returns the latest captured frame as JPEG bytes,
	// or ok=false when no frame is available yet.
	CurrentFrame() (jpeg []byte, ok bool)

	// DetectByColor runs color-range detection over the current frame.
	DetectByColor(ranges map[string]config.ColorRange) (DetectionResult, error)

	// Close releases capture resources.
	Close() error
}
