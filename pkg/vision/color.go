package vision

import (
	"fmt"
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/cobotics/go-cobot/internal/config"
	"github.com/cobotics/go-cobot/internal/log"
)

// ColorDetector detects objects by HSV color range using gocv.
// A background loop keeps the latest frame current; detection runs
// against that frame, never against the device directly.
type ColorDetector struct {
	cfg config.Camera

	mu      sync.Mutex
	capture *gocv.VideoCapture
	frame   gocv.Mat
	haveFrm bool
	stopCh  chan struct{}
	done    chan struct{}
	closed  bool
}

// NewColorDetector opens the configured camera and starts the frame
// capture loop.
func NewColorDetector(cfg config.Camera) (*ColorDetector, error) {
	capture, err := gocv.OpenVideoCapture(cfg.DeviceIndex)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", cfg.DeviceIndex, err)
	}
	capture.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	capture.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))

	d := &ColorDetector{
		cfg:     cfg,
		capture: capture,
		frame:   gocv.NewMat(),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go d.captureLoop()

	log.Info("camera opened", "device", cfg.DeviceIndex, "width", cfg.Width, "height", cfg.Height)
	return d, nil
}

// captureLoop refreshes the current frame at the configured rate.
func (d *ColorDetector) captureLoop() {
	defer close(d.done)

	fps := d.cfg.FPS
	if fps <= 0 {
		fps = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	img := gocv.NewMat()
	defer img.Close()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			if !d.capture.Read(&img) || img.Empty() {
				continue
			}
			d.mu.Lock()
			img.CopyTo(&d.frame)
			d.haveFrm = true
			d.mu.Unlock()
		}
	}
}

// CurrentFrame implements Detector.
func (d *ColorDetector) CurrentFrame() ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.haveFrm {
		return nil, false
	}
	buf, err := gocv.IMEncode(".jpg", d.frame)
	if err != nil {
		log.Error("frame encode failed", "error", err)
		return nil, false
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, true
}

// DetectByColor implements Detector. For each labeled HSV range the
// current frame is masked, cleaned with morphological open/close, and
// its external contours above the area cutoff become boxes.
// Confidence is area-based, capped at 1.
func (d *ColorDetector) DetectByColor(ranges map[string]config.ColorRange) (DetectionResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := DetectionResult{Timestamp: time.Now()}
	if !d.haveFrm {
		return result, fmt.Errorf("no frame available")
	}

	result.ImageWidth = d.frame.Cols()
	result.ImageHeight = d.frame.Rows()

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(d.frame, &hsv, gocv.ColorBGRToHSV)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(5, 5))
	defer kernel.Close()

	minArea := d.cfg.MinArea
	if minArea <= 0 {
		minArea = 500
	}

	for label, cr := range ranges {
		lower := gocv.NewScalar(cr.Lower[0], cr.Lower[1], cr.Lower[2], 0)
		upper := gocv.NewScalar(cr.Upper[0], cr.Upper[1], cr.Upper[2], 0)

		mask := gocv.NewMat()
		gocv.InRangeWithScalar(hsv, lower, upper, &mask)
		gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, kernel)
		gocv.MorphologyEx(mask, &mask, gocv.MorphClose, kernel)

		contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
		for i := 0; i < contours.Size(); i++ {
			contour := contours.At(i)
			area := gocv.ContourArea(contour)
			if area <= minArea {
				continue
			}
			rect := gocv.BoundingRect(contour)
			conf := area / 10000
			if conf > 1 {
				conf = 1
			}
			result.Boxes = append(result.Boxes, Box{
				X1:         rect.Min.X,
				Y1:         rect.Min.Y,
				X2:         rect.Max.X,
				Y2:         rect.Max.Y,
				Label:      label,
				Confidence: conf,
			})
		}
		contours.Close()
		mask.Close()
	}

	return result, nil
}

// Close stops the capture loop and releases the camera.
func (d *ColorDetector) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	close(d.stopCh)
	<-d.done

	d.mu.Lock()
	defer d.mu.Unlock()
	d.frame.Close()
	return d.capture.Close()
}

var _ Detector = (*ColorDetector)(nil)
