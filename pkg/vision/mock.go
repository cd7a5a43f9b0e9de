package vision

import (
	"sync"
	"time"

	"github.com/cobotics/go-cobot/internal/config"
)

// MockDetector is a vision backend for tests and headless runs.
// Boxes are set by the test and returned on every detection pass.
type MockDetector struct {
	mu     sync.Mutex
	boxes  []Box
	frame  []byte
	width  int
	height int
}

// NewMockDetector creates an empty mock with a 640x480 frame size.
func NewMockDetector() *MockDetector {
	return &MockDetector{width: 640, height: 480}
}

// SetBoxes replaces the boxes returned by DetectByColor.
func (m *MockDetector) SetBoxes(boxes ...Box) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boxes = append([]Box(nil), boxes...)
}

// SetFrame sets the JPEG bytes returned by CurrentFrame.
func (m *MockDetector) SetFrame(jpeg []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frame = jpeg
}

// CurrentFrame implements Detector.
func (m *MockDetector) CurrentFrame() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frame == nil {
		return nil, false
	}
	return m.frame, true
}

// DetectByColor implements Detector. Color ranges are ignored; the
// preset boxes come back regardless.
func (m *MockDetector) DetectByColor(ranges map[string]config.ColorRange) (DetectionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return DetectionResult{
		Boxes:       append([]Box(nil), m.boxes...),
		ImageWidth:  m.width,
		ImageHeight: m.height,
		Timestamp:   time.Now(),
	}, nil
}

// Close implements Detector.
func (m *MockDetector) Close() error { return nil }

var _ Detector = (*MockDetector)(nil)
