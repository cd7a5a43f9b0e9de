package vision

import "testing"

func TestBoxCenter(t *testing.T) {
	b := Box{X1: 100, Y1: 50, X2: 300, Y2: 150}
	x, y := b.Center()
	if x != 200 || y != 100 {
		t.Errorf("Center() = (%v, %v), want (200, 100)", x, y)
	}
}

func TestMockDetector(t *testing.T) {
	m := NewMockDetector()

	if _, ok := m.CurrentFrame(); ok {
		t.Error("CurrentFrame() ok = true before SetFrame")
	}
	m.SetFrame([]byte{0xff, 0xd8})
	frame, ok := m.CurrentFrame()
	if !ok || len(frame) != 2 {
		t.Errorf("CurrentFrame() = %v, %v after SetFrame", frame, ok)
	}

	res, err := m.DetectByColor(nil)
	if err != nil {
		t.Fatalf("DetectByColor() error = %v", err)
	}
	if len(res.Boxes) != 0 {
		t.Errorf("boxes = %v, want empty", res.Boxes)
	}

	m.SetBoxes(Box{Label: "cube"}, Box{Label: "cup"})
	res, _ = m.DetectByColor(nil)
	if len(res.Boxes) != 2 || res.Boxes[0].Label != "cube" {
		t.Errorf("boxes = %+v, want cube and cup", res.Boxes)
	}
	if res.ImageWidth != 640 || res.ImageHeight != 480 {
		t.Errorf("frame size = %dx%d, want 640x480", res.ImageWidth, res.ImageHeight)
	}
}
