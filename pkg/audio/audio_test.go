package audio

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"strings"
	"testing"
	"time"
)

func TestChunkLevel(t *testing.T) {
	silent := Chunk{Samples: make([]int16, 320), SampleRate: 16000, Channels: 1}
	if got := silent.Level(); got != 0 {
		t.Errorf("silent Level() = %v, want 0", got)
	}

	loud := Chunk{Samples: []int16{32767, -32767, 32767, -32767}, SampleRate: 16000, Channels: 1}
	if got := loud.Level(); math.Abs(got-1.0) > 0.001 {
		t.Errorf("full-scale Level() = %v, want ~1", got)
	}

	if (Chunk{}).Level() != 0 {
		t.Error("empty chunk Level() != 0")
	}
}

func TestChunkDuration(t *testing.T) {
	c := Chunk{Samples: make([]int16, 320), SampleRate: 16000, Channels: 1}
	if got := c.Duration(); math.Abs(got-0.02) > 1e-9 {
		t.Errorf("Duration() = %v, want 0.02s", got)
	}
	if (Chunk{}).Duration() != 0 {
		t.Error("empty chunk Duration() != 0")
	}
}

func TestEncodeWAV(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	data := encodeWAV(pcm, 16000, 1)

	if len(data) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(data), 44+len(pcm))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
	if byteRate := binary.LittleEndian.Uint32(data[28:32]); byteRate != 32000 {
		t.Errorf("byte rate = %d, want 32000", byteRate)
	}
	if size := binary.LittleEndian.Uint32(data[40:44]); size != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", size, len(pcm))
	}
	if string(data[44:]) != string(pcm) {
		t.Error("pcm payload not appended after header")
	}
}

func TestMockSource_ToneAndSilence(t *testing.T) {
	src := NewMockSource(WithChunkInterval(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer src.Close()

	chunk := <-src.Stream()
	if chunk.Level() != 0 {
		t.Errorf("silent source Level() = %v, want 0", chunk.Level())
	}

	src.SetTone(440, 0.5)
	// Skip one chunk that may predate the tone switch.
	<-src.Stream()
	chunk = <-src.Stream()
	if chunk.Level() < 0.1 {
		t.Errorf("tone chunk Level() = %v, want > 0.1", chunk.Level())
	}
}

func TestLevelMonitor_Activity(t *testing.T) {
	src := NewMockSource(WithChunkInterval(time.Millisecond))
	m := NewLevelMonitor(src, 0.05)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()

	time.Sleep(20 * time.Millisecond)
	if m.Active() {
		t.Error("Active() = true on silence")
	}

	src.SetTone(440, 0.6)
	deadline := time.Now().Add(time.Second)
	for !m.Active() {
		if time.Now().After(deadline) {
			t.Fatal("Active() never became true after tone started")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecorder_VoiceActivated(t *testing.T) {
	src := NewMockSource(WithChunkInterval(time.Millisecond))
	r := NewRecorder(src, RecorderConfig{
		ActivationThreshold: 0.05,
		SilenceDuration:     30 * time.Millisecond,
		MaxDuration:         2 * time.Second,
		SaveDirectory:       t.TempDir(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("source Start() error = %v", err)
	}
	defer src.Close()

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.Start(); err == nil {
		t.Error("second Start() error = nil, want already-in-progress")
	}

	// Speak for a bit, then go quiet.
	src.SetTone(440, 0.6)
	time.Sleep(60 * time.Millisecond)
	src.SetTone(0, 0)

	deadline := time.Now().Add(2 * time.Second)
	for r.IsRecording() {
		if time.Now().After(deadline) {
			t.Fatal("recorder never stopped after silence")
		}
		time.Sleep(5 * time.Millisecond)
	}

	path := r.LastRecording()
	if path == "" {
		t.Fatal("LastRecording() empty after voice recording")
	}
	if !strings.HasSuffix(path, ".wav") {
		t.Errorf("LastRecording() = %q, want .wav file", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	if len(data) <= 44 {
		t.Errorf("recording is %d bytes, want header plus audio", len(data))
	}
	if string(data[0:4]) != "RIFF" {
		t.Error("recording missing RIFF header")
	}
}

func TestRecorder_StopWithoutVoice(t *testing.T) {
	src := NewMockSource(WithChunkInterval(time.Millisecond))
	r := NewRecorder(src, RecorderConfig{
		ActivationThreshold: 0.05,
		SaveDirectory:       t.TempDir(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("source Start() error = %v", err)
	}
	defer src.Close()

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	r.Stop()

	if r.IsRecording() {
		t.Error("IsRecording() = true after Stop returned")
	}
	if r.LastRecording() != "" {
		t.Errorf("LastRecording() = %q, want empty with no voice", r.LastRecording())
	}

	// Stop on an idle recorder is a no-op.
	r.Stop()
}
