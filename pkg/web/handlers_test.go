package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobotics/go-cobot/pkg/fusion"
)

type fakeArm struct {
	state string
	x, y  float64
	z     float64
	known bool
}

func (f *fakeArm) State() string { return f.state }
func (f *fakeArm) Position() (x, y, z float64, ok bool) {
	return f.x, f.y, f.z, f.known
}

type fakeScene struct {
	current *fusion.SceneContext
	objects map[string]fusion.TrackedObject
	history []fusion.SceneContext
}

func (f *fakeScene) CurrentContext() (fusion.SceneContext, bool) {
	if f.current == nil {
		return fusion.SceneContext{}, false
	}
	return *f.current, true
}
func (f *fakeScene) History(d time.Duration) []fusion.SceneContext { return f.history }
func (f *fakeScene) TrackedObjects() map[string]fusion.TrackedObject {
	return f.objects
}

func doJSON(t *testing.T, s *Server, path string, out interface{}) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && len(body) > 0 {
		require.NoError(t, json.Unmarshal(body, out))
	}
	return resp.StatusCode
}

func TestHandleState(t *testing.T) {
	s := NewServer("0", WithArm(&fakeArm{state: "idle", x: 10, y: -20, z: 150, known: true}))

	var got armStateResponse
	code := doJSON(t, s, "/api/state", &got)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", got.State)
	require.NotNil(t, got.Position)
	assert.Equal(t, [3]float64{10, -20, 150}, *got.Position)
}

func TestHandleState_NoArm(t *testing.T) {
	s := NewServer("0")

	var got armStateResponse
	code := doJSON(t, s, "/api/state", &got)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "unavailable", got.State)
	assert.Nil(t, got.Position)
}

func TestHandleScene(t *testing.T) {
	scene := &fakeScene{}
	s := NewServer("0", WithScene(scene))

	code := doJSON(t, s, "/api/scene", nil)
	assert.Equal(t, http.StatusNotFound, code, "no context yet")

	scene.current = &fusion.SceneContext{
		ID:          "ctx-1",
		Description: "I can see a cube.",
		Confidence:  0.4,
	}
	var got fusion.SceneContext
	code = doJSON(t, s, "/api/scene", &got)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ctx-1", got.ID)
	assert.Equal(t, "I can see a cube.", got.Description)
}

func TestHandleScene_FusionNotRunning(t *testing.T) {
	s := NewServer("0")
	code := doJSON(t, s, "/api/scene", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestHandleObjects(t *testing.T) {
	scene := &fakeScene{objects: map[string]fusion.TrackedObject{
		"cube": {Label: "cube", Detections: 3, Confidence: 0.8},
	}}
	s := NewServer("0", WithScene(scene))

	var got map[string]fusion.TrackedObject
	code := doJSON(t, s, "/api/objects", &got)
	assert.Equal(t, http.StatusOK, code)
	require.Contains(t, got, "cube")
	assert.Equal(t, 3, got["cube"].Detections)
}

func TestHandleHistory(t *testing.T) {
	scene := &fakeScene{history: []fusion.SceneContext{{ID: "a"}, {ID: "b"}}}
	s := NewServer("0", WithScene(scene))

	var got []fusion.SceneContext
	code := doJSON(t, s, "/api/history?seconds=5", &got)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, got, 2)
}
