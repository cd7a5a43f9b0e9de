// Package calibration provides hand-eye calibration: the mapping from
// camera pixel coordinates to robot world coordinates.
//
// Two transform forms exist and exactly one is active at a time. A
// 2-point calibration fits independent per-axis scale and offset; it
// does not model rotation or shear between the image and robot frames.
// Three or more points fit a general least-squares affine over
// [px, py, 1]. The two forms can disagree for the same two points and
// that asymmetry is intentional: only the 2-point form has a
// closed-form inverse.
package calibration

import (
	"encoding/json"
	"errors"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/cobotics/go-cobot/internal/log"
)

var (
	// ErrInsufficientPoints is returned when fewer than two point
	// pairs are supplied, or the lists differ in length.
	ErrInsufficientPoints = errors.New("calibration: need at least 2 matching point pairs")

	// ErrInverseUnavailable is returned by RobotToImage when the
	// active transform is the least-squares affine, which has no
	// closed-form inverse here.
	ErrInverseUnavailable = errors.New("calibration: inverse only defined for 2-point transform")
)

// ValidationThreshold is the mean reprojection error (mm) below which
// a calibration is considered accurate.
const ValidationThreshold = 5.0

// Pixel is an image coordinate in pixels.
type Pixel struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// World is a robot-frame coordinate in millimetres.
type World struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Default calibration anchors, measured once on the reference rig.
// Used whenever no calibration has been performed so coordinate
// conversion always has some answer.
var (
	defaultPixels = [2]Pixel{{130, 290}, {640, 0}}
	defaultWorlds = [2]World{{-21.8, -197.4}, {215, -59.1}}
)

// linearTransform is the 2-point independent-axis fit.
type linearTransform struct {
	XScale  float64 `json:"x_scale"`
	XOffset float64 `json:"x_offset"`
	YScale  float64 `json:"y_scale"`
	YOffset float64 `json:"y_offset"`
}

func (t linearTransform) apply(px, py float64) World {
	return World{
		X: t.XScale*px + t.XOffset,
		Y: t.YScale*py + t.YOffset,
	}
}

func (t linearTransform) invert(wx, wy float64) Pixel {
	return Pixel{
		X: (wx - t.XOffset) / t.XScale,
		Y: (wy - t.YOffset) / t.YScale,
	}
}

// affineTransform is the least-squares fit: one [a b c] row per world
// axis applied to [px, py, 1].
type affineTransform struct {
	Coef [2][3]float64 `json:"matrix"`
}

func (t affineTransform) apply(px, py float64) World {
	return World{
		X: t.Coef[0][0]*px + t.Coef[0][1]*py + t.Coef[0][2],
		Y: t.Coef[1][0]*px + t.Coef[1][1]*py + t.Coef[1][2],
	}
}

// record is the persisted calibration file format.
type record struct {
	PixelPoints []Pixel          `json:"pixel_points"`
	WorldPoints []World          `json:"world_points"`
	Calibrated  bool             `json:"calibrated"`
	Linear      *linearTransform `json:"linear,omitempty"`
	Affine      *affineTransform `json:"affine,omitempty"`
}

// Calibrator fits and applies the pixel-to-world transform.
// Safe for concurrent use.
type Calibrator struct {
	mu sync.RWMutex

	pixelPts []Pixel
	worldPts []World

	calibrated bool
	linear     *linearTransform
	affine     *affineTransform

	store Store
}

// New creates an uncalibrated Calibrator with no persistence.
func New() *Calibrator {
	return &Calibrator{}
}

// NewWithStore creates a Calibrator backed by the given store and
// loads any previously persisted calibration.
func NewWithStore(store Store) *Calibrator {
	c := &Calibrator{store: store}
	if err := c.load(); err != nil {
		log.Warn("could not load calibration, starting uncalibrated", "error", err)
	}
	return c
}

// NewWithFile is a convenience wrapper persisting to a JSON file.
func NewWithFile(path string) *Calibrator {
	return NewWithStore(NewJSONStore(path))
}

// Calibrate fits a transform over the given corresponding point
// lists. Exactly 2 pairs fit the independent-axis form; more fit the
// least-squares affine. The result is persisted on success.
func (c *Calibrator) Calibrate(pixelPts []Pixel, worldPts []World) error {
	if len(pixelPts) != len(worldPts) || len(pixelPts) < 2 {
		return ErrInsufficientPoints
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(pixelPts) == 2 {
		t := fitTwoPoint(pixelPts, worldPts)
		c.linear = &t
		c.affine = nil
		log.Info("2-point calibration fitted",
			"x_scale", t.XScale, "x_offset", t.XOffset,
			"y_scale", t.YScale, "y_offset", t.YOffset)
	} else {
		t, err := fitLeastSquares(pixelPts, worldPts)
		if err != nil {
			return err
		}
		c.affine = &t
		c.linear = nil
		log.Info("least-squares calibration fitted", "points", len(pixelPts))
	}

	c.pixelPts = append([]Pixel(nil), pixelPts...)
	c.worldPts = append([]World(nil), worldPts...)
	c.calibrated = true

	if err := c.save(); err != nil {
		log.Warn("calibration fitted but not persisted", "error", err)
	}
	return nil
}

// fitTwoPoint computes per-axis scale = Δworld/Δpixel and
// offset = world0 - scale*pixel0.
func fitTwoPoint(px []Pixel, w []World) linearTransform {
	xScale := (w[1].X - w[0].X) / (px[1].X - px[0].X)
	yScale := (w[1].Y - w[0].Y) / (px[1].Y - px[0].Y)
	return linearTransform{
		XScale:  xScale,
		XOffset: w[0].X - xScale*px[0].X,
		YScale:  yScale,
		YOffset: w[0].Y - yScale*px[0].Y,
	}
}

// fitLeastSquares solves min ||A·θ − world||² per world axis, where
// A's rows are [px, py, 1].
func fitLeastSquares(px []Pixel, w []World) (affineTransform, error) {
	n := len(px)
	a := mat.NewDense(n, 3, nil)
	bx := mat.NewVecDense(n, nil)
	by := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		a.Set(i, 0, px[i].X)
		a.Set(i, 1, px[i].Y)
		a.Set(i, 2, 1)
		bx.SetVec(i, w[i].X)
		by.SetVec(i, w[i].Y)
	}

	var qr mat.QR
	qr.Factorize(a)

	var t affineTransform
	for axis, b := range []*mat.VecDense{bx, by} {
		var theta mat.Dense
		if err := qr.SolveTo(&theta, false, b); err != nil {
			return affineTransform{}, errors.New("calibration: degenerate point set, least-squares solve failed")
		}
		for j := 0; j < 3; j++ {
			t.Coef[axis][j] = theta.At(j, 0)
		}
	}
	return t, nil
}

// ImageToRobot converts pixel coordinates to robot coordinates using
// whichever transform is active. When uncalibrated it falls back to
// the built-in default anchors, so it never fails outright.
func (c *Calibrator) ImageToRobot(px, py float64) World {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case c.calibrated && c.affine != nil:
		return c.affine.apply(px, py)
	case c.calibrated && c.linear != nil:
		return c.linear.apply(px, py)
	default:
		log.Warn("hand-eye calibration not available, using default transform")
		t := fitTwoPoint(defaultPixels[:], defaultWorlds[:])
		return t.apply(px, py)
	}
}

// RobotToImage converts robot coordinates back to pixel coordinates.
// Only the 2-point form has a closed-form inverse; the affine form
// returns ErrInverseUnavailable. Uncalibrated calibrators also fail:
// the default transform is a convenience for the forward direction
// only.
func (c *Calibrator) RobotToImage(wx, wy float64) (Pixel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.calibrated {
		return Pixel{}, ErrInverseUnavailable
	}
	if c.linear == nil {
		return Pixel{}, ErrInverseUnavailable
	}
	return c.linear.invert(wx, wy), nil
}

// IsCalibrated reports whether an explicit calibration is active.
func (c *Calibrator) IsCalibrated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calibrated
}

// Points returns copies of the stored calibration point lists.
func (c *Calibrator) Points() ([]Pixel, []World) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Pixel(nil), c.pixelPts...), append([]World(nil), c.worldPts...)
}

// Validate recomputes the forward transform over the stored
// calibration set and reports the mean reprojection error in
// millimetres, plus whether it falls under ValidationThreshold.
// This is a self-check, not a gate: an invalid calibration keeps
// working.
func (c *Calibrator) Validate() (meanError float64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.calibrated || len(c.pixelPts) == 0 {
		return 0, false
	}

	total := 0.0
	for i, p := range c.pixelPts {
		var got World
		if c.affine != nil {
			got = c.affine.apply(p.X, p.Y)
		} else {
			got = c.linear.apply(p.X, p.Y)
		}
		want := c.worldPts[i]
		total += math.Hypot(got.X-want.X, got.Y-want.Y)
	}

	meanError = total / float64(len(c.pixelPts))
	log.Info("calibration validation", "mean_error_mm", meanError)
	return meanError, meanError < ValidationThreshold
}

// save persists the current calibration. Caller must hold c.mu.
func (c *Calibrator) save() error {
	if c.store == nil {
		return nil
	}
	rec := record{
		PixelPoints: c.pixelPts,
		WorldPoints: c.worldPts,
		Calibrated:  c.calibrated,
		Linear:      c.linear,
		Affine:      c.affine,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return c.store.Save(data)
}

// load restores a persisted calibration, if any.
func (c *Calibrator) load() error {
	if c.store == nil {
		return nil
	}
	data, err := c.store.Load()
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pixelPts = rec.PixelPoints
	c.worldPts = rec.WorldPoints
	c.calibrated = rec.Calibrated
	c.linear = rec.Linear
	c.affine = rec.Affine
	if c.calibrated {
		log.Info("calibration loaded", "points", len(c.pixelPts))
	}
	return nil
}
