package detect

import (
	"fmt"
	"sync"
)

// MinROIEdge is the smallest allowed ROI edge length in normalized units.
// Smaller regions cover too few pixels to give a stable motion level.
const MinROIEdge = 0.05

// ROI is a region of interest in normalized coordinates relative to the
// frame: all four values are in [0,1] with Left < Right and Top < Bottom.
type ROI struct {
	Left   float64 `yaml:"left" json:"left"`
	Top    float64 `yaml:"top" json:"top"`
	Right  float64 `yaml:"right" json:"right"`
	Bottom float64 `yaml:"bottom" json:"bottom"`
}

// DefaultROI is the centered region used when no ROI has been configured,
// matching the 0.3..0.7 default of the original mobile app.
var DefaultROI = ROI{Left: 0.3, Top: 0.3, Right: 0.7, Bottom: 0.7}

// Validate reports whether r is a well-formed normalized rectangle with a
// minimum edge length of [MinROIEdge].
func (r ROI) Validate() error {
	if r.Left < 0 || r.Right > 1 || r.Top < 0 || r.Bottom > 1 {
		return fmt.Errorf("roi: coordinates %v outside [0,1]", r)
	}
	if r.Right-r.Left < MinROIEdge {
		return fmt.Errorf("roi: width %.3f below minimum %.2f", r.Right-r.Left, MinROIEdge)
	}
	if r.Bottom-r.Top < MinROIEdge {
		return fmt.Errorf("roi: height %.3f below minimum %.2f", r.Bottom-r.Top, MinROIEdge)
	}
	return nil
}

// PixelRect is an ROI resolved against a concrete frame size.
type PixelRect struct {
	Left, Top, Right, Bottom int
}

// Area returns the number of pixels covered by the rectangle.
func (p PixelRect) Area() int {
	return (p.Right - p.Left) * (p.Bottom - p.Top)
}

// Pixels converts r to pixel bounds for a width×height frame. Out-of-range
// regions are clamped to the frame rather than rejected, so a stale ROI can
// never make the analyzer index out of bounds; the caller must still check
// [PixelRect.Area] for zero.
func (r ROI) Pixels(width, height int) PixelRect {
	p := PixelRect{
		Left:   int(r.Left * float64(width)),
		Top:    int(r.Top * float64(height)),
		Right:  int(r.Right * float64(width)),
		Bottom: int(r.Bottom * float64(height)),
	}
	if p.Left < 0 {
		p.Left = 0
	}
	if p.Top < 0 {
		p.Top = 0
	}
	if p.Right > width {
		p.Right = width
	}
	if p.Bottom > height {
		p.Bottom = height
	}
	if p.Right < p.Left {
		p.Right = p.Left
	}
	if p.Bottom < p.Top {
		p.Bottom = p.Top
	}
	return p
}

// Facing selects which physical camera the active ROI belongs to.
type Facing string

const (
	FacingBack  Facing = "back"
	FacingFront Facing = "front"
)

// IsValid reports whether f is a recognised camera facing.
func (f Facing) IsValid() bool {
	return f == FacingBack || f == FacingFront
}

// ROIStore holds one ROI per camera facing plus the currently active facing.
// The motion detector reads a single consistent snapshot per frame via
// [ROIStore.Active] while the settings layer may update regions concurrently;
// switching facing swaps the active region without losing the other one.
//
// Safe for concurrent use.
type ROIStore struct {
	mu      sync.RWMutex
	regions map[Facing]ROI
	facing  Facing
}

// NewROIStore creates a store with [DefaultROI] for both facings and the
// back camera active.
func NewROIStore() *ROIStore {
	return &ROIStore{
		regions: map[Facing]ROI{
			FacingBack:  DefaultROI,
			FacingFront: DefaultROI,
		},
		facing: FacingBack,
	}
}

// Active returns the ROI for the currently active facing as one atomic
// snapshot. The returned value is a copy; an analysis pass that has read it
// is unaffected by concurrent updates.
func (s *ROIStore) Active() ROI {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regions[s.facing]
}

// Facing returns the currently active camera facing.
func (s *ROIStore) Facing() Facing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.facing
}

// Set validates r and stores it as the ROI for the currently active facing.
func (s *ROIStore) Set(r ROI) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions[s.facing] = r
	return nil
}

// SetForFacing validates r and stores it for the given facing without
// changing which facing is active.
func (s *ROIStore) SetForFacing(f Facing, r ROI) error {
	if !f.IsValid() {
		return fmt.Errorf("roi store: unknown facing %q", f)
	}
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions[f] = r
	return nil
}

// SetFacing switches the active camera facing. The previously active
// facing's ROI is retained.
func (s *ROIStore) SetFacing(f Facing) error {
	if !f.IsValid() {
		return fmt.Errorf("roi store: unknown facing %q", f)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facing = f
	return nil
}
