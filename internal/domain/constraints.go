package domain

import "fmt"

type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

// VideoConstraints bounds the capture resolution. Zero means unbounded.
type VideoConstraints struct {
	MinWidth    int
	IdealWidth  int
	MaxWidth    int
	MinHeight   int
	IdealHeight int
	MaxHeight   int
	FacingMode  FacingMode
}

// Constraints describes the local media a call wants. Video nil means audio only.
type Constraints struct {
	Audio bool
	Video *VideoConstraints
}

// DefaultConstraints is what the consultation screen asks for.
func DefaultConstraints() Constraints {
	return Constraints{
		Audio: true,
		Video: &VideoConstraints{
			MinWidth:    640,
			IdealWidth:  1280,
			MaxWidth:    1920,
			MinHeight:   480,
			IdealHeight: 720,
			MaxHeight:   1080,
			FacingMode:  FacingUser,
		},
	}
}

// Validate rejects constraints no device could ever satisfy.
func (c Constraints) Validate() error {
	if !c.Audio && c.Video == nil {
		return NewMediaAccessError(ErrConstraintsUnsatisfiable, fmt.Errorf("neither audio nor video requested"))
	}
	if c.Video == nil {
		return nil
	}
	v := c.Video
	if err := checkRange("width", v.MinWidth, v.IdealWidth, v.MaxWidth); err != nil {
		return NewMediaAccessError(ErrConstraintsUnsatisfiable, err)
	}
	if err := checkRange("height", v.MinHeight, v.IdealHeight, v.MaxHeight); err != nil {
		return NewMediaAccessError(ErrConstraintsUnsatisfiable, err)
	}
	switch v.FacingMode {
	case "", FacingUser, FacingEnvironment:
	default:
		return NewMediaAccessError(ErrConstraintsUnsatisfiable, fmt.Errorf("unknown facing mode %q", v.FacingMode))
	}
	return nil
}

func checkRange(name string, lo, ideal, hi int) error {
	if lo < 0 || ideal < 0 || hi < 0 {
		return fmt.Errorf("%s: negative bound", name)
	}
	if hi > 0 && lo > hi {
		return fmt.Errorf("%s: min %d above max %d", name, lo, hi)
	}
	if ideal > 0 && (ideal < lo || (hi > 0 && ideal > hi)) {
		return fmt.Errorf("%s: ideal %d outside [%d, %d]", name, ideal, lo, hi)
	}
	return nil
}
