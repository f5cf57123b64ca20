package raytrace

import (
	"errors"
	"fmt"
)

// ErrStepTooSmall is the cause of a DIVERGED ray: the local error test
// failed at the minimum step.
var ErrStepTooSmall = errors.New("raytrace: step rejected at minimum step size")

// errSingular marks a derivative evaluation that produced a non-finite or
// degenerate result (for example a zero group factor at a resonance).
var errSingular = errors.New("raytrace: singular ray equations")

// IntegrationError records where a ray stopped integrating.
type IntegrationError struct {
	GroupPath   float64
	GroundRange float64
	Height      float64
	Step        float64
	Err         error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("integration stopped at group path %.3f km (range %.3f km, height %.3f km, step %g km): %v",
		e.GroupPath, e.GroundRange, e.Height, e.Step, e.Err)
}

func (e *IntegrationError) Unwrap() error { return e.Err }
