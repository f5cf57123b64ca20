package refraction

import (
	"math"
	"math/cmplx"
)

// Mode selects the magneto-ionic root.
type Mode int

const (
	// Ordinary is the O-mode root.
	Ordinary Mode = iota
	// Extraordinary is the X-mode root.
	Extraordinary
	// NoField ignores the geomagnetic field (n² = 1 − X/U).
	NoField
)

func (m Mode) String() string {
	switch m {
	case Ordinary:
		return "O"
	case Extraordinary:
		return "X"
	case NoField:
		return "no_field"
	default:
		return "unknown"
	}
}

// ParseMode parses "O", "X" or "no_field" (case-sensitive aliases "o", "x",
// "none" accepted).
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "O", "o", "ordinary":
		return Ordinary, true
	case "X", "x", "extraordinary":
		return Extraordinary, true
	case "no_field", "none":
		return NoField, true
	}
	return Ordinary, false
}

// Swap returns the other magneto-ionic root. NoField is unchanged.
func (m Mode) Swap() Mode {
	switch m {
	case Ordinary:
		return Extraordinary
	case Extraordinary:
		return Ordinary
	}
	return m
}

// Physical constants.
const (
	// GyroMHzPerNT is the electron gyrofrequency per unit field, MHz/nT.
	GyroMHzPerNT = 2.799249e-5
	// SpeedOfLightKmS is c in km/s.
	SpeedOfLightKmS = 299792.458
	// NepersToDB converts amplitude nepers to dB.
	NepersToDB = 8.685889638
)

// magnetoIonic holds the dimensionless plasma parameters at a point.
// y is the normalised gyro vector (fH/f per component, up/along/cross).
type magnetoIonic struct {
	x float64
	y [3]float64
	z float64
}

// appletonHartree evaluates complex n² for a wave normal at angle psi from
// the vertical in the up/along plane. The form multiplied through by
// 2(U−X) keeps each root continuous through X = 1.
func appletonHartree(p magnetoIonic, psi float64, mode Mode) (complex128, bool) {
	u := complex(1, -p.z)
	x := complex(p.x, 0)
	if mode == NoField {
		return 1 - x/u, true
	}

	y2 := p.y[0]*p.y[0] + p.y[1]*p.y[1] + p.y[2]*p.y[2]
	yl := p.y[0]*math.Cos(psi) + p.y[1]*math.Sin(psi)
	yt2 := y2 - yl*yl
	if yt2 < 0 {
		yt2 = 0
	}

	ux := u - x
	root := cmplx.Sqrt(complex(yt2*yt2, 0) + 4*ux*ux*complex(yl*yl, 0))
	sign := complex(1, 0)
	if mode == Extraordinary {
		sign = -1
	}
	den := 2*u*ux - complex(yt2, 0) + sign*root
	if cmplx.Abs(den) < 1e-12 {
		return 0, false
	}
	return 1 - 2*x*ux/den, true
}

// mu2 is the real part of n².
func mu2(p magnetoIonic, psi float64, mode Mode) (float64, bool) {
	n2, ok := appletonHartree(p, psi, mode)
	return real(n2), ok
}

// partials holds ∂M/∂X, ∂M/∂Yi, ∂M/∂Z and ∂M/∂ψ.
type partials struct {
	x, z, psi float64
	y         [3]float64
}

// magnetoPartials differentiates M numerically in parameter space, which is
// always well defined even where the grid query would leave the domain.
func magnetoPartials(p magnetoIonic, psi float64, mode Mode) partials {
	var d partials
	central := func(f func(h float64) float64, scale float64) float64 {
		h := 1e-6 * math.Max(math.Abs(scale), 1e-3)
		return (f(h) - f(-h)) / (2 * h)
	}
	eval := func(q magnetoIonic, ps float64) float64 {
		m, _ := mu2(q, ps, mode)
		return m
	}

	d.x = central(func(h float64) float64 {
		q := p
		q.x += h
		return eval(q, psi)
	}, p.x)
	d.z = central(func(h float64) float64 {
		q := p
		q.z += h
		return eval(q, psi)
	}, p.z)
	if mode == NoField {
		return d
	}
	for i := 0; i < 3; i++ {
		i := i
		d.y[i] = central(func(h float64) float64 {
			q := p
			q.y[i] += h
			return eval(q, psi)
		}, p.y[i])
	}
	d.psi = central(func(h float64) float64 {
		return eval(p, psi+h)
	}, 1)
	return d
}
