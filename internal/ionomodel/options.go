package ionomodel

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ModelOptions are the recognised model settings. Every field is optional
// and each model accepts only the keys listed for it:
//
//	chapman:   foF2, hmF2, ymF2 (scale height), foE, hmE, foF2_rate,
//	           magnetic_field, irregularity_*
//	parabolic: foF2, hmF2, ymF2 (semi-thickness), range_gradient,
//	           foF2_rate, magnetic_field, irregularity_*
//	vacuum:    none
type ModelOptions struct {
	// FoF2 overrides the F2 critical frequency in MHz.
	FoF2 *float64 `json:"foF2,omitempty"`
	// HmF2 overrides the F2 peak height in km.
	HmF2 *float64 `json:"hmF2,omitempty"`
	// YmF2 is the F2 scale height (chapman) or semi-thickness (parabolic), km.
	YmF2 *float64 `json:"ymF2,omitempty"`
	FoE  *float64 `json:"foE,omitempty"`
	HmE  *float64 `json:"hmE,omitempty"`

	// RangeGradient is the fractional change of foF2 per 1000 km of range.
	RangeGradient *float64 `json:"range_gradient,omitempty"`
	// FoF2Rate is the change of foF2 in MHz per hour, applied to the
	// Doppler grid.
	FoF2Rate *float64 `json:"foF2_rate,omitempty"`

	// MagneticField adds a centred-dipole geomagnetic field to the grid.
	MagneticField *bool `json:"magnetic_field,omitempty"`

	IrregularityStrength *float64 `json:"irregularity_strength,omitempty"`
	IrregularityScaleKm  *float64 `json:"irregularity_scale_km,omitempty"`
	IrregularitySeed     *uint64  `json:"irregularity_seed,omitempty"`
}

// ParseModelOptions decodes JSON model options, rejecting unknown keys.
func ParseModelOptions(data []byte) (ModelOptions, error) {
	var o ModelOptions
	if len(bytes.TrimSpace(data)) == 0 {
		return o, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&o); err != nil {
		return ModelOptions{}, fmt.Errorf("failed to parse model options: %w", err)
	}
	return o, nil
}

// set lists the keys present in o by JSON name.
func (o ModelOptions) set() map[string]float64 {
	keys := make(map[string]float64)
	add := func(name string, v *float64) {
		if v != nil {
			keys[name] = *v
		}
	}
	add("foF2", o.FoF2)
	add("hmF2", o.HmF2)
	add("ymF2", o.YmF2)
	add("foE", o.FoE)
	add("hmE", o.HmE)
	add("range_gradient", o.RangeGradient)
	add("foF2_rate", o.FoF2Rate)
	add("irregularity_strength", o.IrregularityStrength)
	add("irregularity_scale_km", o.IrregularityScaleKm)
	if o.MagneticField != nil {
		keys["magnetic_field"] = 0
	}
	if o.IrregularitySeed != nil {
		keys["irregularity_seed"] = 0
	}
	return keys
}

var modelKeys = map[Model]map[string]bool{
	Chapman: {
		"foF2": true, "hmF2": true, "ymF2": true, "foE": true, "hmE": true, "foF2_rate": true,
		"magnetic_field": true, "irregularity_strength": true, "irregularity_scale_km": true, "irregularity_seed": true,
	},
	Parabolic: {
		"foF2": true, "hmF2": true, "ymF2": true, "range_gradient": true, "foF2_rate": true,
		"magnetic_field": true, "irregularity_strength": true, "irregularity_scale_km": true, "irregularity_seed": true,
	},
	Vacuum: {},
}

// Validate rejects keys the model does not use and out-of-range values.
func (o ModelOptions) Validate(m Model) error {
	allowed := modelKeys[m]
	for key, v := range o.set() {
		if !allowed[key] {
			return fmt.Errorf("option %q is not used by model %s", key, m)
		}
		switch key {
		case "foF2", "hmF2", "ymF2", "foE", "hmE", "irregularity_scale_km":
			if !(v > 0) {
				return fmt.Errorf("option %q must be positive, got %g", key, v)
			}
		case "irregularity_strength":
			if v < 0 || v > 1 {
				return fmt.Errorf("option %q must be within [0, 1], got %g", key, v)
			}
		}
	}
	return nil
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
