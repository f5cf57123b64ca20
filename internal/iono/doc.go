// Package iono owns the ionosphere grid model used by the ray tracer.
//
// A Grid is an immutable range × height field of electron density with
// optional collision frequency, geomagnetic field and irregularity strength.
// It is built once per trace invocation and shared read-only by every ray in
// a fan, so no locking is needed for queries.
//
// Coordinates are ground range (km along the surface from the origin) and
// height (km above the surface). Array inputs are indexed [height][range].
// Queries outside the grid return a *DomainError classifying the miss as
// AboveTop, BelowGround or BeyondRange; values are never extrapolated.
package iono
