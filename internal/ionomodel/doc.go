// Package ionomodel generates 2D ionospheric grids along a great-circle
// path from analytic models, for use with the ray tracer.
package ionomodel
