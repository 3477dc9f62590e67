// Package metadata turns decoded item metadata payloads into scored attributes,
// special traits and the handful of display fields reports need.
package metadata
