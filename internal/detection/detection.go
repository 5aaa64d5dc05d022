// Package detection defines the contract with the external tree-crown area
// service. The service itself is a black box; this package only fixes the
// result shape and the closed set of transport failure kinds.
package detection

import "context"

// Tree describes one detected crown.
type Tree struct {
	TreeID         int     `json:"tree_id"`
	AreaM2         float64 `json:"area_m2"`
	AreaPx         int     `json:"area_px"`
	DiameterM      float64 `json:"diameter_m"`
	CircumferenceM float64 `json:"circumference_m"`
}

// Result is the area service's answer for one image. Success=false or a
// non-positive TotalAreaM2 means no creditable area was found; that is a
// valid result, not a transport failure.
type Result struct {
	Success             bool    `json:"success"`
	Message             string  `json:"message"`
	TotalTrees          int     `json:"total_trees"`
	TotalAreaM2         float64 `json:"total_area_m2"`
	TotalCircumferenceM float64 `json:"total_circumference_m"`
	AverageAreaM2       float64 `json:"average_area_m2"`
	GSD                 float64 `json:"gsd"`
	Trees               []Tree  `json:"trees"`
}

// Client exposes the subset of the area service used by the award flow.
type Client interface {
	Detect(ctx context.Context, image []byte, mediaType, filename string, gsd float64) (*Result, error)
}
