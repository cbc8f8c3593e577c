package service

import "mobilecontrol/models"

// Point is a position in either screenshot-image or device coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ImageScale is the number of screenshot pixels per device coordinate unit.
// Orientation does not matter since the longer sides are compared.
func ImageScale(imgW, imgH int, screen *models.ScreenSize) float64 {
	if screen == nil {
		return 1
	}
	device := max(screen.Width, screen.Height)
	if device <= 0 {
		return 1
	}
	return float64(max(imgW, imgH)) / float64(device)
}

// ToDevicePoint maps a point on a screenshot of the given scale to device coordinates.
func ToDevicePoint(p Point, scale float64) Point {
	if scale <= 0 {
		return p
	}
	return Point{X: p.X / scale, Y: p.Y / scale}
}

// ToImagePoint is the inverse of ToDevicePoint.
func ToImagePoint(p Point, scale float64) Point {
	if scale <= 0 {
		return p
	}
	return Point{X: p.X * scale, Y: p.Y * scale}
}
