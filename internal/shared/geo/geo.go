package geo

import "github.com/golang/geo/s2"

const earthRadiusKm = 6371.0088

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// HaversineKm returns the great-circle distance between two coordinates.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lng1)
	b := s2.LatLngFromDegrees(lat2, lng2)
	return a.Distance(b).Radians() * earthRadiusKm
}

// PathKm sums the leg distances of an ordered polyline.
func PathKm(points []Point) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += HaversineKm(points[i-1].Lat, points[i-1].Lng, points[i].Lat, points[i].Lng)
	}
	return total
}

// Valid reports whether p is a usable WGS84 coordinate.
func (p Point) Valid() bool {
	return s2.LatLngFromDegrees(p.Lat, p.Lng).IsValid()
}
