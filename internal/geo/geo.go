// Package geo holds great-circle helpers shared by content search and the
// reminder scheduler.
package geo

import "math"

const earthRadiusMeters = 6371e3

// HaversineKm returns the great-circle distance between two points in km.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	φ1 := lat1 * math.Pi / 180
	φ2 := lat2 * math.Pi / 180
	dφ := (lat2 - lat1) * math.Pi / 180
	dλ := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dφ/2)*math.Sin(dφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*math.Sin(dλ/2)*math.Sin(dλ/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c / 1000
}

// Box is a lat/lng bounding rectangle.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// BoundingBox returns a rectangle that contains every point within radiusKm
// of the centre. It is meant as a coarse index filter before HaversineKm.
func BoundingBox(lat, lng, radiusKm float64) Box {
	dLat := radiusKm / 111.32
	cos := math.Cos(lat * math.Pi / 180)
	dLng := 180.0
	if cos > 1e-6 {
		dLng = math.Min(180, radiusKm/(111.32*cos))
	}
	return Box{
		MinLat: lat - dLat, MaxLat: lat + dLat,
		MinLng: lng - dLng, MaxLng: lng + dLng,
	}
}

// Offset moves a point north and east by the given distances in km. Used to
// build fixtures and synthetic fixes.
func Offset(lat, lng, northKm, eastKm float64) (float64, float64) {
	dLat := northKm / (earthRadiusMeters / 1000) * 180 / math.Pi
	dLng := eastKm / (earthRadiusMeters / 1000 * math.Cos(lat*math.Pi/180)) * 180 / math.Pi
	return lat + dLat, lng + dLng
}
