package geo

import "math"

const (
	earthRadiusKm     = 6371
	earthRadiusMeters = 6371000
)

// Point is an immutable latitude/longitude pair in decimal degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

func haversine(a, b Point, radius float64) float64 {
	dLat := toRad(b.Latitude - a.Latitude)
	dLon := toRad(b.Longitude - a.Longitude)

	h := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(toRad(a.Latitude))*math.Cos(toRad(b.Latitude))*math.Pow(math.Sin(dLon/2), 2)

	return radius * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Haversine returns the great-circle distance between two points in kilometers.
func Haversine(a, b Point) float64 {
	return haversine(a, b, earthRadiusKm)
}

// HaversineMeters returns the great-circle distance between two points in meters.
func HaversineMeters(a, b Point) float64 {
	return haversine(a, b, earthRadiusMeters)
}

// InterpolateRoute densifies a coarse polyline so that consecutive points are
// no farther apart than stepMeters. Intermediate points are placed by linear
// interpolation in raw lat/lon space, which is acceptable at small step sizes.
// The first point of the polyline is always preserved.
func InterpolateRoute(polyline []Point, stepMeters float64) []Point {
	if len(polyline) == 0 {
		return nil
	}
	if stepMeters <= 0 {
		return append([]Point(nil), polyline...)
	}

	track := []Point{polyline[0]}
	for i := 1; i < len(polyline); i++ {
		prev := polyline[i-1]
		next := polyline[i]

		dist := HaversineMeters(prev, next)
		if dist <= stepMeters {
			track = append(track, next)
			continue
		}

		steps := int(math.Ceil(dist / stepMeters))
		for s := 1; s <= steps; s++ {
			t := float64(s) / float64(steps)
			track = append(track, Point{
				Latitude:  prev.Latitude + (next.Latitude-prev.Latitude)*t,
				Longitude: prev.Longitude + (next.Longitude-prev.Longitude)*t,
			})
		}
	}

	return track
}
