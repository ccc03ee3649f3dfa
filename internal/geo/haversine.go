package geo

import "math"

const earthRadiusMeters = 6371008.8

type Point struct {
	Lat float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Lng float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := lat2 - lat1
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Within reports whether b lies within radius meters of a.
func Within(a, b Point, radiusMeters float64) bool {
	return Distance(a, b) <= radiusMeters
}

// Box is a lat/lng rectangle that contains every point within a radius of its center.
// MinLng > MaxLng means the box crosses the antimeridian.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// Spans splits a box that crosses the antimeridian into its two halves.
func (b Box) Spans() []Box {
	if b.MinLng <= b.MaxLng {
		return []Box{b}
	}
	east, west := b, b
	east.MaxLng = 180
	west.MinLng = -180
	return []Box{east, west}
}

// BoundingBox returns the rectangle enclosing the circle of radiusMeters around center.
// Near the poles the longitude span widens to the full range.
func BoundingBox(center Point, radiusMeters float64) Box {
	dLat := degrees(radiusMeters / earthRadiusMeters)
	b := Box{
		MinLat: math.Max(-90, center.Lat-dLat),
		MaxLat: math.Min(90, center.Lat+dLat),
		MinLng: -180,
		MaxLng: 180,
	}
	cos := math.Cos(radians(center.Lat))
	if cos > 1e-9 {
		dLng := degrees(radiusMeters / (earthRadiusMeters * cos))
		if dLng < 180 {
			b.MinLng = wrapLng(center.Lng - dLng)
			b.MaxLng = wrapLng(center.Lng + dLng)
		}
	}
	return b
}

func wrapLng(lng float64) float64 {
	switch {
	case lng < -180:
		return lng + 360
	case lng > 180:
		return lng - 360
	}
	return lng
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }
