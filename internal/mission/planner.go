// Package mission builds patrol flight plans.
package mission

import "math"

const (
	// meters per degree of latitude, good enough for patrol-scale paths
	metersPerDegLat = 111_000.0
	// floor for |cos(lat)| so the longitude delta stays finite near the poles
	minCosLat = 0.2
)

// Waypoint is one corner of a flight plan. Immutable once constructed.
type Waypoint struct {
	LatitudeDeg  float64
	LongitudeDeg float64
	AltitudeM    float64
	SpeedMps     float64
	FlyThrough   bool
}

// Plan is an ordered sequence of waypoints forming a closed loop: the last
// waypoint is the origin the plan was built from.
type Plan struct {
	Items []Waypoint
}

// Params holds the patrol geometry. The zero value is not usable; start from
// DefaultParams.
type Params struct {
	AltitudeM float64
	SideM     float64
	SpeedMps  float64
}

func DefaultParams() Params {
	return Params{AltitudeM: 5.0, SideM: 10.0, SpeedMps: 5.0}
}

// BuildPatrol computes a 4-corner closed square patrol with one corner at
// (latDeg, lonDeg). All waypoints share the same altitude and speed and are
// fly-through, so the vehicle does not stop at corners. Pure computation, no
// side effects.
func BuildPatrol(latDeg, lonDeg float64, p Params) Plan {
	dlat := p.SideM / metersPerDegLat
	cosLat := math.Abs(math.Cos(latDeg * math.Pi / 180.0))
	dlon := p.SideM / (metersPerDegLat * math.Max(minCosLat, cosLat))

	corners := [4][2]float64{
		{latDeg + dlat, lonDeg},
		{latDeg + dlat, lonDeg + dlon},
		{latDeg, lonDeg + dlon},
		{latDeg, lonDeg},
	}

	items := make([]Waypoint, len(corners))
	for i, c := range corners {
		items[i] = Waypoint{
			LatitudeDeg:  c[0],
			LongitudeDeg: c[1],
			AltitudeM:    p.AltitudeM,
			SpeedMps:     p.SpeedMps,
			FlyThrough:   true,
		}
	}

	return Plan{Items: items}
}
