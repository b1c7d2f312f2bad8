package fare

import (
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// Client is the external routing lookup used to refine duration
// estimates. It is optional; without one the naive estimator is used.
type Client interface {
	EstimateSeconds(from, to models.Coord) (float64, error)
}

// Rates is the pricing structure: price = base + perKm*km + perMin*min.
type Rates struct {
	Base            float64
	PerKm           float64
	PerMin          float64
	DefaultSpeedMps float64
}

// Estimate is the initial distance/duration/price quote attached to a
// ride at request time.
type Estimate struct {
	DistanceM float64
	DurationS float64
	Price     float64
}

type Estimator struct {
	Rates   Rates
	Routing Client // optional routing engine
	Cache   *Cache // optional duration cache
}

func (e *Estimator) Estimate(pickup, dropoff models.Coord) Estimate {
	distM := geo.Haversine(pickup.Lat, pickup.Lng, dropoff.Lat, dropoff.Lng)
	durS := e.durationSeconds(pickup, dropoff, distM)

	price := e.Rates.Base + e.Rates.PerKm*(distM/1000) + e.Rates.PerMin*(durS/60)
	return Estimate{DistanceM: distM, DurationS: durS, Price: price}
}

func (e *Estimator) durationSeconds(from, to models.Coord, distM float64) float64 {
	if e.Cache != nil {
		if v, ok := e.Cache.Get(from, to); ok {
			return v
		}
	}
	if e.Routing != nil {
		if v, err := e.Routing.EstimateSeconds(from, to); err == nil {
			if e.Cache != nil {
				e.Cache.Set(from, to, v)
			}
			return v
		}
	}
	return naiveSeconds(distM, e.Rates.DefaultSpeedMps)
}

// Naive duration: distance / speed. In prod use a routing engine.
func naiveSeconds(distM, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h default city speed
	}
	return distM / speedMps
}
