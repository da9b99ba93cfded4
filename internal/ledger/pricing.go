package ledger

import (
	"math"

	"github.com/postloom/postloom/internal/models"
)

// Magnitude is how much of a service one operation consumed. Token services
// read the unit fields, duration services read DurationSecs and WithAudio.
type Magnitude struct {
	InputUnits   int64
	OutputUnits  int64
	DurationSecs float64
	WithAudio    bool
}

// Per-1000-unit token rates.
const (
	textRateIn  = 0.05
	textRateOut = 0.15
	chatRateIn  = 0.03
	chatRateOut = 0.06
	adRateIn    = 0.05
	adRateOut   = 0.20
)

const (
	imageCost = 1.0

	dubbingPerMinute = 2.0
	// A dub shorter than half a minute still bills half a minute.
	dubbingMinMinutes = 0.5

	videoBucketShort = 5.0  // 5s clip
	videoBucketLong  = 10.0 // 10s clip
)

var minimumFloors = map[string]float64{
	models.ServiceTextGeneration:  0.01,
	models.ServiceImageGeneration: imageCost,
	models.ServiceChat:            0.01,
	models.ServiceAdCopy:          0.05,
	models.ServiceVideoGeneration: videoBucketShort,
	models.ServiceVideoDubbing:    dubbingPerMinute * dubbingMinMinutes,
}

// MinimumFloor returns the smallest charge the given service can produce.
func MinimumFloor(service string) float64 {
	return minimumFloors[service]
}

// Cost computes the credit charge for one operation. It is pure and
// deterministic: the charge is computed exactly once, at recording time, and
// never recomputed retroactively. Results are rounded to 2 decimal places
// before the per-service floor is applied.
func Cost(service string, m Magnitude) float64 {
	var cost float64

	switch service {
	case models.ServiceTextGeneration:
		cost = tokenCost(m, textRateIn, textRateOut)
	case models.ServiceChat:
		cost = tokenCost(m, chatRateIn, chatRateOut)
	case models.ServiceAdCopy:
		cost = tokenCost(m, adRateIn, adRateOut)
	case models.ServiceImageGeneration:
		cost = imageCost
	case models.ServiceVideoDubbing:
		minutes := m.DurationSecs / 60
		if minutes < dubbingMinMinutes {
			minutes = dubbingMinMinutes
		}
		cost = minutes * dubbingPerMinute
	case models.ServiceVideoGeneration:
		cost = videoBucketShort
		if m.DurationSecs > 5 {
			cost = videoBucketLong
		}
		if m.WithAudio {
			cost *= 2
		}
	default:
		return 0
	}

	cost = round2(cost)
	if floor := minimumFloors[service]; cost < floor {
		cost = floor
	}
	return cost
}

func tokenCost(m Magnitude, rateIn, rateOut float64) float64 {
	return float64(m.InputUnits)/1000*rateIn + float64(m.OutputUnits)/1000*rateOut
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
