package kinematic

import (
	"math"
	"strings"
)

// Defaults for parameters a vType leaves unset
const (
	defaultAccel    = 2.6
	defaultDecel    = 4.5
	defaultTau      = 1.0
	defaultMinGap   = 2.5
	defaultLength   = 5.0
	defaultMaxSpeed = 55.55
	defaultDelta    = 4.0
)

// leaderInfo describes the vehicle ahead on the same lane
type leaderInfo struct {
	gap   float64
	speed float64
}

// law computes the speed a follower chooses for the next step
type law func(vt VType, speed float64, leader *leaderInfo, dt float64) float64

var laws = map[string]law{
	"idm":    idmSpeed,
	"krauss": kraussSpeed,
}

func lookupLaw(model string) (law, bool) {
	l, ok := laws[strings.ToLower(model)]
	return l, ok
}

// idmSpeed is the Intelligent Driver Model with an Euler update
func idmSpeed(vt VType, v float64, leader *leaderInfo, dt float64) float64 {
	a := vt.Param("accel", defaultAccel)
	b := vt.Param("decel", defaultDecel)
	v0 := vt.Param("maxSpeed", defaultMaxSpeed)
	delta := vt.Param("delta", defaultDelta)

	acc := a * (1 - math.Pow(v/v0, delta))
	if leader != nil {
		s0 := vt.Param("minGap", defaultMinGap)
		tau := vt.Param("tau", defaultTau)
		dv := v - leader.speed
		sStar := s0 + math.Max(0, v*tau+v*dv/(2*math.Sqrt(a*b)))
		gap := math.Max(leader.gap, 0.01)
		acc -= a * (sStar / gap) * (sStar / gap)
	}
	return math.Max(0, v+acc*dt)
}

// kraussSpeed is the Krauss safe speed without the random dawdling term
func kraussSpeed(vt VType, v float64, leader *leaderInfo, dt float64) float64 {
	a := vt.Param("accel", defaultAccel)
	b := vt.Param("decel", defaultDecel)
	vmax := vt.Param("maxSpeed", defaultMaxSpeed)

	next := math.Min(v+a*dt, vmax)
	if leader != nil {
		tau := vt.Param("tau", defaultTau)
		gap := leader.gap - vt.Param("minGap", defaultMinGap)
		vl := leader.speed
		vsafe := vl + (gap-vl*tau)/((v+vl)/(2*b)+tau)
		next = math.Min(next, vsafe)
	}
	return math.Max(0, math.Max(next, v-b*dt))
}
