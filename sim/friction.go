package sim

import "math"

// Physical constants, SI units. The Hazen-Williams and Darcy-Weisbach
// factors match Table 3.1 of the EPANET 2 manual.
const (
	HwK  = 10.67   // Hazen-Williams resistance factor
	DwK  = 0.0826  // Darcy-Weisbach factor
	Htol = 0.00015 // head tolerance, m
	Qtol = 2.8e-5  // flow tolerance, m^3/s
	Grav = 9.81    // m/s^2
)

// Smoothed Hazen-Williams loss curve. The true Q^1.852 law has an unbounded
// derivative at Q=0, which stalls Newton iterations; below lossQ1 the curve
// is linear, above lossQ2 it is the true power law, and in between a cubic
// blends the two with matching value and slope at both knots.
const (
	lossQ1 = 0.00349347323944
	lossQ2 = 0.00549347323944

	lossA0 = 2.45944613543e-06
	lossA1 = 0.0138413824671
	lossA2 = -2.80374270811
	lossA3 = 430.125623753

	hwExp = 1.852
)

// Loss evaluates the smoothed friction-loss factor at flow magnitude Q >= 0.
// Multiply by the pipe resistance coefficient and the flow sign to get head
// loss.
func Loss(q float64) float64 {
	switch {
	case q < lossQ1:
		return 0.01 * q
	case q > lossQ2:
		return math.Pow(q, hwExp)
	default:
		return lossA0 + q*(lossA1+q*(lossA2+q*lossA3))
	}
}

// LossDeriv is the first derivative of Loss. Continuous everywhere,
// including at the blend knots.
func LossDeriv(q float64) float64 {
	switch {
	case q < lossQ1:
		return 0.01
	case q > lossQ2:
		return hwExp * math.Pow(q, hwExp-1)
	default:
		return lossA1 + q*(2*lossA2+q*3*lossA3)
	}
}

// PipeResistance computes the Hazen-Williams resistance coefficient for a
// pipe: HwK * C^-1.852 * d^-4.871 * L.
func PipeResistance(p *Pipe) float64 {
	return HwK * math.Pow(p.Roughness, -hwExp) * math.Pow(p.Diameter, -4.871) * p.Length
}

// ValveResistance computes the minor-loss coefficient of a fully open PRV:
// 0.02 * DwK * 2d / d^5.
func ValveResistance(v *Valve) float64 {
	return 0.02 * DwK * (2 * v.Diameter) / math.Pow(v.Diameter, 5)
}

// PipeHeadloss returns the signed head loss across a pipe at the given flow
// using the smoothed law.
func PipeHeadloss(resistance, flow float64) float64 {
	sign := 1.0
	if flow < 0 {
		sign = -1.0
	}
	return sign * resistance * Loss(math.Abs(flow))
}

// PipeHeadlossUnmodified returns the head loss using the raw Hazen-Williams
// law Q*|Q|^0.852. Kept for comparison runs; it loses the smoothing benefit
// near zero flow.
func PipeHeadlossUnmodified(resistance, flow float64) float64 {
	return resistance * flow * math.Pow(math.Abs(flow), hwExp-1)
}
