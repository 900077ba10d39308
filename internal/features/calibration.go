package features

// Sensor calibration constants. The node reports temperature and humidity in
// physical units; dust (GP2Y10-class optical sensor) and the two MQ gas
// channels arrive as 10-bit ADC counts referenced to 5V.

const (
	adcMax       = 1023.0
	adcReference = 5.0

	// GP2Y10 linear response: density [ug/m3] = (Vo - dustZeroVoltage) * dustSlope.
	dustZeroVoltage = 0.6
	dustSlope       = 200.0

	// MQ channels are reported as a ppm-equivalent of the full-scale range.
	gasFullScalePPM = 1000.0
)

// Documented physical sensor ranges. Raw values outside these ranges are
// clamped, not rejected.
const (
	tempMinC = -40.0
	tempMaxC = 85.0

	humidityMinPct = 0.0
	humidityMaxPct = 100.0

	dustMinUgM3 = 0.0
	dustMaxUgM3 = 500.0

	gasMinPPM = 0.0
	gasMaxPPM = 1000.0
)

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// calibrateDust converts a raw ADC count to particulate density in ug/m3.
func calibrateDust(adc float64) float64 {
	v := clamp(adc, 0, adcMax) / adcMax * adcReference
	density := (v - dustZeroVoltage) * dustSlope
	return clamp(density, dustMinUgM3, dustMaxUgM3)
}

// calibrateGas converts a raw MQ-series ADC count to a ppm-equivalent value.
func calibrateGas(adc float64) float64 {
	ppm := clamp(adc, 0, adcMax) / adcMax * gasFullScalePPM
	return clamp(ppm, gasMinPPM, gasMaxPPM)
}

// calibrateTemperature clamps a reported Celsius reading to the sensor's
// documented range.
func calibrateTemperature(c float64) float64 {
	return clamp(c, tempMinC, tempMaxC)
}

// calibrateHumidity clamps a reported relative-humidity percentage.
func calibrateHumidity(pct float64) float64 {
	return clamp(pct, humidityMinPct, humidityMaxPct)
}
