// Package sensors maps Torque PID keys to display names.
package sensors

import "sort"

var names = map[string]string{
	"kc":      "Engine RPM",
	"kd":      "Speed (OBD)",
	"kff1001": "Speed (GPS)",
	"k5":      "Engine Coolant Temperature",
	"kf":      "Intake Air Temperature",
	"k5c":     "Engine Oil Temperature",
	"kb":      "Intake Manifold Pressure",
	"k4":      "Engine Load",
	"k10":     "Mass Air Flow Rate",
	"k42":     "Voltage (Control Module)",
	"kff1225": "Torque",
	"kff1226": "Horsepower (At the wheels)",
	"kff1202": "Turbo Boost & Vacuum Gauge",
	"k2f":     "Fuel Level (From Engine ECU)",
	"kff125a": "Fuel flow rate/minute",
	"kff1201": "Miles Per Gallon(Instant)",
	"ke":      "Timing Advance",
	"k11":     "Throttle Position(Manifold)",
	"k45":     "Relative Throttle Position",
}

// Name returns the display name for key, or "" when unknown.
func Name(key string) string {
	return names[key]
}

type Sensor struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Describe pairs each value with its display name, falling back to the key
// itself. Output is sorted by key.
func Describe(values map[string]string) []Sensor {
	out := make([]Sensor, 0, len(values))
	for k, v := range values {
		name := names[k]
		if name == "" {
			name = k
		}
		out = append(out, Sensor{Key: k, Name: name, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
