package domain

import "strings"

var unitAliases = map[string]string{
	"k":        "K",
	"kelvin":   "K",
	"degc":     "degC",
	"c":        "degC",
	"°c":       "degC",
	"celsius":  "degC",
	"degf":     "degF",
	"f":        "degF",
	"°f":       "degF",
	"pa":       "Pa",
	"hpa":      "hPa",
	"mb":       "hPa",
	"mbar":     "hPa",
	"m":        "m",
	"mm":       "mm",
	"kg m-2":   "mm",
	"kg m**-2": "mm",
	"kg/m^2":   "mm",
	"m s-1":    "m s-1",
	"m s**-1":  "m s-1",
	"m/s":      "m s-1",
	"kt":       "kt",
	"knots":    "kt",
	"%":        "%",
}

type unitPair struct{ from, to string }

var unitConversions = map[unitPair]func(float64) float64{
	{"K", "degC"}:     func(v float64) float64 { return v - 273.15 },
	{"degC", "K"}:     func(v float64) float64 { return v + 273.15 },
	{"K", "degF"}:     func(v float64) float64 { return (v-273.15)*9/5 + 32 },
	{"degF", "K"}:     func(v float64) float64 { return (v-32)*5/9 + 273.15 },
	{"degC", "degF"}:  func(v float64) float64 { return v*9/5 + 32 },
	{"degF", "degC"}:  func(v float64) float64 { return (v - 32) * 5 / 9 },
	{"Pa", "hPa"}:     func(v float64) float64 { return v / 100 },
	{"hPa", "Pa"}:     func(v float64) float64 { return v * 100 },
	{"m", "mm"}:       func(v float64) float64 { return v * 1000 },
	{"mm", "m"}:       func(v float64) float64 { return v / 1000 },
	{"m s-1", "kt"}:   func(v float64) float64 { return v * 3600 / 1852 },
	{"kt", "m s-1"}:   func(v float64) float64 { return v * 1852 / 3600 },
}

// NormalizeUnit maps common spellings onto one canonical unit name.
// Unknown units are returned trimmed but otherwise unchanged.
func NormalizeUnit(u string) string {
	u = strings.TrimSpace(u)
	if c, ok := unitAliases[strings.ToLower(u)]; ok {
		return c
	}
	return u
}

// ConvertUnit returns a function converting values from one unit to another.
func ConvertUnit(from, to string) (func(float64) float64, error) {
	f, t := NormalizeUnit(from), NormalizeUnit(to)
	if f == t {
		return func(v float64) float64 { return v }, nil
	}
	if conv, ok := unitConversions[unitPair{f, t}]; ok {
		return conv, nil
	}
	return nil, NewError(ErrUnitMismatch, "no conversion from %q to %q", from, to)
}

// SameUnit reports whether two unit strings name the same unit.
func SameUnit(a, b string) bool { return NormalizeUnit(a) == NormalizeUnit(b) }
