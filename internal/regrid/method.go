package regrid

import (
	"strings"

	"go.ngs.io/wxgrid/internal/domain"
)

// Method selects a regridding algorithm.
type Method string

const (
	Bilinear     Method = "bilinear"
	Conservative Method = "conservative"
	NearestS2D   Method = "nearest_s2d"
	NearestD2S   Method = "nearest_d2s"
)

// Methods lists the supported methods in a stable order.
func Methods() []Method {
	return []Method{Bilinear, Conservative, NearestS2D, NearestD2S}
}

// Valid reports whether m is a supported method.
func (m Method) Valid() bool {
	switch m {
	case Bilinear, Conservative, NearestS2D, NearestD2S:
		return true
	}
	return false
}

// ParseMethod resolves a method name, case-insensitively.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", domain.NewError(domain.ErrUnsupportedMethod, "%q (supported: bilinear, conservative, nearest_s2d, nearest_d2s)", s)
	}
	return m, nil
}

// renormalizes reports whether missing source cells are dropped from a
// target's contributors instead of making the target missing.
func (m Method) renormalizes() bool { return m == Conservative }
