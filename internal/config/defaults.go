package config

import (
	"time"

	"go.ngs.io/wxgrid/internal/domain"
)

// Default returns the built-in configuration.
func Default() *Config {
	disabled := false
	return &Config{
		Regions: map[string]domain.Bounds{
			"europe":   {LatMin: 30, LatMax: 72, LonMin: -25, LonMax: 45},
			"conus":    {LatMin: 20, LatMax: 55, LonMin: -130, LonMax: -60},
			"japan":    {LatMin: 20, LatMax: 50, LonMin: 120, LonMax: 155},
			"atlantic": {LatMin: 0, LatMax: 60, LonMin: -80, LonMax: 0},
			"global":   {LatMin: -90, LatMax: 90, LonMin: -180, LonMax: 180},
		},
		ReferenceGrids: map[string]GridSpec{
			"gfs_0p25":   {Resolution: 0.25, Description: "GFS 0.25 degree"},
			"global_1p0": {Resolution: 1.0, Description: "1 degree lat/lon", Region: "global"},
			"europe_0p1": {Resolution: 0.1, Description: "0.1 degree over Europe", Region: "europe"},
			"hrrr_3km":   {Resolution: 0.03, Description: "HRRR-like 3 km over CONUS", Region: "conus"},
		},
		Providers: map[string]ProviderConfig{
			"gfs_opendap": {
				Name:    "NOAA GFS (NOMADS OPeNDAP)",
				Type:    "opendap",
				BaseURL: "https://nomads.ncep.noaa.gov/dods/gfs_0p25/gfs{date}/gfs_0p25_{cycle}z",
				Variables: map[string]string{
					"t2m": "tmp2m",
					"u10": "ugrd10m",
					"v10": "vgrd10m",
					"tp":  "apcpsfc",
					"msl": "prmslmsl",
				},
				Cycles:          []string{"00", "06", "12", "18"},
				TimeStepHours:   6,
				AvailabilityLag: 3 * time.Hour,
				Timeout:         120 * time.Second,
				MaxRetries:      2,
			},
			"hrrr_zarr": {
				Name:    "NOAA HRRR (Zarr)",
				Type:    "zarr",
				BaseURL: "https://hrrrzarr.s3.amazonaws.com/sfc/{date}/{date}_{cycle}z_fcst.zarr",
				Enabled: &disabled,
				Variables: map[string]string{
					"t2m": "2m_above_ground/TMP/2m_above_ground/TMP",
					"u10": "10m_above_ground/UGRD/10m_above_ground/UGRD",
					"v10": "10m_above_ground/VGRD/10m_above_ground/VGRD",
				},
				ForecastHours:   []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18},
				Cycles:          []string{"00", "06", "12", "18"},
				AvailabilityLag: 3 * time.Hour,
				Timeout:         60 * time.Second,
				MaxRetries:      3,
			},
		},
		Defaults: Defaults{
			Provider:      "gfs_opendap",
			ReferenceGrid: "gfs_0p25",
			Region:        "europe",
			Method:        "bilinear",
			Variable:      "t2m",
		},
		CanonicalUnits: map[string]string{
			"t2m": "K",
			"u10": "m s-1",
			"v10": "m s-1",
			"tp":  "mm",
			"msl": "Pa",
		},
		Server: ServerConfig{
			Port:           "8080",
			RequestTimeout: 5 * time.Minute,
		},
		Prefetch: PrefetchConfig{
			Interval: 6 * time.Hour,
		},
		Log:     LogConfig{Level: "info"},
		DataDir: "./data",
	}
}
