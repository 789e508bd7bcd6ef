package models

import "time"

// Coordinates is a resolved geographic point in decimal degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Fallback  bool    `json:"fallback,omitempty"` // Resolver could not resolve the name
}

// Valid reports whether the point lies within -90..90 / -180..180.
func (c Coordinates) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// WeatherReading is the current air weather at a point.
type WeatherReading struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Moisture    float64 `json:"moisture"` // soil moisture percent, one decimal
	Defaulted   bool    `json:"defaulted,omitempty"`
}

// SoilReading is the current topsoil state at a point.
type SoilReading struct {
	Temperature float64 `json:"soil_temperature"`
	Moisture    float64 `json:"soil_moisture"` // percent, two decimals
}

// EnvironmentalReading combines air weather and soil data for prompting.
type EnvironmentalReading struct {
	Temperature     float64 `json:"temperature"`
	Humidity        float64 `json:"humidity"`
	SoilMoisture    float64 `json:"soil_moisture"`
	SoilTemperature float64 `json:"soil_temperature"`
}

// ForecastDay is one day of the irrigation forecast.
type ForecastDay struct {
	Date        time.Time `json:"day"`
	Rainfall    float64   `json:"rainfall"`
	Temperature float64   `json:"temperature"` // mean of daily max and min
	Humidity    float64   `json:"humidity"`
}
