package weather

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/krishimitra/advisory-service/internal/client"
	"github.com/krishimitra/advisory-service/internal/models"
)

// Open-Meteo field names.
const (
	FieldTemperature     = "temperature_2m"
	FieldHumidity        = "relative_humidity_2m"
	FieldSoilMoisture    = "soil_moisture_0_to_10cm"
	FieldSoilTemperature = "soil_temperature_0cm"

	FieldDailyTempMax     = "temperature_2m_max"
	FieldDailyTempMin     = "temperature_2m_min"
	FieldDailyRain        = "precipitation_sum"
	FieldDailyHumidityMax = "relative_humidity_2m_max"
)

// Defaults substituted when the current weather block is missing fields.
const (
	DefaultTemperature      = 30.0
	DefaultHumidity         = 60.0
	DefaultMoistureFraction = 0.25
)

// ForecastDays is the length of the irrigation forecast.
const ForecastDays = 7

const dateLayout = "2006-01-02"

// DefaultReading is the weather used when the forecast API cannot be reached.
func DefaultReading() models.WeatherReading {
	return models.WeatherReading{
		Temperature: DefaultTemperature,
		Humidity:    DefaultHumidity,
		Moisture:    MoisturePercent(DefaultMoistureFraction, 1),
		Defaulted:   true,
	}
}

// MoisturePercent converts a 0-1 volumetric fraction to a percentage rounded to decimals places.
func MoisturePercent(fraction float64, decimals int) float64 {
	return round(fraction*100, decimals)
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// WeatherFromCurrent builds the air reading from a current block, substituting
// defaults for each missing field. A nil block yields the defaults.
func WeatherFromCurrent(current map[string]float64) models.WeatherReading {
	r := models.WeatherReading{
		Temperature: DefaultTemperature,
		Humidity:    DefaultHumidity,
	}
	fraction := DefaultMoistureFraction
	if v, ok := current[FieldTemperature]; ok {
		r.Temperature = v
	}
	if v, ok := current[FieldHumidity]; ok {
		r.Humidity = v
	}
	if v, ok := current[FieldSoilMoisture]; ok {
		fraction = v
	}
	r.Moisture = MoisturePercent(fraction, 1)
	return r
}

// SoilFromCurrent builds the soil reading. Soil data has no defaults: a missing
// block or moisture field is an error.
func SoilFromCurrent(current map[string]float64) (models.SoilReading, error) {
	if len(current) == 0 {
		return models.SoilReading{}, fmt.Errorf("%w: no soil data in response", ErrSoilUnavailable)
	}
	moisture, ok := current[FieldSoilMoisture]
	if !ok {
		return models.SoilReading{}, fmt.Errorf("%w: essential soil data missing", ErrSoilUnavailable)
	}
	temp, ok := current[FieldSoilTemperature]
	if !ok {
		return models.SoilReading{}, fmt.Errorf("%w: soil temperature missing", ErrSoilUnavailable)
	}
	return models.SoilReading{Temperature: temp, Moisture: MoisturePercent(moisture, 2)}, nil
}

// ForecastFromDaily converts a daily series into forecast days. Each day's
// temperature is the mean of its max and min.
func ForecastFromDaily(series *client.DailySeries) ([]models.ForecastDay, error) {
	if series == nil {
		return nil, fmt.Errorf("%w: no daily block in response", ErrForecastUnavailable)
	}
	n := len(series.Time)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty daily series", ErrForecastUnavailable)
	}
	fields := []string{FieldDailyRain, FieldDailyTempMax, FieldDailyTempMin, FieldDailyHumidityMax}
	for _, f := range fields {
		if len(series.Values[f]) != n {
			return nil, fmt.Errorf("%w: %s has %d values, want %d", ErrForecastUnavailable, f, len(series.Values[f]), n)
		}
	}

	days := make([]models.ForecastDay, 0, n)
	for i, raw := range series.Time {
		date, err := time.Parse(dateLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: bad date %q", ErrForecastUnavailable, raw)
		}
		days = append(days, models.ForecastDay{
			Date:        date,
			Rainfall:    series.Values[FieldDailyRain][i],
			Temperature: (series.Values[FieldDailyTempMax][i] + series.Values[FieldDailyTempMin][i]) / 2,
			Humidity:    series.Values[FieldDailyHumidityMax][i],
		})
	}
	return days, nil
}

// TrendInput renders the forecast as the single line the trend prompt embeds,
// e.g. "2024-06-01 rain 0mm temp 31.5°C hum 70%".
func TrendInput(days []models.ForecastDay) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = fmt.Sprintf("%s rain %smm temp %s°C hum %s%%",
			d.Date.Format(dateLayout), formatNumber(d.Rainfall), formatNumber(d.Temperature), formatNumber(d.Humidity))
	}
	return strings.Join(parts, " ")
}

// Summary aggregates a forecast week.
type Summary struct {
	TotalRainfall float64
	Dry           bool
}

// Summarize totals the rainfall; a week with none is dry.
func Summarize(days []models.ForecastDay) Summary {
	var total float64
	for _, d := range days {
		total += d.Rainfall
	}
	return Summary{TotalRainfall: total, Dry: total == 0}
}

func (s Summary) String() string {
	if s.Dry {
		return "Dry week detected, koi barish forecast nahi hai."
	}
	return fmt.Sprintf("Total weekly rainfall forecast: %.1f mm", s.TotalRainfall)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
