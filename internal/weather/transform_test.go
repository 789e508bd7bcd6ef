package weather

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/krishimitra/advisory-service/internal/client"
	"github.com/krishimitra/advisory-service/internal/models"
)

func TestMoisturePercent(t *testing.T) {
	tests := []struct {
		fraction float64
		decimals int
		want     float64
	}{
		{0.18, 1, 18},
		{0.25, 1, 25},
		{0.2345, 1, 23.5},
		{0.23456, 2, 23.46},
		{0, 2, 0},
		{1, 1, 100},
	}
	for _, tt := range tests {
		if got := MoisturePercent(tt.fraction, tt.decimals); got != tt.want {
			t.Errorf("MoisturePercent(%v, %d) = %v, want %v", tt.fraction, tt.decimals, got, tt.want)
		}
	}
}

func TestWeatherFromCurrent(t *testing.T) {
	tests := []struct {
		name    string
		current map[string]float64
		want    models.WeatherReading
	}{
		{
			name:    "all fields",
			current: map[string]float64{FieldTemperature: 32, FieldHumidity: 45, FieldSoilMoisture: 0.18},
			want:    models.WeatherReading{Temperature: 32, Humidity: 45, Moisture: 18},
		},
		{
			name:    "missing fields take defaults",
			current: map[string]float64{FieldTemperature: 21.4},
			want:    models.WeatherReading{Temperature: 21.4, Humidity: 60, Moisture: 25},
		},
		{
			name:    "nil block",
			current: nil,
			want:    models.WeatherReading{Temperature: 30, Humidity: 60, Moisture: 25},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WeatherFromCurrent(tt.current); got != tt.want {
				t.Errorf("WeatherFromCurrent() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDefaultReading(t *testing.T) {
	got := DefaultReading()
	want := models.WeatherReading{Temperature: 30, Humidity: 60, Moisture: 25, Defaulted: true}
	if got != want {
		t.Errorf("DefaultReading() = %+v, want %+v", got, want)
	}
}

func TestSoilFromCurrent(t *testing.T) {
	got, err := SoilFromCurrent(map[string]float64{FieldSoilTemperature: 29.5, FieldSoilMoisture: 0.18123})
	if err != nil {
		t.Fatalf("SoilFromCurrent() error = %v", err)
	}
	if got.Temperature != 29.5 || got.Moisture != 18.12 {
		t.Errorf("SoilFromCurrent() = %+v", got)
	}

	for name, current := range map[string]map[string]float64{
		"nil block":        nil,
		"missing moisture": {FieldSoilTemperature: 29.5},
		"missing temp":     {FieldSoilMoisture: 0.2},
	} {
		if _, err := SoilFromCurrent(current); !errors.Is(err, ErrSoilUnavailable) {
			t.Errorf("%s: error = %v, want ErrSoilUnavailable", name, err)
		}
	}
}

func dailySeries(rain []float64) *client.DailySeries {
	n := len(rain)
	s := &client.DailySeries{Values: map[string][]float64{
		FieldDailyRain:        rain,
		FieldDailyTempMax:     make([]float64, n),
		FieldDailyTempMin:     make([]float64, n),
		FieldDailyHumidityMax: make([]float64, n),
	}}
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		s.Time = append(s.Time, start.AddDate(0, 0, i).Format("2006-01-02"))
		s.Values[FieldDailyTempMax][i] = 36
		s.Values[FieldDailyTempMin][i] = 27
		s.Values[FieldDailyHumidityMax][i] = 70
	}
	return s
}

func TestForecastFromDaily(t *testing.T) {
	days, err := ForecastFromDaily(dailySeries([]float64{0, 1.2, 0, 0, 5, 0, 0}))
	if err != nil {
		t.Fatalf("ForecastFromDaily() error = %v", err)
	}
	if len(days) != 7 {
		t.Fatalf("len = %d, want 7", len(days))
	}
	if days[0].Temperature != 31.5 {
		t.Errorf("temperature = %v, want mean 31.5", days[0].Temperature)
	}
	if days[1].Rainfall != 1.2 || days[1].Date.Day() != 2 {
		t.Errorf("day[1] = %+v", days[1])
	}
}

func TestForecastFromDaily_Errors(t *testing.T) {
	short := dailySeries([]float64{0, 0, 0})
	short.Values[FieldDailyTempMin] = short.Values[FieldDailyTempMin][:2]

	badDate := dailySeries([]float64{0})
	badDate.Time[0] = "June first"

	tests := map[string]*client.DailySeries{
		"nil":        nil,
		"empty":      {Values: map[string][]float64{}},
		"mismatched": short,
		"bad date":   badDate,
	}
	for name, s := range tests {
		if _, err := ForecastFromDaily(s); !errors.Is(err, ErrForecastUnavailable) {
			t.Errorf("%s: error = %v, want ErrForecastUnavailable", name, err)
		}
	}
}

func TestTrendInput_DryWeek(t *testing.T) {
	days, err := ForecastFromDaily(dailySeries(make([]float64, 7)))
	if err != nil {
		t.Fatalf("ForecastFromDaily() error = %v", err)
	}
	got := TrendInput(days)

	if n := strings.Count(got, "rain 0mm"); n != 7 {
		t.Errorf("TrendInput() has %d %q, want 7: %s", n, "rain 0mm", got)
	}
	if !strings.HasPrefix(got, "2024-06-01 rain 0mm temp 31.5°C hum 70%") {
		t.Errorf("TrendInput() = %s", got)
	}
	if !Summarize(days).Dry {
		t.Error("Summarize().Dry = false, want true")
	}
}

func TestSummarize(t *testing.T) {
	days, _ := ForecastFromDaily(dailySeries([]float64{0, 1.25, 0, 0, 5, 0, 0}))
	s := Summarize(days)
	if s.Dry || s.TotalRainfall != 6.25 {
		t.Errorf("Summarize() = %+v", s)
	}
	if !strings.HasPrefix(s.String(), "Total weekly rainfall forecast: 6.") {
		t.Errorf("String() = %q", s.String())
	}
}
