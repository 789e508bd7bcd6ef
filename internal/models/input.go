package models

import "strings"

// Input defaults applied when a field is blank.
const (
	DefaultLocation = "Delhi"
	DefaultSeason   = "Kharif"
	DefaultCrop     = "General"

	DefaultIrrigationCity = "Delhi"
	DefaultIrrigationCrop = "Wheat"
	DefaultSoilType       = "Loamy"
)

// CropInput drives the crop pipeline.
type CropInput struct {
	Location string `json:"location"`
	Season   string `json:"season"`
}

// WithDefaults fills blank fields with Delhi / Kharif.
func (in CropInput) WithDefaults() CropInput {
	return CropInput{
		Location: orDefault(in.Location, DefaultLocation),
		Season:   orDefault(in.Season, DefaultSeason),
	}
}

// SoilInput drives the soil pipeline.
type SoilInput struct {
	Crop     string `json:"crop"`
	Location string `json:"location"`
}

// WithDefaults fills blank fields with General / Delhi.
func (in SoilInput) WithDefaults() SoilInput {
	return SoilInput{
		Crop:     orDefault(in.Crop, DefaultCrop),
		Location: orDefault(in.Location, DefaultLocation),
	}
}

// IrrigationInput drives the irrigation pipeline.
type IrrigationInput struct {
	City     string `json:"city"`
	Crop     string `json:"crop"`
	SoilType string `json:"soil_type"`
}

// WithDefaults fills blank fields with Delhi / Wheat / Loamy.
func (in IrrigationInput) WithDefaults() IrrigationInput {
	return IrrigationInput{
		City:     orDefault(in.City, DefaultIrrigationCity),
		Crop:     orDefault(in.Crop, DefaultIrrigationCrop),
		SoilType: orDefault(in.SoilType, DefaultSoilType),
	}
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}
