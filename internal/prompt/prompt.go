// Package prompt builds the system instruction and user message for each
// advisory. User messages embed the exact JSON shape the model must return.
package prompt

import (
	"bytes"
	"fmt"
	"strconv"
	"text/template"

	"github.com/krishimitra/advisory-service/internal/models"
)

const cropSystem = "You are KrishiMitra AI — a professional Indian agriculture expert and crop advisor. " +
	"Your goal is to recommend the 3 most suitable crops for the given region and season " +
	"based on live soil and weather data. " +
	"Always include at least one major (staple) crop and one minor (rotation/cash) crop. " +
	"Explain in Hinglish (mix of Hindi + English) within 2–3 lines — " +
	"clearly describe why these crops suit the soil, climate, and season, " +
	"and give one short tip on crop rotation or income stability. " +
	"Avoid generic or repetitive suggestions and base reasoning only on provided parameters."

const cropUser = `📍 Location: {{.Input.Location}}
🗓️ Season: {{.Input.Season}}
🧭 Coordinates: {{num .Coords.Latitude}}, {{num .Coords.Longitude}}
🌡️ Temperature: {{num .Reading.Temperature}} °C
💧 Humidity: {{num .Reading.Humidity}} %
🌱 Soil Moisture (0–10 cm): {{num .Reading.SoilMoisture}} %
🌡️ Soil Temperature (0 cm): {{num .Reading.SoilTemperature}} °C

👉 Based on this data, suggest 3 best-fit crops (both major and minor).

Return response strictly in JSON:
{
  "crops": [
    {
      "name": "<crop1>",
      "type": "<Major or Minor>",
      "reason": "<1-line soil + weather suitability>",
      "rotation_tip": "<short rotation or income tip>"
    },
    {
      "name": "<crop2>",
      "type": "<Major or Minor>",
      "reason": "<1-line soil + weather suitability>",
      "rotation_tip": "<short rotation or income tip>"
    },
    {
      "name": "<crop3>",
      "type": "<Major or Minor>",
      "reason": "<1-line soil + weather suitability>",
      "rotation_tip": "<short rotation or income tip>"
    }
  ],
  "summary": "<2–3 line Hinglish explanation combining all insights>"
}
`

const soilSystem = "You are KrishiMitra AI — Bharat ka ek expert agriculture advisor. " +
	"Tumhara kaam hai farmer ko unke sheher, crop aur soil condition ke hisaab se " +
	"best fertilizer recommend karna. " +
	"Jawab Hinglish me do (simple Hindi + English mix), taaki har kisan samajh sake. " +
	"Har answer thoda detailed ho — around 4 to 5 lines. " +
	"Har recommendation me yeh teen cheezein honi chahiye:\n" +
	"1️⃣ Kyon yeh fertilizer us crop aur soil ke liye best hai (scientific reason)\n" +
	"2️⃣ Kitni matra aur kaise lagani chahiye (dose + method)\n" +
	"3️⃣ Kya precautions aur soil-care tips follow karni chahiye\n" +
	"Avoid chemical brand names aur overly technical language."

const soilUser = `Location: {{.Input.Location}}
Crop: {{.Input.Crop}}
Latitude: {{num .Coords.Latitude}}, Longitude: {{num .Coords.Longitude}}
Air Temperature: {{num .Reading.Temperature}} °C
Humidity: {{num .Reading.Humidity}} %
Soil Moisture (0–10 cm): {{num .Reading.SoilMoisture}} %
Soil Temperature (0 cm): {{num .Reading.SoilTemperature}} °C

Return JSON strictly in this format:
{
  "fertilizer": "<best fertilizer name>",
  "dose_hint": "<recommended quantity and method>",
  "explanation": "<2-3 line detailed Hinglish explanation including why, how, and soil-care tips>"
}
`

const remedySystem = "You are KrishiMitra AI — an Indian agriculture expert specialized in plant health. " +
	"Generate a 3-line Hinglish remedy for the detected crop disease. " +
	"Cover biological control, irrigation, and soil improvement. " +
	"Avoid chemical brand names and use simple natural tone."

const remedyUser = `Crop: {{.CropHint}}
Disease: {{.Disease}}

Return response strictly in JSON:
{
  "remedy": [
    "Line 1: <pesticide or organic spray suggestion>",
    "Line 2: <irrigation or environmental tip>",
    "Line 3: <soil or compost improvement advice>"
  ],
  "summary": "<1-line simplified Hinglish explanation>",
  "severity": "<Low | Medium | High>",
  "natural_treatment": "<Neem, garlic spray, etc.>"
}
`

const trendSystem = "You are KrishiMitra AI — an Indian agriculture assistant. " +
	"Summarize the upcoming 7-day weather pattern for farmers in 1-2 simple Hinglish lines. " +
	"Mention if it will be dry, rainy, ya mixed weather."

const trendUser = `Weather data: {{.}}`

const irrigationSystem = "You are KrishiMitra AI — an Indian agriculture and irrigation expert. " +
	"Based on the given crop, soil type, and weather trend, generate 4–5 line Hinglish irrigation advice. " +
	"Each answer should explain (1) kitna paani dena hai, (2) kab aur kitni baar dena hai, " +
	"(3) mausam ke hisaab se kya badlav karein, aur (4) soil moisture bachane ke tips. " +
	"Use simple, friendly Hinglish — jaise aap kisi kisan se baat kar rahe ho. " +
	"Avoid brand names or technical chemical terms. " +
	"Keep the tone positive, natural, and practical with easy daily-life suggestions."

const irrigationUser = `📍 City: {{.Input.City}}
🌾 Crop: {{.Input.Crop}}
🌱 Soil Type: {{.Input.SoilType}}
🌦️ Weather Trend: {{.Trend}}

👉 Based on these inputs, give 4–5 line Hinglish irrigation advice for the farmer.

Return response strictly in JSON format:
{
  "advice": "<4–5 line Hinglish irrigation tips>"
}
`

const qnaSystem = "You are KrishiMitra — Bharat ka digital kheti dost aur Indian agriculture expert. " +
	"Tumhara kaam hai Indian farmers ke sawalon ka 4–6 line ka detailed, friendly aur practical Hinglish me jawab dena. " +
	"Har answer me simple explanation ke saath khaad ki matra, beej daalne ka samay, paani dene ka tarika, " +
	"aur ek useful kheti tip zarur ho. " +
	"Agar sawaal fertilizer se related ho to approximate quantity bhi batao jaise " +
	"‘DAP 50 kg per acre’, ‘Urea 100 kg per hectare’, ya ‘Neem spray 30 ml per litre paani’. " +
	"Tone hamesha desi aur garamjoshi bhara rakho — jaise ek anubhav wala kisan apne bhai se baat kar raha ho. " +
	"Avoid brand names, scientific shabd aur overly technical baatein. " +
	"Har jawab me Bharat ki mitti, mausam aur kheti ke anubhav ka touch rakho " +
	"taaki farmer ko lage ki KrishiMitra uske gaon ka asli madadgaar hai."

const qnaUser = `Farmer asked: "{{.}}"`

var funcs = template.FuncMap{
	"num": func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) },
}

var (
	cropTmpl       = template.Must(template.New("crop").Funcs(funcs).Parse(cropUser))
	soilTmpl       = template.Must(template.New("soil").Funcs(funcs).Parse(soilUser))
	remedyTmpl     = template.Must(template.New("remedy").Parse(remedyUser))
	trendTmpl      = template.Must(template.New("trend").Parse(trendUser))
	irrigationTmpl = template.Must(template.New("irrigation").Parse(irrigationUser))
	qnaTmpl        = template.Must(template.New("qna").Parse(qnaUser))
)

type environmentData[T any] struct {
	Input   T
	Coords  models.Coordinates
	Reading models.EnvironmentalReading
}

// Crop composes the crop recommendation prompt. Blank inputs take their defaults.
func Crop(in models.CropInput, coords models.Coordinates, reading models.EnvironmentalReading) (models.PromptPair, error) {
	return compose(cropSystem, cropTmpl, environmentData[models.CropInput]{in.WithDefaults(), coords, reading})
}

// Soil composes the fertilizer prompt. Blank inputs take their defaults.
func Soil(in models.SoilInput, coords models.Coordinates, reading models.EnvironmentalReading) (models.PromptPair, error) {
	return compose(soilSystem, soilTmpl, environmentData[models.SoilInput]{in.WithDefaults(), coords, reading})
}

// Remedy composes the disease remedy prompt. A blank crop hint becomes "General".
func Remedy(disease, cropHint string) (models.PromptPair, error) {
	if cropHint == "" {
		cropHint = models.DefaultCrop
	}
	return compose(remedySystem, remedyTmpl, struct{ Disease, CropHint string }{disease, cropHint})
}

// Trend composes the weekly weather summary prompt from a rendered forecast line.
func Trend(forecastLine string) (models.PromptPair, error) {
	return compose(trendSystem, trendTmpl, forecastLine)
}

// Irrigation composes the irrigation advice prompt.
func Irrigation(in models.IrrigationInput, trend string) (models.PromptPair, error) {
	return compose(irrigationSystem, irrigationTmpl, struct {
		Input models.IrrigationInput
		Trend string
	}{in.WithDefaults(), trend})
}

// Question composes the free-form Q&A prompt.
func Question(query string) (models.PromptPair, error) {
	return compose(qnaSystem, qnaTmpl, query)
}

func compose(system string, tmpl *template.Template, data interface{}) (models.PromptPair, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return models.PromptPair{}, fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return models.PromptPair{System: system, User: buf.String()}, nil
}
