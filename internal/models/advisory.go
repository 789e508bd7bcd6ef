package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// PromptPair is the system instruction and user message sent to the LLM.
type PromptPair struct {
	System string
	User   string
}

// Prediction is the top class of the leaf image classifier.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type CropSuggestion struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Reason      string `json:"reason"`
	RotationTip string `json:"rotation_tip"`
	// Extra keeps keys the model added beyond the fields above.
	Extra map[string]json.RawMessage `json:"-"`
}

func (c *CropSuggestion) UnmarshalJSON(data []byte) error {
	type plain CropSuggestion
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := extraKeys(data, "name", "type", "reason", "rotation_tip")
	if err != nil {
		return err
	}
	p.Extra = extra
	*c = CropSuggestion(p)
	return nil
}

func (c CropSuggestion) MarshalJSON() ([]byte, error) {
	type plain CropSuggestion
	return marshalWithExtra(plain(c), c.Extra)
}

// CropRecommendation is the crop pipeline result. Keys outside crops and
// summary survive a decode and encode round trip through Extra.
type CropRecommendation struct {
	Crops   []CropSuggestion           `json:"crops"`
	Summary string                     `json:"summary"`
	Extra   map[string]json.RawMessage `json:"-"`
}

func (r *CropRecommendation) UnmarshalJSON(data []byte) error {
	type plain CropRecommendation
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := extraKeys(data, "crops", "summary")
	if err != nil {
		return err
	}
	p.Extra = extra
	*r = CropRecommendation(p)
	return nil
}

func (r CropRecommendation) MarshalJSON() ([]byte, error) {
	type plain CropRecommendation
	return marshalWithExtra(plain(r), r.Extra)
}

// extraKeys returns the members of the object in data not named in known.
// Matching is case-insensitive, as encoding/json matches struct fields.
func extraKeys(data []byte, known ...string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k := range all {
		for _, name := range known {
			if strings.EqualFold(k, name) {
				delete(all, k)
				break
			}
		}
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// marshalWithExtra encodes v and adds the extra members. Typed fields win on
// a name clash.
func marshalWithExtra(v interface{}, extra map[string]json.RawMessage) ([]byte, error) {
	base, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return base, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	merged := make(map[string]json.RawMessage, len(fields)+len(extra))
	for k, raw := range extra {
		merged[k] = raw
	}
	for k, raw := range fields {
		merged[k] = raw
	}
	return json.Marshal(merged)
}

// FertilizerAdvice is the soil pipeline result.
type FertilizerAdvice struct {
	Fertilizer  string `json:"fertilizer"`
	DoseHint    string `json:"dose_hint"`
	Explanation string `json:"explanation"`
}

// IrrigationAdvice is the irrigation pipeline result.
type IrrigationAdvice struct {
	WeatherTrend     string `json:"weather_trend"`
	IrrigationAdvice string `json:"irrigation_advice"`
}

// RemedyDetail is the full remedy the model returns for a disease.
type RemedyDetail struct {
	Remedy           Remedy `json:"remedy"`
	Summary          string `json:"summary"`
	Severity         string `json:"severity,omitempty"`
	NaturalTreatment string `json:"natural_treatment,omitempty"`
}

// DiseaseRemedy is the disease pipeline result.
type DiseaseRemedy struct {
	Disease    string  `json:"disease"`
	Remedy     Remedy  `json:"remedy"`
	Summary    string  `json:"summary"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Remedy holds either a list of lines or a single block of text and
// round-trips through JSON in whichever form it arrived.
type Remedy struct {
	Lines []string
	Text  string
}

// RemedyText wraps free text as a Remedy.
func RemedyText(s string) Remedy {
	return Remedy{Text: s}
}

// RemedyLines wraps a list of lines as a Remedy.
func RemedyLines(lines ...string) Remedy {
	return Remedy{Lines: lines}
}

// IsList reports whether the remedy arrived as a list.
func (r Remedy) IsList() bool {
	return r.Lines != nil
}

func (r Remedy) String() string {
	if r.IsList() {
		return strings.Join(r.Lines, "\n")
	}
	return r.Text
}

func (r Remedy) MarshalJSON() ([]byte, error) {
	if r.IsList() {
		return json.Marshal(r.Lines)
	}
	return json.Marshal(r.Text)
}

func (r *Remedy) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*r = Remedy{}
		return nil
	case len(data) > 0 && data[0] == '[':
		var lines []string
		if err := json.Unmarshal(data, &lines); err != nil {
			return fmt.Errorf("remedy list: %w", err)
		}
		if lines == nil {
			lines = []string{}
		}
		*r = Remedy{Lines: lines}
		return nil
	default:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("remedy text: %w", err)
		}
		*r = Remedy{Text: s}
		return nil
	}
}
