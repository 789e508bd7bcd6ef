package advisory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishimitra/advisory-service/internal/client"
	"github.com/krishimitra/advisory-service/internal/llm"
	"github.com/krishimitra/advisory-service/internal/models"
	"github.com/krishimitra/advisory-service/internal/vision"
	"github.com/krishimitra/advisory-service/internal/weather"
)

type fakeResolver struct {
	mu     sync.Mutex
	coords models.Coordinates
	names  []string
}

func (f *fakeResolver) Resolve(_ context.Context, name string) models.Coordinates {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	return f.coords
}

type fakeEnv struct {
	reading    models.EnvironmentalReading
	readingErr error
	days       []models.ForecastDay
	daysErr    error
}

func (f *fakeEnv) Reading(context.Context, models.Coordinates) (models.EnvironmentalReading, error) {
	return f.reading, f.readingErr
}

func (f *fakeEnv) Forecast(context.Context, models.Coordinates) ([]models.ForecastDay, error) {
	return f.days, f.daysErr
}

type fakeLLM struct {
	mu       sync.Mutex
	respond  func(req llm.Request) (string, error)
	requests []llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(req)
}

func reply(text string) func(llm.Request) (string, error) {
	return func(llm.Request) (string, error) { return text, nil }
}

func failing(err error) func(llm.Request) (string, error) {
	return func(llm.Request) (string, error) { return "", err }
}

type fakeClassifier struct {
	pred models.Prediction
	err  error
}

func (f fakeClassifier) Classify(context.Context, string) (models.Prediction, error) {
	return f.pred, f.err
}

func (f fakeClassifier) ClassifyBytes(context.Context, []byte) (models.Prediction, error) {
	return f.pred, f.err
}

var (
	jaipur         = models.Coordinates{Latitude: 26.91962, Longitude: 75.78781}
	jaipurReading  = models.EnvironmentalReading{Temperature: 32, Humidity: 45, SoilMoisture: 18, SoilTemperature: 34}
	errGroqDown    = &client.StatusError{Upstream: "groq", StatusCode: 503}
	cropReplyJSON  = `{"crops": [{"name": "Bajra", "type": "Major", "reason": "Dry soil", "rotation_tip": "Moong ke saath"}, {"name": "Moong", "type": "Minor", "reason": "Kam paani", "rotation_tip": "Nitrogen badhata hai"}, {"name": "Guar", "type": "Minor", "reason": "Garmi sahta hai", "rotation_tip": "Cash crop"}], "summary": "Garam aur sookha mausam."}`
	cropReplyProse = "Yeh rahi salah:\n```json\n" + cropReplyJSON + "\n```"
)

type harness struct {
	svc        *Service
	geocoder   *fakeResolver
	city       *fakeResolver
	env        *fakeEnv
	llm        *fakeLLM
	classifier *fakeClassifier
}

func newHarness(t *testing.T, respond func(llm.Request) (string, error)) *harness {
	t.Helper()
	h := &harness{
		geocoder:   &fakeResolver{coords: jaipur},
		city:       &fakeResolver{coords: models.Coordinates{Latitude: 22.57, Longitude: 88.36}},
		env:        &fakeEnv{reading: jaipurReading, days: dryWeek()},
		llm:        &fakeLLM{respond: respond},
		classifier: &fakeClassifier{pred: models.Prediction{Label: "Potato Early Blight", Confidence: 0.91}},
	}
	svc, err := New(Deps{
		Geocoder:    h.geocoder,
		CityLocator: h.city,
		Environment: h.env,
		LLM:         h.llm,
		Classifier:  h.classifier,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func dryWeek() []models.ForecastDay {
	days := make([]models.ForecastDay, weather.ForecastDays)
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range days {
		days[i] = models.ForecastDay{Date: start.AddDate(0, 0, i), Rainfall: 0, Temperature: 31.5, Humidity: 70}
	}
	return days
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
	_, err = New(Deps{Geocoder: &fakeResolver{}, Environment: &fakeEnv{}})
	assert.Error(t, err)
}

func TestRecommendCrop_Jaipur(t *testing.T) {
	h := newHarness(t, reply(cropReplyProse))

	got, err := h.svc.RecommendCrop(context.Background(), models.CropInput{Location: "Jaipur", Season: "Kharif"})
	require.NoError(t, err)

	require.Len(t, got.Crops, 3)
	assert.Equal(t, models.CropSuggestion{Name: "Bajra", Type: "Major", Reason: "Dry soil", RotationTip: "Moong ke saath"}, got.Crops[0])
	assert.Equal(t, "Garam aur sookha mausam.", got.Summary)

	assert.Equal(t, []string{"Jaipur"}, h.geocoder.names)
	require.Len(t, h.llm.requests, 1)
	req := h.llm.requests[0]
	assert.Equal(t, PipelineCrop, req.Pipeline)
	assert.Equal(t, float32(0.6), req.Temperature)
	assert.Contains(t, req.Prompt.User, "🌡️ Temperature: 32 °C")
	assert.Contains(t, req.Prompt.User, "💧 Humidity: 45 %")
	assert.Contains(t, req.Prompt.User, "🌱 Soil Moisture (0–10 cm): 18 %")
}

func TestRecommendCrop_Idempotent(t *testing.T) {
	h := newHarness(t, reply(cropReplyJSON))
	in := models.CropInput{Location: "Jaipur", Season: "Kharif"}

	first, err := h.svc.RecommendCrop(context.Background(), in)
	require.NoError(t, err)
	second, err := h.svc.RecommendCrop(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, h.llm.requests[0], h.llm.requests[1])
}

func TestRecommendCrop_Defaults(t *testing.T) {
	h := newHarness(t, reply(cropReplyJSON))
	_, err := h.svc.RecommendCrop(context.Background(), models.CropInput{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Delhi"}, h.geocoder.names)
	assert.Contains(t, h.llm.requests[0].Prompt.User, "Season: Kharif")
}

func TestStructuredPipelines_Failures(t *testing.T) {
	tests := []struct {
		name       string
		respond    func(llm.Request) (string, error)
		readingErr error
		wantErr    error
	}{
		{"llm unavailable", failing(errGroqDown), nil, ErrLLMUnavailable},
		{"no json", reply("Bajra aur moong lagaiye."), nil, ErrNoJSON},
		{"invalid json", reply("{crops: Bajra}"), nil, ErrInvalidJSON},
		{"soil unavailable", reply(cropReplyJSON), weather.ErrSoilUnavailable, ErrSoilUnavailable},
	}
	for _, tt := range tests {
		t.Run("crop/"+tt.name, func(t *testing.T) {
			h := newHarness(t, tt.respond)
			h.env.readingErr = tt.readingErr
			_, err := h.svc.RecommendCrop(context.Background(), models.CropInput{Location: "Jaipur"})
			assert.ErrorIs(t, err, tt.wantErr)
		})
		t.Run("soil/"+tt.name, func(t *testing.T) {
			h := newHarness(t, tt.respond)
			h.env.readingErr = tt.readingErr
			_, err := h.svc.AnalyzeSoil(context.Background(), models.SoilInput{Location: "Jaipur"})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStructuredPipelines_StrayObjects(t *testing.T) {
	const soilJSON = `{"fertilizer": "DAP", "dose_hint": "50 kg per acre", "explanation": "Phosphorus kam hai."}`
	const remedyJSON = `{"remedy": ["Neem spray karein"], "summary": "Early blight hai."}`

	t.Run("crop skips empty object in prose", func(t *testing.T) {
		h := newHarness(t, reply("Format hoga {} aisa:\n"+cropReplyJSON))
		got, err := h.svc.RecommendCrop(context.Background(), models.CropInput{Location: "Jaipur"})
		require.NoError(t, err)
		require.Len(t, got.Crops, 3)
		assert.Equal(t, "Bajra", got.Crops[0].Name)
		assert.Equal(t, "Garam aur sookha mausam.", got.Summary)
	})
	t.Run("crop only empty object", func(t *testing.T) {
		h := newHarness(t, reply("Format hoga {} aisa."))
		_, err := h.svc.RecommendCrop(context.Background(), models.CropInput{Location: "Jaipur"})
		assert.ErrorIs(t, err, ErrNoJSON)
	})
	t.Run("soil skips unrelated object", func(t *testing.T) {
		h := newHarness(t, reply(`{"note": "x"} then `+soilJSON))
		got, err := h.svc.AnalyzeSoil(context.Background(), models.SoilInput{Location: "Jaipur"})
		require.NoError(t, err)
		assert.Equal(t, models.FertilizerAdvice{Fertilizer: "DAP", DoseHint: "50 kg per acre", Explanation: "Phosphorus kam hai."}, got)
	})
	t.Run("soil only empty object", func(t *testing.T) {
		h := newHarness(t, reply("{}"))
		_, err := h.svc.AnalyzeSoil(context.Background(), models.SoilInput{Location: "Jaipur"})
		assert.ErrorIs(t, err, ErrNoJSON)
	})
	t.Run("remedy skips empty object", func(t *testing.T) {
		h := newHarness(t, reply("Jawab {} niche hai: "+remedyJSON))
		got, err := h.svc.GenerateRemedy(context.Background(), "Potato Early Blight", "Potato")
		require.NoError(t, err)
		assert.Equal(t, []string{"Neem spray karein"}, got.Remedy.Lines)
		assert.Equal(t, "Early blight hai.", got.Summary)
	})
	t.Run("remedy only empty object wraps text", func(t *testing.T) {
		h := newHarness(t, reply("Neem spray karein {}"))
		got, err := h.svc.GenerateRemedy(context.Background(), "Potato Early Blight", "Potato")
		require.NoError(t, err)
		assert.Equal(t, "Neem spray karein {}", got.Remedy.Text)
		assert.Equal(t, RemedyTextSummary, got.Summary)
	})
}

func TestAnalyzeSoil(t *testing.T) {
	h := newHarness(t, reply(`Advice: {"fertilizer": "Vermicompost", "dose_hint": "2 ton per acre", "explanation": "Mitti ki nami bachti hai."}`))

	got, err := h.svc.AnalyzeSoil(context.Background(), models.SoilInput{Crop: "Wheat", Location: "Jaipur"})
	require.NoError(t, err)
	assert.Equal(t, models.FertilizerAdvice{Fertilizer: "Vermicompost", DoseHint: "2 ton per acre", Explanation: "Mitti ki nami bachti hai."}, got)
	assert.Equal(t, float32(0.5), h.llm.requests[0].Temperature)
	assert.Contains(t, h.llm.requests[0].Prompt.User, "Crop: Wheat")
}

func TestAnalyzeLeaf(t *testing.T) {
	h := newHarness(t, reply(`{"remedy": ["Neem spray karein", "Paani subah dein", "Compost milayein"], "summary": "Early blight hai.", "severity": "Medium", "natural_treatment": "Neem"}`))

	got, err := h.svc.AnalyzeLeaf(context.Background(), "samples/potato_leaf.jpg")
	require.NoError(t, err)
	assert.Equal(t, "Potato Early Blight", got.Disease)
	assert.True(t, got.Remedy.IsList())
	assert.Equal(t, []string{"Neem spray karein", "Paani subah dein", "Compost milayein"}, got.Remedy.Lines)
	assert.Equal(t, "Early blight hai.", got.Summary)
	assert.Equal(t, 0.91, got.Confidence)

	req := h.llm.requests[0]
	assert.Equal(t, 300, req.MaxTokens)
	assert.True(t, strings.HasPrefix(req.Prompt.User, "Crop: Potato\nDisease: Potato Early Blight"))
}

func TestAnalyzeLeaf_Failures(t *testing.T) {
	t.Run("no json wraps text", func(t *testing.T) {
		h := newHarness(t, reply("  Neem ka spray karein aur paani kam dein.  "))
		got, err := h.svc.AnalyzeLeafImage(context.Background(), []byte{1})
		require.NoError(t, err)
		assert.False(t, got.Remedy.IsList())
		assert.Equal(t, "Neem ka spray karein aur paani kam dein.", got.Remedy.Text)
		assert.Equal(t, RemedyTextSummary, got.Summary)
	})
	t.Run("invalid json", func(t *testing.T) {
		h := newHarness(t, reply(`{"remedy": [Neem]}`))
		_, err := h.svc.AnalyzeLeaf(context.Background(), "leaf.jpg")
		assert.ErrorIs(t, err, ErrInvalidJSON)
	})
	t.Run("llm unavailable", func(t *testing.T) {
		h := newHarness(t, failing(errGroqDown))
		_, err := h.svc.AnalyzeLeaf(context.Background(), "leaf.jpg")
		assert.ErrorIs(t, err, ErrLLMUnavailable)
	})
	t.Run("image not found", func(t *testing.T) {
		h := newHarness(t, reply("{}"))
		h.classifier.err = vision.ErrImageNotFound
		_, err := h.svc.AnalyzeLeaf(context.Background(), "missing.jpg")
		assert.ErrorIs(t, err, ErrImageNotFound)
		assert.Empty(t, h.llm.requests)
	})
	t.Run("classifier down", func(t *testing.T) {
		h := newHarness(t, reply("{}"))
		h.classifier.err = client.ErrUpstreamFailure
		_, err := h.svc.AnalyzeLeaf(context.Background(), "leaf.jpg")
		assert.ErrorIs(t, err, ErrClassifierUnavailable)
	})
	t.Run("no classifier", func(t *testing.T) {
		svc, err := New(Deps{Geocoder: &fakeResolver{}, Environment: &fakeEnv{}, LLM: &fakeLLM{respond: reply("{}")}})
		require.NoError(t, err)
		_, err = svc.AnalyzeLeaf(context.Background(), "leaf.jpg")
		assert.ErrorIs(t, err, ErrClassifierUnavailable)
	})
}

func TestGenerateRemedy_StringRemedy(t *testing.T) {
	h := newHarness(t, reply(`{"remedy": "Neem spray", "summary": "Halka rog."}`))
	got, err := h.svc.GenerateRemedy(context.Background(), "Tomato Leaf Mold", "Tomato")
	require.NoError(t, err)
	assert.Equal(t, models.RemedyDetail{Remedy: models.RemedyText("Neem spray"), Summary: "Halka rog."}, got)

	_, err = h.svc.GenerateRemedy(context.Background(), " ", "Tomato")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

// irrigationLLM answers the trend call (150 tokens) and the advice call (300 tokens) separately.
func irrigationLLM(trend, advice string, trendErr, adviceErr error) func(llm.Request) (string, error) {
	return func(req llm.Request) (string, error) {
		if req.MaxTokens == 150 {
			return trend, trendErr
		}
		return advice, adviceErr
	}
}

func TestAnalyzeIrrigation(t *testing.T) {
	h := newHarness(t, irrigationLLM(
		"Poora hafta sookha rahega.",
		`{"advice": "Har 5 din me paani dein. Subah ke samay sinchai karein. Mulching karein."}`,
		nil, nil,
	))

	got, err := h.svc.AnalyzeIrrigation(context.Background(), models.IrrigationInput{City: "Kolkata", Crop: "Wheat", SoilType: "Black"})
	require.NoError(t, err)
	assert.Equal(t, "Poora hafta sookha rahega.", got.WeatherTrend)
	assert.Equal(t, "Har 5 din me paani dein.\nSubah ke samay sinchai karein.\nMulching karein.", got.IrrigationAdvice)
	assert.Equal(t, []string{"Kolkata"}, h.city.names)
	assert.Empty(t, h.geocoder.names)

	require.Len(t, h.llm.requests, 2)
	trendReq := h.llm.requests[0]
	assert.Equal(t, float32(0.4), trendReq.Temperature)
	assert.Equal(t, 7, strings.Count(trendReq.Prompt.User, "rain 0mm"))
	adviceReq := h.llm.requests[1]
	assert.Equal(t, float32(0.6), adviceReq.Temperature)
	assert.Contains(t, adviceReq.Prompt.User, "🌦️ Weather Trend: Poora hafta sookha rahega.")
}

func TestAnalyzeIrrigation_Fallbacks(t *testing.T) {
	tests := []struct {
		name       string
		respond    func(llm.Request) (string, error)
		wantTrend  string
		wantAdvice string
	}{
		{
			name:       "llm down",
			respond:    failing(errGroqDown),
			wantTrend:  TrendFallback,
			wantAdvice: IrrigationFallback,
		},
		{
			name:       "single quoted json",
			respond:    irrigationLLM("Mixed mausam.", `{'advice': 'Paani kam dein. Shaam ko dein.'}`, nil, nil),
			wantTrend:  "Mixed mausam.",
			wantAdvice: "Paani kam dein.\nShaam ko dein.",
		},
		{
			name:       "plain text advice",
			respond:    irrigationLLM("Barish hogi.", "Paani band rakhein. Nali saaf rakhein.", nil, nil),
			wantTrend:  "Barish hogi.",
			wantAdvice: "Paani band rakhein.\nNali saaf rakhein.",
		},
		{
			name:       "json without advice",
			respond:    irrigationLLM("Barish hogi.", `{"tip": "x"}. Paani band rakhein.`, nil, nil),
			wantTrend:  "Barish hogi.",
			wantAdvice: "{\"tip\": \"x\"}.\nPaani band rakhein.",
		},
		{
			name:       "invalid json",
			respond:    irrigationLLM("Barish hogi.", `{advice: paani}`, nil, nil),
			wantTrend:  "Barish hogi.",
			wantAdvice: IrrigationFallback,
		},
		{
			name:       "trend down only",
			respond:    irrigationLLM("", `{"advice": "Paani dein."}`, errGroqDown, nil),
			wantTrend:  TrendFallback,
			wantAdvice: "Paani dein.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.respond)
			got, err := h.svc.AnalyzeIrrigation(context.Background(), models.IrrigationInput{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantTrend, got.WeatherTrend)
			assert.Equal(t, tt.wantAdvice, got.IrrigationAdvice)
		})
	}
}

func TestAnalyzeIrrigation_ForecastUnavailable(t *testing.T) {
	h := newHarness(t, reply("unused"))
	h.env.daysErr = weather.ErrForecastUnavailable
	_, err := h.svc.AnalyzeIrrigation(context.Background(), models.IrrigationInput{})
	assert.ErrorIs(t, err, ErrForecastUnavailable)
	assert.Empty(t, h.llm.requests)
}

func TestAnswer(t *testing.T) {
	h := newHarness(t, reply("Gehu ke liye DAP 50 kg per acre daalein."))

	got, err := h.svc.Answer(context.Background(), "  Gehu me kaunsa khaad?  ")
	require.NoError(t, err)
	assert.Equal(t, "Gehu ke liye DAP 50 kg per acre daalein.", got)

	req := h.llm.requests[0]
	assert.Equal(t, float32(0), req.Temperature)
	require.NotNil(t, req.TopP)
	assert.Equal(t, float32(0), *req.TopP)
	assert.Equal(t, 400, req.MaxTokens)
	assert.Equal(t, `Farmer asked: "Gehu me kaunsa khaad?"`, req.Prompt.User)
}

func TestAnswer_Fallbacks(t *testing.T) {
	h := newHarness(t, failing(errors.New("connection refused")))
	got, err := h.svc.Answer(context.Background(), "Dhan kab bona hai?")
	require.NoError(t, err)
	assert.Equal(t, QnAFallback, got)

	_, err = h.svc.Answer(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_ConcurrentUse(t *testing.T) {
	h := newHarness(t, reply(cropReplyJSON))
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.RecommendCrop(context.Background(), models.CropInput{Location: "Jaipur"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}
