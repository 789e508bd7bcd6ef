package advisory

import (
	"errors"

	"github.com/krishimitra/advisory-service/internal/extract"
	"github.com/krishimitra/advisory-service/internal/vision"
	"github.com/krishimitra/advisory-service/internal/weather"
)

var (
	ErrLLMUnavailable        = errors.New("LLM unavailable")
	ErrClassifierUnavailable = errors.New("image classifier unavailable")
	ErrInvalidInput          = errors.New("invalid input")

	ErrNoJSON              = extract.ErrNoJSON
	ErrInvalidJSON         = extract.ErrInvalidJSON
	ErrSoilUnavailable     = weather.ErrSoilUnavailable
	ErrForecastUnavailable = weather.ErrForecastUnavailable
	ErrImageNotFound       = vision.ErrImageNotFound
)
