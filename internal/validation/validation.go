package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/krishimitra/advisory-service/internal/models"
)

// Length bounds in runes for request fields.
const (
	MaxLocationLength = 100
	MaxTermLength     = 50
	MaxQueryLength    = 1000
)

// ErrLocationEmpty is returned when location is empty or whitespace-only after trim.
var ErrLocationEmpty = errors.New("location is required")

// ErrLocationTooShort is returned when location length is below the minimum.
var ErrLocationTooShort = errors.New("location too short")

// ErrLocationTooLong is returned when location length exceeds the maximum.
var ErrLocationTooLong = errors.New("location too long")

// ErrLocationInvalidChars is returned when location contains disallowed characters.
var ErrLocationInvalidChars = errors.New("location contains invalid characters")

var (
	ErrTermTooLong      = errors.New("value too long")
	ErrTermInvalidChars = errors.New("value contains invalid characters")
	ErrQueryEmpty       = errors.New("query is required")
	ErrQueryTooLong     = errors.New("query too long")
)

// FieldError names the request field that failed validation.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Err.Error() }

func (e *FieldError) Unwrap() error { return e.Err }

// ValidateLocation trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to allowed characters: letters (Unicode), digits, space, comma, hyphen, period.
// Returns the trimmed string or an error suitable for 400 INVALID_INPUT responses.
func ValidateLocation(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrLocationEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrLocationTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrLocationTooLong
	}
	for _, c := range r {
		if !isAllowedLocationRune(c) {
			return "", ErrLocationInvalidChars
		}
	}
	return s, nil
}

// OptionalLocation is ValidateLocation where blank is allowed; the pipeline
// substitutes its default for an empty result.
func OptionalLocation(input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", nil
	}
	return ValidateLocation(input, 1, MaxLocationLength)
}

// ValidateTerm checks a short free-text value such as a crop, season or soil
// type. Blank is allowed.
func ValidateTerm(input string) (string, error) {
	s := strings.TrimSpace(input)
	if len([]rune(s)) > MaxTermLength {
		return "", ErrTermTooLong
	}
	for _, c := range s {
		if !isAllowedTermRune(c) {
			return "", ErrTermInvalidChars
		}
	}
	return s, nil
}

// isAllowedTermRune admits letters with their combining marks (Devanagari
// matras and anusvara), digits for variety names like HD-2967, and - ( ).
func isAllowedTermRune(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsMark(c) || unicode.IsNumber(c) ||
		c == ' ' || c == '-' || c == '(' || c == ')'
}

// ValidateQuery trims a farmer's question and rejects blank or oversized input.
func ValidateQuery(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrQueryEmpty
	}
	if len([]rune(s)) > MaxQueryLength {
		return "", ErrQueryTooLong
	}
	return s, nil
}

// CropInput validates and trims a crop recommendation request.
func CropInput(in models.CropInput) (models.CropInput, error) {
	var err error
	if in.Location, err = OptionalLocation(in.Location); err != nil {
		return in, &FieldError{Field: "location", Err: err}
	}
	if in.Season, err = ValidateTerm(in.Season); err != nil {
		return in, &FieldError{Field: "season", Err: err}
	}
	return in, nil
}

// SoilInput validates and trims a soil analysis request.
func SoilInput(in models.SoilInput) (models.SoilInput, error) {
	var err error
	if in.Crop, err = ValidateTerm(in.Crop); err != nil {
		return in, &FieldError{Field: "crop", Err: err}
	}
	if in.Location, err = OptionalLocation(in.Location); err != nil {
		return in, &FieldError{Field: "location", Err: err}
	}
	return in, nil
}

// IrrigationInput validates and trims an irrigation request.
func IrrigationInput(in models.IrrigationInput) (models.IrrigationInput, error) {
	var err error
	if in.City, err = OptionalLocation(in.City); err != nil {
		return in, &FieldError{Field: "city", Err: err}
	}
	if in.Crop, err = ValidateTerm(in.Crop); err != nil {
		return in, &FieldError{Field: "crop", Err: err}
	}
	if in.SoilType, err = ValidateTerm(in.SoilType); err != nil {
		return in, &FieldError{Field: "soil_type", Err: err}
	}
	return in, nil
}

// Query wraps ValidateQuery with the field name.
func Query(q string) (string, error) {
	s, err := ValidateQuery(q)
	if err != nil {
		return "", &FieldError{Field: "query", Err: err}
	}
	return s, nil
}

// isAllowedLocationRune returns true for letters (Unicode), digits, space, comma, hyphen, period.
func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.':
		return true
	}
	return false
}

// Describe renders err for an API message, or "invalid input" for anything unexpected.
func Describe(err error) string {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fmt.Sprintf("invalid %s: %v", fe.Field, fe.Err)
	}
	return "invalid input"
}
