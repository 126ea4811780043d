package llm

import (
	"fmt"
	"net/url"
	"time"
)

// These constants define the valid ranges for common LLM parameters.
const (
	MinTemperature = 0.0
	// MaxTemperature accommodates providers like Gemini that accept up to 2.0.
	MaxTemperature = 2.0
	MinTopP        = 0.0
	MaxTopP        = 1.0
	// MinTimeout is the minimum allowed duration for a request timeout.
	MinTimeout = 1 * time.Second
	// MaxTimeout is the maximum allowed duration for a request timeout.
	MaxTimeout = 10 * time.Minute
)

// IsValidTemperature checks if the temperature is within [0.0, 2.0].
func IsValidTemperature(val float64) bool {
	return val >= MinTemperature && val <= MaxTemperature
}

// IsValidTopP checks if the top_p value is within [0.0, 1.0].
func IsValidTopP(val float64) bool {
	return val >= MinTopP && val <= MaxTopP
}

// IsPositiveInt checks if the integer value is positive.
func IsPositiveInt(val int) bool { return val > 0 }

// IsNonEmptyString checks if the string is non-empty.
func IsNonEmptyString(val string) bool { return val != "" }

// ValidateBaseURL validates and normalizes a base URL string.
// It ensures the URL has a valid scheme (http or https) and a host.
// An empty string is considered valid and returns no error, allowing for default URLs.
func ValidateBaseURL(baseURL string) (string, error) {
	if baseURL == "" {
		return "", nil
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}

	if parsedURL.Scheme == "" {
		return "", fmt.Errorf("URL must include a scheme (e.g., http:// or https://)")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", fmt.Errorf("URL scheme must be http or https, but got: %s", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return "", fmt.Errorf("URL must include a host")
	}

	return parsedURL.String(), nil
}

// ValidateTimeout clamps timeout into [MinTimeout, MaxTimeout].
// Zero or negative values return zero, meaning "use the default".
func ValidateTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 0
	}
	if timeout < MinTimeout {
		return MinTimeout
	}
	if timeout > MaxTimeout {
		return MaxTimeout
	}
	return timeout
}

// SafeInt converts a numeric value of type any to an int.
// YAML and JSON decoders hand numbers over as float64 or int64, so both are
// accepted when they fit.
func SafeInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		if int64(int(v)) != v {
			return 0, false
		}
		return int(v), true
	case float64:
		if v != v {
			return 0, false
		}
		const maxInt = int(^uint(0) >> 1)
		const minInt = -maxInt - 1
		if v > float64(maxInt) || v < float64(minInt) {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}

// ClampFloat64 clamps a float64 value to be within the specified min and max range.
func ClampFloat64(val, min, max float64) float64 {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
