package llm

// config.go provides helpers for extracting typed parameters from the
// generic option maps passed through the middleware chain.

// ExtractOptionalInt extracts an integer value from options map with validation.
// Returns defaultVal if key doesn't exist, value is not an int, or validator fails.
func ExtractOptionalInt(opts map[string]any, key string, defaultVal int, validator func(int) bool) int {
	if opts == nil {
		return defaultVal
	}

	val, ok := opts[key]
	if !ok {
		return defaultVal
	}

	intVal, ok := SafeInt(val)
	if !ok {
		return defaultVal
	}

	if validator != nil && !validator(intVal) {
		return defaultVal
	}

	return intVal
}

// ExtractOptionalString extracts a string value from options map with validation.
// Returns defaultVal if key doesn't exist, value is not a string, or validator fails.
func ExtractOptionalString(opts map[string]any, key string, defaultVal string, validator func(string) bool) string {
	if opts == nil {
		return defaultVal
	}

	strVal, ok := opts[key].(string)
	if !ok {
		return defaultVal
	}

	if validator != nil && !validator(strVal) {
		return defaultVal
	}

	return strVal
}

// ExtractOptionalFloat64 extracts a float64 value from options map with validation.
// Returns defaultVal if key doesn't exist, value is not a float64, or validator fails.
func ExtractOptionalFloat64(opts map[string]any, key string, defaultVal float64, validator func(float64) bool) float64 {
	if opts == nil {
		return defaultVal
	}

	floatVal, ok := opts[key].(float64)
	if !ok {
		return defaultVal
	}

	if validator != nil && !validator(floatVal) {
		return defaultVal
	}

	return floatVal
}
