package ingest

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Validation limits
const (
	MaxMetricNameLength   = 256  // Maximum metric name length
	MaxContextKeys        = 50   // Maximum keys in a context object
	MaxContextKeyLength   = 256  // Maximum context key length
	MaxMessageLength      = 8192 // Maximum error or alert message length
	MaxStackLength        = 65536
	maxUnknownFieldsTotal = MaxContextKeys
)

var (
	// ErrInvalidJSON is returned when the body is not valid JSON
	ErrInvalidJSON = errors.New("invalid JSON")

	// ErrNotObject is returned when the body is not a JSON object
	ErrNotObject = errors.New("payload must be a JSON object")

	// ErrMetricNameEmpty is returned when a sample has no metric name
	ErrMetricNameEmpty = errors.New("metric name cannot be empty")

	// ErrMetricNameTooLong is returned when a metric name is too long
	ErrMetricNameTooLong = fmt.Errorf("metric name too long (max %d chars)", MaxMetricNameLength)

	// ErrValueNotNumeric is returned when a sample value is missing or not a number
	ErrValueNotNumeric = errors.New("value must be a number")

	// ErrFieldType is returned when a known field has the wrong JSON type
	ErrFieldType = errors.New("field has wrong type")

	// ErrTooManyContextKeys is returned when a context object is too large
	ErrTooManyContextKeys = fmt.Errorf("too many context keys (max %d)", MaxContextKeys)

	// ErrContextKeyTooLong is returned when a context key is too long
	ErrContextKeyTooLong = fmt.Errorf("context key too long (max %d chars)", MaxContextKeyLength)

	// ErrMessageTooLong is returned when a message or stack is too long
	ErrMessageTooLong = fmt.Errorf("message too long (max %d chars)", MaxMessageLength)
)

// parseObject checks that body is a JSON object and returns it parsed
func parseObject(body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, ErrInvalidJSON
	}
	res := gjson.ParseBytes(body)
	if !res.IsObject() {
		return gjson.Result{}, ErrNotObject
	}
	return res, nil
}

// ValidateSample validates a Sample-shaped body
func ValidateSample(body []byte) error {
	res, err := parseObject(body)
	if err != nil {
		return err
	}

	metric := res.Get("metric")
	switch {
	case !metric.Exists() || metric.Type == gjson.Null:
		return ErrMetricNameEmpty
	case metric.Type != gjson.String:
		return fmt.Errorf("%w: metric", ErrFieldType)
	case metric.Str == "":
		return ErrMetricNameEmpty
	case len(metric.Str) > MaxMetricNameLength:
		return fmt.Errorf("%w: %q has %d chars", ErrMetricNameTooLong, metric.Str[:32], len(metric.Str))
	}

	if v := res.Get("value"); v.Type != gjson.Number {
		return ErrValueNotNumeric
	}

	for _, field := range []string{"delta", "timestamp"} {
		if err := checkType(res, field, gjson.Number); err != nil {
			return err
		}
	}
	for _, field := range []string{"url", "id", "navigationType", "userAgent", "sessionId"} {
		if err := checkType(res, field, gjson.String); err != nil {
			return err
		}
	}
	if err := checkUserID(res); err != nil {
		return err
	}
	if err := checkContext(res.Get("context")); err != nil {
		return err
	}
	if n := len(unknownFields(res, sampleFields)); n > maxUnknownFieldsTotal {
		return fmt.Errorf("%w: %d unrecognised fields", ErrTooManyContextKeys, n)
	}
	return nil
}

// ValidateError validates an ErrorRecord-shaped body
func ValidateError(body []byte) error {
	res, err := parseObject(body)
	if err != nil {
		return err
	}

	for _, field := range []string{"type", "message", "stack", "filename", "url", "userAgent", "sessionId"} {
		if err := checkType(res, field, gjson.String); err != nil {
			return err
		}
	}
	for _, field := range []string{"lineno", "colno", "timestamp"} {
		if err := checkType(res, field, gjson.Number); err != nil {
			return err
		}
	}
	if err := checkUserID(res); err != nil {
		return err
	}
	if len(res.Get("message").Str) > MaxMessageLength || len(res.Get("stack").Str) > MaxStackLength {
		return ErrMessageTooLong
	}
	if err := checkContext(res.Get("context")); err != nil {
		return err
	}
	return checkContext(res.Get("performanceMetrics"))
}

// ValidateAlert validates an Alert-shaped body
func ValidateAlert(body []byte) error {
	res, err := parseObject(body)
	if err != nil {
		return err
	}

	for _, field := range []string{"id", "type", "severity", "message"} {
		if err := checkType(res, field, gjson.String); err != nil {
			return err
		}
	}
	if err := checkType(res, "timestamp", gjson.Number); err != nil {
		return err
	}
	if len(res.Get("message").Str) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// checkType accepts an absent or null field, otherwise requires typ
func checkType(res gjson.Result, field string, typ gjson.Type) error {
	v := res.Get(field)
	if !v.Exists() || v.Type == gjson.Null || v.Type == typ {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrFieldType, field)
}

func checkUserID(res gjson.Result) error {
	return checkType(res, "userId", gjson.String)
}

// checkContext accepts an absent or null context, otherwise requires a
// bounded JSON object
func checkContext(ctx gjson.Result) error {
	if !ctx.Exists() || ctx.Type == gjson.Null {
		return nil
	}
	if !ctx.IsObject() {
		return fmt.Errorf("%w: context", ErrFieldType)
	}

	var n int
	var err error
	ctx.ForEach(func(key, _ gjson.Result) bool {
		n++
		if n > MaxContextKeys {
			err = ErrTooManyContextKeys
			return false
		}
		if len(key.Str) > MaxContextKeyLength {
			err = ErrContextKeyTooLong
			return false
		}
		return true
	})
	return err
}
