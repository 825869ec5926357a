package models

import "strings"

// Doc — документ трекинга "как есть": произвольные поля от апстрима.
// Values are whatever json.Unmarshal produces (string, float64, bool, nil, ...).
type Doc map[string]any

// String returns the field as a non-empty string, or ("", false).
func (d Doc) String(key string) (string, bool) {
	v, ok := d[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Resolve walks the accepted field names in priority order and returns the
// first non-empty string value.
func (d Doc) Resolve(names []string) (string, bool) {
	for _, n := range names {
		if s, ok := d.String(n); ok {
			return s, true
		}
	}
	return "", false
}

// StatusLower returns the record status normalized to lower case.
func (d Doc) StatusLower() string {
	s, _ := d.String("status")
	return strings.ToLower(s)
}
