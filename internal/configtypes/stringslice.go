package configtypes

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// StringSlice can be set from environment either as JSON array or as
// comma separated list.
type StringSlice []string

func parseStringSlice(value string) (StringSlice, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return StringSlice{}, nil
	}
	if strings.HasPrefix(value, "[") {
		var items []string
		if err := json.Unmarshal([]byte(value), &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	parts := strings.Split(value, ",")
	items := make(StringSlice, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items, nil
}

func StringToStringSliceHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t != reflect.TypeOf(StringSlice{}) {
			return data, nil
		}
		return parseStringSlice(data.(string))
	}
}
