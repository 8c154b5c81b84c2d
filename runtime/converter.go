package runtime

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// DecodeConfig converts an action's raw config map into a typed struct using
// json tags, with duration/time conversions and weak typing so YAML integers
// and floats coerce sensibly.
func DecodeConfig(config map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: "json",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(config); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

// ToStringValueMap flattens a map of arbitrary scalar values into strings,
// for header and query-parameter style config fields.
func ToStringValueMap(m map[string]any) map[string]string {
	result := make(map[string]string, len(m))
	for key, value := range m {
		switch v := value.(type) {
		case string:
			result[key] = v
		case int:
			result[key] = fmt.Sprintf("%d", v)
		case float64:
			result[key] = fmt.Sprintf("%f", v)
		case bool:
			result[key] = fmt.Sprintf("%t", v)
		case nil:
			result[key] = ""
		default:
			result[key] = fmt.Sprintf("%v", v)
		}
	}
	return result
}
