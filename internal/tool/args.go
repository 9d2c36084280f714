package tool

import "tripplan-go/internal/model"

func argString(args model.JSONMap, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func argFloat(args model.JSONMap, key string, fallback float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

func argInt(args model.JSONMap, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func argUint(args model.JSONMap, key string, fallback uint) uint {
	switch v := args[key].(type) {
	case float64:
		return uint(v)
	case int:
		return uint(v)
	}
	return fallback
}

func argBool(args model.JSONMap, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

func argStringSlice(args model.JSONMap, key string) []string {
	raw, ok := args[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
