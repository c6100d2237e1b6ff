package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/answerflow/coreengine/typeutil"
)

type unitDef struct {
	dimension string
	// factor converts one of this unit into the dimension's base unit.
	factor float64
}

// Base units: metre, kilogram, second, litre.
var linearUnits = map[string]unitDef{
	"mm": {"length", 0.001}, "millimeter": {"length", 0.001}, "millimetre": {"length", 0.001},
	"cm": {"length", 0.01}, "centimeter": {"length", 0.01}, "centimetre": {"length", 0.01},
	"m": {"length", 1}, "meter": {"length", 1}, "metre": {"length", 1},
	"km": {"length", 1000}, "kilometer": {"length", 1000}, "kilometre": {"length", 1000},
	"in": {"length", 0.0254}, "inch": {"length", 0.0254},
	"ft": {"length", 0.3048}, "foot": {"length", 0.3048}, "feet": {"length", 0.3048},
	"yd": {"length", 0.9144}, "yard": {"length", 0.9144},
	"mi": {"length", 1609.344}, "mile": {"length", 1609.344},

	"mg": {"mass", 0.000001}, "milligram": {"mass", 0.000001},
	"g": {"mass", 0.001}, "gram": {"mass", 0.001},
	"kg": {"mass", 1}, "kilogram": {"mass", 1},
	"t": {"mass", 1000}, "tonne": {"mass", 1000},
	"oz": {"mass", 0.028349523125}, "ounce": {"mass", 0.028349523125},
	"lb": {"mass", 0.45359237}, "pound": {"mass", 0.45359237},

	"ms": {"time", 0.001}, "millisecond": {"time", 0.001},
	"s": {"time", 1}, "sec": {"time", 1}, "second": {"time", 1},
	"min": {"time", 60}, "minute": {"time", 60},
	"h": {"time", 3600}, "hr": {"time", 3600}, "hour": {"time", 3600},
	"day": {"time", 86400},
	"week": {"time", 604800},

	"ml": {"volume", 0.001}, "milliliter": {"volume", 0.001}, "millilitre": {"volume", 0.001},
	"l": {"volume", 1}, "liter": {"volume", 1}, "litre": {"volume", 1},
	"gal": {"volume", 3.785411784}, "gallon": {"volume", 3.785411784},
}

var temperatureUnits = map[string]string{
	"c": "c", "celsius": "c",
	"f": "f", "fahrenheit": "f",
	"k": "k", "kelvin": "k",
}

// UnitConverterTool converts a value between units of length, mass, time,
// volume or temperature.
func UnitConverterTool() *ToolDefinition {
	return &ToolDefinition{
		Name:        "unit_converter",
		Description: "Convert a numeric value between units of length, mass, time, volume or temperature.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"value":     map[string]any{"type": "number", "description": "Value to convert"},
				"from_unit": map[string]any{"type": "string", "description": "Source unit, e.g. km"},
				"to_unit":   map[string]any{"type": "string", "description": "Target unit, e.g. mile"},
			},
			"required": []any{"value", "from_unit", "to_unit"},
		},
		Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			value, ok := typeutil.SafeFloat64(params["value"])
			if !ok {
				return nil, fmt.Errorf("parameter 'value' must be a number")
			}
			from, err := stringParam(params, "from_unit")
			if err != nil {
				return nil, err
			}
			to, err := stringParam(params, "to_unit")
			if err != nil {
				return nil, err
			}
			out, err := Convert(value, from, to)
			if err != nil {
				return nil, err
			}
			return map[string]any{"result": FormatNumber(out), "unit": to}, nil
		},
	}
}

// Convert converts value from one unit to another. Unit names are matched
// case-insensitively and a trailing plural "s" is accepted.
func Convert(value float64, from, to string) (float64, error) {
	fromKey, toKey := normalizeUnit(from), normalizeUnit(to)

	if ft, ok := temperatureUnits[fromKey]; ok {
		tt, ok := temperatureUnits[toKey]
		if !ok {
			return 0, fmt.Errorf("cannot convert temperature to %q", to)
		}
		return fromKelvin(toKelvin(value, ft), tt), nil
	}

	fu, ok := linearUnits[fromKey]
	if !ok {
		return 0, fmt.Errorf("unknown unit %q", from)
	}
	tu, ok := linearUnits[toKey]
	if !ok {
		return 0, fmt.Errorf("unknown unit %q", to)
	}
	if fu.dimension != tu.dimension {
		return 0, fmt.Errorf("cannot convert %s to %s", fu.dimension, tu.dimension)
	}
	return value * fu.factor / tu.factor, nil
}

func normalizeUnit(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if _, ok := linearUnits[key]; ok {
		return key
	}
	if _, ok := temperatureUnits[key]; ok {
		return key
	}
	if key == "degrees celsius" || key == "degrees fahrenheit" {
		return strings.TrimPrefix(key, "degrees ")
	}
	return strings.TrimSuffix(key, "s")
}

func toKelvin(v float64, unit string) float64 {
	switch unit {
	case "c":
		return v + 273.15
	case "f":
		return (v-32)*5/9 + 273.15
	default:
		return v
	}
}

func fromKelvin(v float64, unit string) float64 {
	switch unit {
	case "c":
		return v - 273.15
	case "f":
		return (v-273.15)*9/5 + 32
	default:
		return v
	}
}
