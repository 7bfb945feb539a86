package normalize

import (
	"strconv"

	"github.com/dcrawley/reveald/internal/core/model"
)

// The vendor nests weather under any of these keys depending on response
// shape; first present wins.
var weatherContainers = []string{"weatherData", "weatherRecord", "weather"}

// Field-name aliases, in priority order. New vendor variants are additive
// here rather than scattered through the extraction code.
var (
	tempAliases       = []string{"currentTemp", "temperature", "temp"}
	pressureAliases   = []string{"barometricPressure", "pressure"}
	conditionsAliases = []string{"weather", "weatherLabel", "conditions"}
	moonAliases       = []string{"moonPhase", "moon_phase"}
	sunAliases        = []string{"sunPhase", "sun_phase"}
	min12Aliases      = []string{"tempMin12hr"}
	max12Aliases      = []string{"tempMax12hr"}
	// The first alias preserves a vendor-side typo.
	departureAliases = []string{"tempDepature24hr", "past24HoursTemperatureDeparture"}
)

// weatherBlock resolves whichever container key the photo carries.
func weatherBlock(p model.RawPhoto) map[string]any {
	for _, candidate := range []map[string]any{p.WeatherData, p.WeatherRecord, p.Weather} {
		if len(candidate) > 0 {
			return candidate
		}
	}
	return nil
}

// probeFloat returns the first present, non-null numeric value among the
// aliases. Absence yields nil, never a default number.
func probeFloat(m map[string]any, aliases ...string) *float64 {
	for _, key := range aliases {
		if v, ok := asFloat(m[key]); ok {
			return &v
		}
	}
	return nil
}

func probeString(m map[string]any, aliases ...string) string {
	for _, key := range aliases {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func probeMap(m map[string]any, key string) map[string]any {
	sub, _ := m[key].(map[string]any)
	return sub
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// resolveWeather maps a raw weather block to the canonical shape.
func resolveWeather(p model.RawPhoto) *model.Weather {
	block := weatherBlock(p)
	if block == nil {
		return nil
	}

	w := &model.Weather{
		Temperature:      probeFloat(block, tempAliases...),
		TempMin12h:       probeFloat(block, min12Aliases...),
		TempMax12h:       probeFloat(block, max12Aliases...),
		TempDeparture24h: probeFloat(block, departureAliases...),
		WindGust:         probeFloat(block, "windGust"),
		Pressure:         probeFloat(block, pressureAliases...),
		PressureTendency: probeString(block, "pressureTendency"),
		Conditions:       probeString(block, conditionsAliases...),
		MoonPhase:        probeString(block, moonAliases...),
		SunPhase:         probeString(block, sunAliases...),
	}

	// The 12-hour extremes sometimes arrive as a nested range object.
	if rng := probeMap(block, "temperatureRange12Hours"); rng != nil {
		if w.TempMin12h == nil {
			w.TempMin12h = probeFloat(rng, "min")
		}
		if w.TempMax12h == nil {
			w.TempMax12h = probeFloat(rng, "max")
		}
	}

	// Wind direction is either a bare string or an object carrying speed
	// and cardinal label.
	w.WindSpeed = probeFloat(block, "windSpeed")
	switch wd := block["windDirection"].(type) {
	case string:
		w.WindDirection = wd
	case map[string]any:
		w.WindDirection = probeString(wd, "cardinalLabel", "direction")
		w.WindDegrees = probeFloat(wd, "degrees")
		if w.WindSpeed == nil {
			w.WindSpeed = probeFloat(wd, "speed")
		}
	}

	return w
}
