package normalize

import (
	"strconv"
	"strings"

	"github.com/dcrawley/reveald/internal/core/model"
)

// Common US operator codes seen on Reveal eSIMs.
var carrierNames = map[string]string{
	"310260": "T-Mobile",
	"310120": "Sprint",
	"311480": "Verizon",
	"310410": "AT&T",
	"310150": "AT&T",
	"310170": "AT&T",
	"310030": "AT&T",
	"311580": "US Cellular",
}

// ParseServingCell decomposes the modem's serving-cell diagnostic string,
// a fixed 7-field CSV: network type, operator code, band, frequency, RSSI,
// RSRP, RSRQ. Returns nil when the string does not match that shape.
func ParseServingCell(raw string) *model.ServingCell {
	parts := strings.Split(raw, ",")
	if len(parts) < 7 {
		return nil
	}

	cell := &model.ServingCell{
		NetworkType:  strings.TrimSpace(parts[0]),
		OperatorCode: strings.TrimSpace(parts[1]),
		Band:         strings.TrimSpace(parts[2]),
		Raw:          raw,
	}
	cell.FrequencyMHz, _ = strconv.Atoi(strings.TrimSpace(parts[3]))
	cell.RSSI, _ = strconv.Atoi(strings.TrimSpace(parts[4]))
	cell.RSRP, _ = strconv.Atoi(strings.TrimSpace(parts[5]))
	cell.RSRQ, _ = strconv.Atoi(strings.TrimSpace(parts[6]))

	if name, ok := carrierNames[cell.OperatorCode]; ok {
		cell.CarrierName = name
	} else {
		cell.CarrierName = "Unknown (" + cell.OperatorCode + ")"
	}
	cell.Quality = SignalQuality(cell.RSSI)

	return cell
}

// SignalQuality buckets an RSSI reading into a qualitative label.
func SignalQuality(rssi int) string {
	switch {
	case rssi >= -70:
		return "Excellent"
	case rssi >= -85:
		return "Good"
	case rssi >= -100:
		return "Fair"
	default:
		return "Poor"
	}
}
