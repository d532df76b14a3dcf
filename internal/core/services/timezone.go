package services

import (
	"strings"
	"time"
)

// tzAliases maps common non-IANA timezone labels to a best-effort IANA zone.
// Keys are lowercased, spaces collapsed to underscores.
var tzAliases = map[string]string{
	// fixed-offset labels
	"utc":      "UTC",
	"gmt":      "UTC",
	"utc+0":    "UTC",
	"utc-0":    "UTC",
	"gmt+0":    "UTC",
	"utc+1":    "Europe/Paris",
	"utc+2":    "Europe/Athens",
	"utc+3":    "Europe/Moscow",
	"utc+4":    "Asia/Dubai",
	"utc+5":    "Asia/Karachi",
	"utc+5:30": "Asia/Kolkata",
	"utc+6":    "Asia/Dhaka",
	"utc+7":    "Asia/Bangkok",
	"utc+8":    "Asia/Shanghai",
	"utc+9":    "Asia/Tokyo",
	"utc+10":   "Australia/Sydney",
	"utc+12":   "Pacific/Auckland",
	"utc-3":    "America/Sao_Paulo",
	"utc-4":    "America/New_York",
	"utc-5":    "America/New_York",
	"utc-6":    "America/Chicago",
	"utc-7":    "America/Denver",
	"utc-8":    "America/Los_Angeles",
	"utc-9":    "America/Anchorage",
	"utc-10":   "Pacific/Honolulu",

	// abbreviation codes
	"est":  "America/New_York",
	"edt":  "America/New_York",
	"cst":  "America/Chicago",
	"cdt":  "America/Chicago",
	"mst":  "America/Denver",
	"mdt":  "America/Denver",
	"pst":  "America/Los_Angeles",
	"pdt":  "America/Los_Angeles",
	"bst":  "Europe/London",
	"cet":  "Europe/Berlin",
	"cest": "Europe/Berlin",
	"eet":  "Europe/Athens",
	"ist":  "Asia/Kolkata",
	"jst":  "Asia/Tokyo",
	"kst":  "Asia/Seoul",
	"aest": "Australia/Sydney",
	"aedt": "Australia/Sydney",
	"wib":  "Asia/Jakarta",
	"brt":  "America/Sao_Paulo",

	// major city names
	"new_york":      "America/New_York",
	"nyc":           "America/New_York",
	"chicago":       "America/Chicago",
	"denver":        "America/Denver",
	"los_angeles":   "America/Los_Angeles",
	"san_francisco": "America/Los_Angeles",
	"sao_paulo":     "America/Sao_Paulo",
	"são_paulo":     "America/Sao_Paulo",
	"london":        "Europe/London",
	"paris":         "Europe/Paris",
	"berlin":        "Europe/Berlin",
	"madrid":        "Europe/Madrid",
	"moscow":        "Europe/Moscow",
	"dubai":         "Asia/Dubai",
	"mumbai":        "Asia/Kolkata",
	"delhi":         "Asia/Kolkata",
	"jakarta":       "Asia/Jakarta",
	"singapore":     "Asia/Singapore",
	"hong_kong":     "Asia/Hong_Kong",
	"shanghai":      "Asia/Shanghai",
	"beijing":       "Asia/Shanghai",
	"tokyo":         "Asia/Tokyo",
	"seoul":         "Asia/Seoul",
	"sydney":        "Australia/Sydney",
	"auckland":      "Pacific/Auckland",
}

// ResolveTimezone maps a user-supplied timezone string to a canonical IANA
// zone name. Canonical IANA names pass through unchanged; common aliases
// (offset labels, abbreviations, city names) map to a best-effort equivalent;
// anything unrecognized falls back to UTC. Pure function, no I/O beyond the
// zone database lookup for pass-through validation.
func ResolveTimezone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "UTC"
	}

	// canonical IANA names load as-is
	if _, err := time.LoadLocation(raw); err == nil {
		return raw
	}

	key := strings.ToLower(raw)
	key = strings.Join(strings.Fields(key), "_")
	if zone, ok := tzAliases[key]; ok {
		return zone
	}
	return "UTC"
}

// LoadLocation resolves raw and loads the zone, falling back to UTC if the
// resolved name is missing from the local zone database.
func LoadLocation(raw string) *time.Location {
	loc, err := time.LoadLocation(ResolveTimezone(raw))
	if err != nil {
		return time.UTC
	}
	return loc
}
