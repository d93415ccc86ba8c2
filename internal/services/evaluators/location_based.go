package evaluators

import (
	"fmt"
	"math"
	"net"
	"strings"

	"github.com/platformbuilds/authz-core/internal/models"
)

const earthRadiusKm = 6371.0

// LocationBasedEvaluator matches the caller's location against allow and
// deny lists. Denied locations take precedence; when an allow list exists,
// at least one entry must match. A single location rule may constrain
// country, city, IP (exact, CIDR, or wildcard) and a coordinate radius;
// every constraint set on the rule must hold for the rule to match.
type LocationBasedEvaluator struct{}

func NewLocationBasedEvaluator() *LocationBasedEvaluator {
	return &LocationBasedEvaluator{}
}

func (e *LocationBasedEvaluator) Type() models.PolicyType { return models.PolicyLocationBased }

func (e *LocationBasedEvaluator) Evaluate(rules models.JSONMap, evalCtx *models.EvaluationContext) (*models.PolicyEvaluationResult, error) {
	if evalCtx == nil {
		evalCtx = &models.EvaluationContext{}
	}

	if raw, ok := rules["deniedLocations"]; ok {
		denied, ok := asSlice(raw)
		if !ok {
			return nil, invalidRules("deniedLocations must be a list")
		}
		for i, locRaw := range denied {
			match, err := e.matchLocation(locRaw, evalCtx, fmt.Sprintf("deniedLocations[%d]", i))
			if err != nil {
				return nil, err
			}
			if match {
				return notApplicable("location matches a denied location"), nil
			}
		}
	}

	if raw, ok := rules["allowedLocations"]; ok {
		allowed, ok := asSlice(raw)
		if !ok {
			return nil, invalidRules("allowedLocations must be a list")
		}
		for i, locRaw := range allowed {
			match, err := e.matchLocation(locRaw, evalCtx, fmt.Sprintf("allowedLocations[%d]", i))
			if err != nil {
				return nil, err
			}
			if match {
				return applicable("location matches an allowed location"), nil
			}
		}
		return notApplicable("location matches no allowed location"), nil
	}

	return applicable("no allowed locations configured"), nil
}

// locationRule is the parsed form of one allow/deny entry.
type locationRule struct {
	country   string
	city      string
	ip        string
	hasRadius bool
	lat, lon  float64
	radiusKm  float64
}

// parseLocation validates structure independently of the context so policy
// writes reject bad entries even when matching would short-circuit.
func parseLocation(raw interface{}, path string) (*locationRule, error) {
	loc, ok := asMap(raw)
	if !ok {
		return nil, invalidRules("%s must be an object", path)
	}

	rule := &locationRule{}
	constrained := false

	if countryRaw, ok := loc["country"]; ok {
		constrained = true
		if rule.country, ok = asString(countryRaw); !ok || rule.country == "" {
			return nil, invalidRules("%s.country must be a non-empty string", path)
		}
	}
	if cityRaw, ok := loc["city"]; ok {
		constrained = true
		if rule.city, ok = asString(cityRaw); !ok || rule.city == "" {
			return nil, invalidRules("%s.city must be a non-empty string", path)
		}
	}
	if ipRaw, ok := loc["ip"]; ok {
		constrained = true
		if rule.ip, ok = asString(ipRaw); !ok {
			return nil, invalidRules("%s.ip must be a string", path)
		}
		if err := validateIPPattern(rule.ip, path); err != nil {
			return nil, err
		}
	}
	if radiusRaw, ok := loc["radiusKm"]; ok {
		constrained = true
		rule.hasRadius = true
		if rule.radiusKm, ok = asFloat(radiusRaw); !ok || rule.radiusKm <= 0 {
			return nil, invalidRules("%s.radiusKm must be a positive number", path)
		}
		var latOK, lonOK bool
		rule.lat, latOK = asFloat(loc["latitude"])
		rule.lon, lonOK = asFloat(loc["longitude"])
		if !latOK || !lonOK {
			return nil, invalidRules("%s requires latitude and longitude with radiusKm", path)
		}
	}

	if !constrained {
		return nil, invalidRules("%s has no recognized constraint (country, city, ip, radiusKm)", path)
	}
	return rule, nil
}

func (e *LocationBasedEvaluator) matchLocation(raw interface{}, evalCtx *models.EvaluationContext, path string) (bool, error) {
	rule, err := parseLocation(raw, path)
	if err != nil {
		return false, err
	}

	if rule.country != "" {
		if evalCtx.Country == "" || !strings.EqualFold(rule.country, evalCtx.Country) {
			return false, nil
		}
	}
	if rule.city != "" {
		if evalCtx.City == "" || !strings.EqualFold(rule.city, evalCtx.City) {
			return false, nil
		}
	}
	if rule.ip != "" {
		if !matchIP(rule.ip, evalCtx.IPAddress) {
			return false, nil
		}
	}
	if rule.hasRadius {
		if evalCtx.Latitude == nil || evalCtx.Longitude == nil {
			return false, nil
		}
		if haversineKm(rule.lat, rule.lon, *evalCtx.Latitude, *evalCtx.Longitude) > rule.radiusKm {
			return false, nil
		}
	}
	return true, nil
}

// validateIPPattern accepts an exact address, a CIDR block, or a shell-style
// wildcard like "10.0.*.*".
func validateIPPattern(pattern, path string) error {
	if strings.Contains(pattern, "/") {
		if _, _, err := net.ParseCIDR(pattern); err != nil {
			return invalidRules("%s.ip %q is not a valid CIDR block", path, pattern)
		}
		return nil
	}
	if strings.ContainsAny(pattern, "*?") {
		return nil
	}
	if net.ParseIP(pattern) == nil {
		return invalidRules("%s.ip %q is not a valid address, CIDR, or wildcard", path, pattern)
	}
	return nil
}

// matchIP assumes the pattern already passed validateIPPattern.
func matchIP(pattern, addr string) bool {
	if addr == "" {
		return false
	}
	if strings.Contains(pattern, "/") {
		_, block, err := net.ParseCIDR(pattern)
		if err != nil {
			return false
		}
		ip := net.ParseIP(addr)
		return ip != nil && block.Contains(ip)
	}
	if strings.ContainsAny(pattern, "*?") {
		return wildcardMatch(pattern, addr)
	}
	return pattern == addr
}

// wildcardMatch implements shell-style matching with * and ? only.
func wildcardMatch(pattern, s string) bool {
	// Iterative two-pointer match with backtracking over the last star.
	pi, si := 0, 0
	star, mark := -1, 0
	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

// haversineKm is the great-circle distance between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func (e *LocationBasedEvaluator) Validate(rules models.JSONMap) error {
	if len(rules) == 0 {
		return invalidRules("location-based policy requires allowedLocations or deniedLocations")
	}
	for key := range rules {
		switch key {
		case "allowedLocations", "deniedLocations":
		default:
			return invalidRules("unknown location-based rule %q", key)
		}
	}

	for _, key := range []string{"allowedLocations", "deniedLocations"} {
		raw, ok := rules[key]
		if !ok {
			continue
		}
		list, ok := asSlice(raw)
		if !ok {
			return invalidRules("%s must be a list", key)
		}
		for i, locRaw := range list {
			if _, err := parseLocation(locRaw, fmt.Sprintf("%s[%d]", key, i)); err != nil {
				return err
			}
		}
	}
	return nil
}
