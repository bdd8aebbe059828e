package orchestrator

import (
	"regexp"
	"strings"

	"github.com/qpcr-scurve/engine/internal/domain"
)

// controlSuffix matches a trailing H/M/L control marker, optionally
// followed by a replicate number, e.g. "Sample-H2", "PanelH".
var controlSuffix = regexp.MustCompile(`([HML])-?\d*$`)

// DetectRole classifies a well by its sample name (§4.8 Role detection),
// trying patterns in order and taking the first match: suffix marker,
// then "NTC", then an embedded "H-"/"M-"/"L-" token. No match is UNKNOWN.
func DetectRole(sampleName string) domain.Role {
	if m := controlSuffix.FindStringSubmatch(sampleName); m != nil {
		switch m[1] {
		case "H":
			return domain.RoleControlH
		case "M":
			return domain.RoleControlM
		case "L":
			return domain.RoleControlL
		}
	}

	upper := strings.ToUpper(sampleName)
	if strings.Contains(upper, "NTC") {
		return domain.RoleNTC
	}
	switch {
	case strings.Contains(upper, "H-"):
		return domain.RoleControlH
	case strings.Contains(upper, "M-"):
		return domain.RoleControlM
	case strings.Contains(upper, "L-"):
		return domain.RoleControlL
	}
	return domain.RoleUnknown
}

// controlLevel returns the single-letter control level ("H", "M", "L") for
// a Role, and false when the role is not a control.
func controlLevel(role domain.Role) (string, bool) {
	switch role {
	case domain.RoleControlH:
		return "H", true
	case domain.RoleControlM:
		return "M", true
	case domain.RoleControlL:
		return "L", true
	}
	return "", false
}
