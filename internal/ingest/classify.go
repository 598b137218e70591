package ingest

import "strings"

// Work types assigned by ClassifyWorkType.
const (
	WorkTypeUtility     = "utility/transportation"
	WorkTypeMaintenance = "maintenance"
	WorkTypeUnknown     = "unknown"
)

var (
	utilityKeywords     = []string{"utility", "irrigation", "sewer", "transportation", "road", "bridge", "hydraulics", "storm drain"}
	maintenanceKeywords = []string{"landscaping", "maintenance"}
)

// ClassifyWorkType buckets an opportunity by keywords in its title. Utility keywords win over
// maintenance ones.
func ClassifyWorkType(text string) string {
	lower := strings.ToLower(text)
	if containsAny(lower, utilityKeywords) {
		return WorkTypeUtility
	}
	if containsAny(lower, maintenanceKeywords) {
		return WorkTypeMaintenance
	}
	return WorkTypeUnknown
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
