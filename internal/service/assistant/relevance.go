package assistant

import "strings"

// RefusalMessage is appended instead of calling the model for off-topic input.
const RefusalMessage = "I'm sorry, I can only answer questions regarding travel, tourism, wildlife, and hotels."

// Keywords that mark an utterance as on-topic. Matching is a case-insensitive
// substring test, so "parking" matches "park".
var Keywords = []string{
	"travel", "tourism", "wildlife", "hotels", "destination", "adventure",
	"safari", "bird", "park", "species", "reserve", "sanctuary", "animal",
	"food", "culinary", "sightseeing", "trails", "hiking", "luxury", "beach",
	"pet-friendly", "visit", "resort",
}

// IsRelevant reports whether utterance mentions any keyword.
func IsRelevant(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, kw := range Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
