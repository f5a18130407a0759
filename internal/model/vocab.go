package model

// Importance levels
const (
	ImportanceHigh   = "high"
	ImportanceMedium = "medium"
	ImportanceLow    = "low"
)

// Categories
const (
	CategoryProfessional   = "professional"
	CategoryPersonal       = "personal"
	CategoryNewsletter     = "newsletter"
	CategoryNotification   = "notification"
	CategoryUrgent         = "urgent"
	CategoryCommercial     = "commercial"
	CategoryAdministrative = "administrative"
)

// Reply tones, in variant order.
const (
	ToneFormal  = "formal"
	ToneCasual  = "casual"
	ToneNeutral = "neutral"
)

// Message lifecycle status
const (
	StatusUnread = "unread"
	StatusRead   = "read"
)

// ImportanceLevels is the closed importance vocabulary.
var ImportanceLevels = []string{ImportanceHigh, ImportanceMedium, ImportanceLow}

// Categories is the closed category vocabulary.
var Categories = []string{
	CategoryProfessional,
	CategoryPersonal,
	CategoryNewsletter,
	CategoryNotification,
	CategoryUrgent,
	CategoryCommercial,
	CategoryAdministrative,
}

// Tones maps variant number (1-based) to tone.
var Tones = []string{ToneFormal, ToneCasual, ToneNeutral}

// ToneForVariant returns the tone of a 1-based variant number.
func ToneForVariant(n int) string {
	if n >= 1 && n <= len(Tones) {
		return Tones[n-1]
	}
	return ToneNeutral
}

// ValidStatus reports whether s is a known lifecycle status.
func ValidStatus(s string) bool {
	return s == StatusUnread || s == StatusRead
}
