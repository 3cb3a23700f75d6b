package usecase

import (
	"regexp"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
)

// Intent is what a message asks the assistant to produce
type Intent string

const (
	IntentChat   Intent = "chat"
	IntentImage  Intent = "image"
	IntentSpeech Intent = "speech"
	IntentVideo  Intent = "video"
	IntentMusic  Intent = "music"
)

var (
	imageIntentRe = regexp.MustCompile(`(?i)(^/imagine\b|\b(draw|generate|create|make|paint|sketch|render|design)\b.{0,40}\b(image|picture|pic|photo|drawing|illustration|artwork|logo|portrait|wallpaper|avatar)s?\b|\b(edit|modify|change|recolor)\b.{0,30}\b(this|the|my)\s+(image|picture|photo)\b)`)
	speechIntentRe = regexp.MustCompile(`(?i)(\b(say|read|speak)\b.{0,40}\b(out loud|aloud)\b|\btext[- ]to[- ]speech\b|\btts\b|\bvoice (message|note)\b)`)
	videoIntentRe  = regexp.MustCompile(`(?i)\b(generate|create|make|render)\b.{0,40}\b(video|animation|clip|movie)s?\b`)
	musicIntentRe  = regexp.MustCompile(`(?i)\b(generate|create|make|compose|write)\b.{0,40}\b(song|music|melody|track|beat|tune)s?\b`)
)

// DetectIntent classifies a message with keyword heuristics
func DetectIntent(text string) Intent {
	switch {
	case videoIntentRe.MatchString(text):
		return IntentVideo
	case musicIntentRe.MatchString(text):
		return IntentMusic
	case imageIntentRe.MatchString(text):
		return IntentImage
	case speechIntentRe.MatchString(text):
		return IntentSpeech
	default:
		return IntentChat
	}
}

// ResolveIntent applies the session mode; only auto mode uses detection
func ResolveIntent(mode domain.SessionMode, text string) Intent {
	switch mode.Canonical() {
	case domain.ModeImage:
		return IntentImage
	case domain.ModeAudio:
		return IntentSpeech
	case domain.ModeVideo:
		return IntentVideo
	case domain.ModeMusic:
		return IntentMusic
	case domain.ModeChat:
		return IntentChat
	default:
		return DetectIntent(text)
	}
}
