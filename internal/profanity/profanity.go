package profanity

import (
	goaway "github.com/TwiN/go-away"
)

// Filter wraps the go-away detector behind the two operations the rest of
// the system needs. Room names and usernames are rejected outright when
// profane; message content is censored in place, never rejected.
type Filter struct {
	detector *goaway.ProfanityDetector
}

func NewFilter() *Filter {
	return &Filter{detector: goaway.NewProfanityDetector()}
}

// Clean returns text with profane words masked.
func (f *Filter) Clean(text string) string {
	return f.detector.Censor(text)
}

// IsProfane reports whether text contains profanity.
func (f *Filter) IsProfane(text string) bool {
	return f.detector.IsProfane(text)
}
