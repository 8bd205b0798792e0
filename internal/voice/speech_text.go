package voice

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/annotation"
)

var (
	speechURLPattern          = regexp.MustCompile(`https?://\S+`)
	speechFencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	speechInlineCodePattern   = regexp.MustCompile("`[^`]*`")
	speechMarkdownLinkPattern = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
)

// sanitizeSpeechText removes markup and symbol noise from model text so TTS
// sounds conversational. Text is cleaned between annotation markers only, so
// a marker made of symbols still reaches the provider intact.
func sanitizeSpeechText(raw, marker string) string {
	if marker == "" {
		marker = annotation.DefaultMarker
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	raw = speechFencedCodePattern.ReplaceAllString(raw, " ")
	raw = speechInlineCodePattern.ReplaceAllString(raw, " ")
	raw = speechMarkdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = speechURLPattern.ReplaceAllString(raw, " ")

	fragments := strings.Split(raw, marker)
	for i, f := range fragments {
		cleaned := cleanSpeechFragment(f)
		if cleaned == "" {
			if strings.TrimSpace(f) != f {
				fragments[i] = " "
			} else {
				fragments[i] = ""
			}
			continue
		}
		if first, _ := utf8.DecodeRuneInString(f); unicode.IsSpace(first) {
			cleaned = " " + cleaned
		}
		if last, _ := utf8.DecodeLastRuneInString(f); unicode.IsSpace(last) {
			cleaned += " "
		}
		fragments[i] = cleaned
	}
	out := strings.Join(strings.Fields(strings.Join(fragments, marker)), " ")
	if strings.Trim(out, marker+" ") == "" {
		return ""
	}
	return out
}

func cleanSpeechFragment(raw string) string {
	raw = strings.NewReplacer(
		"*", " ",
		"_", " ",
		"\\", " ",
		"/", " ",
		"|", " ",
		"#", " ",
		"~", " ",
		"<", " ",
		">", " ",
	).Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true

	for _, r := range raw {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
			continue
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			continue
		case isSpeechSafePunctuation(r):
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsPunct(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}

	return strings.TrimSpace(b.String())
}

func isSpeechSafePunctuation(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '"', '-', '(', ')':
		return true
	default:
		return false
	}
}

// stripAnnotations removes every marker-delimited region from text for
// display. Unpaired markers leave the text untouched, matching the audio side
// where nothing is trimmed.
func stripAnnotations(text, marker string) string {
	if marker == "" {
		marker = annotation.DefaultMarker
	}
	parts := strings.Split(text, marker)
	if len(parts) == 1 || len(parts)%2 == 0 {
		return text
	}
	var b strings.Builder
	for i := 0; i < len(parts); i += 2 {
		b.WriteString(parts[i])
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
