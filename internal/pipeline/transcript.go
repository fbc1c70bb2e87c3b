package pipeline

import (
	"strings"
	"unicode"
)

// BlankAudioToken is what whisper emits for windows without speech.
const BlankAudioToken = "[BLANK_AUDIO]"

func IsBlankTranscript(transcript string) bool {
	trimmed := strings.TrimSpace(transcript)
	if trimmed == "" {
		return true
	}

	return strings.EqualFold(trimmed, BlankAudioToken)
}

// PlainText keeps letters and whitespace, lowercased and trimmed, so the
// transcript can be matched against spoken commands.
func PlainText(transcript string) string {
	var b strings.Builder
	b.Grow(len(transcript))
	for _, r := range transcript {
		if unicode.IsLetter(r) || unicode.IsSpace(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return strings.TrimSpace(b.String())
}

func noSpeechHint() string {
	return "No speech detected. Check that the recording captured audio, then try again."
}

// trimLineEnding removes one trailing "\n" and a "\r" before it. A lone
// trailing "\r" is part of the filename.
func trimLineEnding(line string) string {
	trimmed, ok := strings.CutSuffix(line, "\n")
	if !ok {
		return line
	}
	return strings.TrimSuffix(trimmed, "\r")
}

// SingleLine folds a multi-segment transcript onto one line so stdout
// carries exactly one line per input.
func SingleLine(transcript string) string {
	lines := strings.FieldsFunc(transcript, func(r rune) bool {
		return r == '\n' || r == '\r' || r == '\v' || r == '\f' || r == '\u2028' || r == '\u2029' || r == '\u0085'
	})
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, " ")
}
