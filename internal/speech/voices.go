package speech

import (
	"bufio"
	"strings"

	"golang.org/x/text/language"
)

// LocalVoice is one on-device voice
type LocalVoice struct {
	ID     string `json:"id"`     // value passed to the engine's voice flag
	Name   string `json:"name"`
	Locale string `json:"locale"` // e.g. en-US, as reported by the engine
}

// SelectVoice picks the voice for lang: an exact locale match, then a voice
// with the same base language, then the first voice. It returns nil when
// voices is empty.
func SelectVoice(voices []LocalVoice, lang string) *LocalVoice {
	if len(voices) == 0 {
		return nil
	}

	want := normalizeLocale(lang)
	if want != "" {
		for i := range voices {
			if normalizeLocale(voices[i].Locale) == want {
				return &voices[i]
			}
		}

		wantBase := baseLanguage(want)
		for i := range voices {
			if baseLanguage(normalizeLocale(voices[i].Locale)) == wantBase {
				return &voices[i]
			}
		}
	}

	return &voices[0]
}

func normalizeLocale(locale string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(locale), "_", "-"))
}

// baseLanguage returns the ISO 639 base of a locale ("pt-br" -> "pt")
func baseLanguage(locale string) string {
	if locale == "" {
		return ""
	}
	if tag, err := language.Parse(locale); err == nil {
		if base, conf := tag.Base(); conf != language.No {
			return base.String()
		}
	}
	if i := strings.IndexByte(locale, '-'); i > 0 {
		return locale[:i]
	}
	return locale
}

// parseSayVoices parses `say -v ?` output:
//
//	Alex                en_US    # Most people recognize me by my voice.
func parseSayVoices(out string) []LocalVoice {
	var result []LocalVoice
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		locale := fields[len(fields)-1]
		name := strings.Join(fields[:len(fields)-1], " ")
		result = append(result, LocalVoice{ID: name, Name: name, Locale: locale})
	}
	return result
}

// parseEspeakVoices parses `espeak-ng --voices` output:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US
func parseEspeakVoices(out string) []LocalVoice {
	var result []LocalVoice
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[0] == "Pty" {
			continue
		}
		result = append(result, LocalVoice{
			ID:     fields[1],
			Name:   strings.ReplaceAll(fields[3], "_", " "),
			Locale: fields[1],
		})
	}
	return result
}
