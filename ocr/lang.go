package ocr

import "unicode"

// script is the coarse writing-system bucket used for span attribution.
type script int

const (
	scriptLatin script = iota
	scriptCyrillic
	scriptGreek
	scriptHan
	scriptKana
	scriptHangul
	scriptArabic
	scriptHebrew
	scriptDevanagari
	scriptThai
)

// langScripts maps tesseract language codes to the scripts they are written
// in. Codes not listed here default to Latin, which is what most traineddata
// files cover anyway.
var langScripts = map[string][]script{
	"rus":     {scriptCyrillic},
	"ukr":     {scriptCyrillic},
	"bul":     {scriptCyrillic},
	"bel":     {scriptCyrillic},
	"srp":     {scriptCyrillic},
	"mkd":     {scriptCyrillic},
	"ell":     {scriptGreek},
	"grc":     {scriptGreek},
	"chi_sim": {scriptHan},
	"chi_tra": {scriptHan},
	"jpn":     {scriptKana, scriptHan},
	"kor":     {scriptHangul, scriptHan},
	"ara":     {scriptArabic},
	"fas":     {scriptArabic},
	"urd":     {scriptArabic},
	"heb":     {scriptHebrew},
	"yid":     {scriptHebrew},
	"hin":     {scriptDevanagari},
	"mar":     {scriptDevanagari},
	"nep":     {scriptDevanagari},
	"san":     {scriptDevanagari},
	"tha":     {scriptThai},
}

func runeScript(r rune) (script, bool) {
	switch {
	case unicode.Is(unicode.Latin, r):
		return scriptLatin, true
	case unicode.Is(unicode.Cyrillic, r):
		return scriptCyrillic, true
	case unicode.Is(unicode.Greek, r):
		return scriptGreek, true
	case unicode.Is(unicode.Han, r):
		return scriptHan, true
	case unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
		return scriptKana, true
	case unicode.Is(unicode.Hangul, r):
		return scriptHangul, true
	case unicode.Is(unicode.Arabic, r):
		return scriptArabic, true
	case unicode.Is(unicode.Hebrew, r):
		return scriptHebrew, true
	case unicode.Is(unicode.Devanagari, r):
		return scriptDevanagari, true
	case unicode.Is(unicode.Thai, r):
		return scriptThai, true
	}
	return 0, false
}

func scriptsOf(lang string) []script {
	if ss, ok := langScripts[lang]; ok {
		return ss
	}
	return []script{scriptLatin}
}

// attributeLanguage picks the requested language whose script dominates the
// text. Ties and unknown scripts fall back to the first hint, which is the
// caller's primary language.
func attributeLanguage(text string, langs []string) string {
	if len(langs) == 0 {
		return ""
	}
	if len(langs) == 1 {
		return langs[0]
	}

	counts := map[script]int{}
	total := 0
	for _, r := range text {
		if s, ok := runeScript(r); ok {
			counts[s]++
			total++
		}
	}
	if total == 0 {
		return langs[0]
	}

	// Fixed scan order keeps ties deterministic.
	dominant := scriptLatin
	best := 0
	for s := scriptLatin; s <= scriptThai; s++ {
		if n := counts[s]; n > best {
			dominant, best = s, n
		}
	}

	for _, lang := range langs {
		for _, s := range scriptsOf(lang) {
			if s == dominant {
				return lang
			}
		}
	}
	return langs[0]
}
