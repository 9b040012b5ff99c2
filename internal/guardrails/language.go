package guardrails

import (
	"strings"

	"golang.org/x/text/language"
)

// stopwordTags maps a handful of high-frequency function words to the
// language they mark. Good enough to distinguish reply language at the
// guardrail's granularity; no model weights to load, no network call.
var stopwordTags = map[string]language.Tag{
	"the": language.English, "and": language.English, "you": language.English, "is": language.English,
	"el": language.Spanish, "la": language.Spanish, "de": language.Spanish, "que": language.Spanish, "y": language.Spanish,
	"le": language.French, "les": language.French, "et": language.French, "une": language.French,
	"o": language.Portuguese, "da": language.Portuguese, "não": language.Portuguese,
}

// detectLanguage returns the best-guess language tag for text, or the zero
// Tag when the text is too short or ambiguous to call.
func detectLanguage(text string) language.Tag {
	if len(text) < 30 {
		return language.Tag{}
	}
	counts := make(map[language.Tag]int)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()")
		if tag, ok := stopwordTags[word]; ok {
			counts[tag]++
		}
	}
	var best language.Tag
	var bestCount int
	for tag, n := range counts {
		if n > bestCount {
			best, bestCount = tag, n
		}
	}
	return best
}

// checkLanguageMatch fires only when both texts are long enough to call and
// the user's language is known; skipped (always passes) otherwise.
func (p *Pipeline) checkLanguageMatch(reply, userLang string) CheckResult {
	if userLang == "" || len(reply) < 30 {
		return CheckResult{Name: "language_match", Passed: true, Details: "skipped: insufficient signal", Value: 1}
	}
	userTag, err := language.Parse(userLang)
	if err != nil {
		return CheckResult{Name: "language_match", Passed: true, Details: "skipped: unknown user language", Value: 1}
	}

	replyTag := detectLanguage(reply)
	if (replyTag == language.Tag{}) {
		return CheckResult{Name: "language_match", Passed: true, Details: "skipped: reply language undetermined", Value: 1}
	}

	userBase, _ := userTag.Base()
	replyBase, _ := replyTag.Base()
	if userBase == replyBase {
		return CheckResult{Name: "language_match", Passed: true, Value: 1}
	}
	return CheckResult{
		Name:    "language_match",
		Passed:  false,
		Details: "reply language " + replyBase.String() + " != user language " + userBase.String(),
	}
}

// languageHint builds the bilingual remediation prompt: target language
// first, English fallback second.
func languageHint(userLang string) string {
	return "responde en " + userLang + ". IMPORTANT: reply in the user's language."
}
