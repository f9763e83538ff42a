package crawler

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// minDetectableLength is the shortest content worth feeding to the
// detector; anything shorter is reported as unknown rather than risking
// a low-confidence guess.
const minDetectableLength = 8

// Detection is one (language, confidence) result.
type Detection struct {
	Language   string
	Confidence float64
}

// LanguageDetector wraps lingua-go's detector with corgi's "empty or
// too-short text -> unknown" rule and a plain ISO-639-1 string result.
type LanguageDetector struct {
	detector lingua.LanguageDetector
}

func NewLanguageDetector() *LanguageDetector {
	detector := lingua.NewLanguageDetectorBuilder().
		FromAllLanguages().
		WithPreloadedLanguageModels().
		Build()
	return &LanguageDetector{detector: detector}
}

// Detect returns the most confident (language, confidence) for one text.
func (d *LanguageDetector) Detect(text string) Detection {
	if len(strings.TrimSpace(text)) < minDetectableLength {
		return Detection{Language: "unknown"}
	}
	values := d.detector.ComputeLanguageConfidenceValues(text)
	if len(values) == 0 {
		return Detection{Language: "unknown"}
	}
	top := values[0]
	if top.Value() == 0 {
		return Detection{Language: "unknown"}
	}
	return Detection{Language: strings.ToLower(top.Language().IsoCode639_1().String()), Confidence: top.Value()}
}

// DetectBatch runs Detect over each input in order, returning one
// result per input in the same order.
func (d *LanguageDetector) DetectBatch(texts []string) []Detection {
	out := make([]Detection, len(texts))
	for i, t := range texts {
		out[i] = d.Detect(t)
	}
	return out
}
