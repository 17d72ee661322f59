package threat

import "math"

// Feed reliability weights. Changing these recalibrates every score, so
// treat edits as a deliberate event, not a tuning knob.
var feedWeights = map[string]float64{
	"cins_badguys":   0.90,
	"firehol_level1": 0.85,
	"threatfox":      0.80,
	"urlhaus":        0.75,
	"otx":            0.70,
	"abuseipdb":      0.85,
}

// Severity weights per indicator type.
var typeWeights = map[string]float64{
	"c2":          0.95,
	"apt":         0.90,
	"botnet":      0.90,
	"malware":     0.80,
	"phishing":    0.75,
	"malicious":   0.70,
	"brute_force": 0.60,
	"scanner":     0.50,
	"spam":        0.40,
	"other":       0.50,
}

const (
	defaultFeedWeight = 0.5
	defaultTypeWeight = 0.5
)

// Score computes the threat score for a subnet observed by the given
// feeds with the given indicator types:
//
//	mean(feed weights)*0.40 + max(type weights)*0.45 + min(|feeds|*0.05, 0.15)
//
// rounded to 4 decimal places and clamped to [0, 1].
func Score(feeds, types []string) float64 {
	reliability := defaultFeedWeight
	if len(feeds) > 0 {
		sum := 0.0
		for _, f := range feeds {
			w, ok := feedWeights[f]
			if !ok {
				w = defaultFeedWeight
			}
			sum += w
		}
		reliability = sum / float64(len(feeds))
	}

	severity := defaultTypeWeight
	if len(types) > 0 {
		severity = 0.0
		for _, t := range types {
			w, ok := typeWeights[t]
			if !ok {
				w = defaultTypeWeight
			}
			if w > severity {
				severity = w
			}
		}
	}

	diversity := math.Min(float64(len(feeds))*0.05, 0.15)

	raw := reliability*0.40 + severity*0.45 + diversity
	score := math.Round(raw*10000) / 10000
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
