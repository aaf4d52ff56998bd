package speech

import "strings"

// noiseWords are lone fragments recognizers emit for background sound.
// Symptom words such as "cough" are speech, not noise.
var noiseWords = map[string]bool{
	"crunching": true, "static": true, "silence": true, "noise": true,
	"inaudible": true, "unintelligible": true, "background noise": true,
	"music": true, "typing": true, "sigh": true,
	"laughter": true, "applause": true,
	"you": true, "the": true, "a": true, "um": true, "uh": true,
	"hmm": true, "ah": true, "oh": true, "mhm": true,
}

// isNoise reports whether a trimmed fragment is a noise marker rather than
// speech.
func isNoise(text string) bool {
	// *crunching*, [noise], (static)
	for _, pair := range [...][2]string{{"*", "*"}, {"[", "]"}, {"(", ")"}} {
		if len(text) >= 2 && strings.HasPrefix(text, pair[0]) && strings.HasSuffix(text, pair[1]) {
			return true
		}
	}
	return noiseWords[strings.ToLower(strings.TrimRight(text, ".!?,"))]
}
