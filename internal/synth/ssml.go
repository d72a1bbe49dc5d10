package synth

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var speakBody = regexp.MustCompile(`(?s)<speak[^>]*>(.*)</speak>`)

// applyProsody wraps the text in a <prosody> element when any of speed,
// pitch, or volume differs from identity. Plain text is promoted to SSML in
// that case, since prosody can only be expressed as markup. Identity prosody
// leaves the input untouched.
func applyProsody(text string, ssml bool, speed, pitch, volumeGainDb float64) (string, bool) {
	var attrs []string
	if speed != 1 {
		attrs = append(attrs, fmt.Sprintf(`rate="%d%%"`, int(math.Round(speed*100))))
	}
	if pitch != 0 {
		attrs = append(attrs, fmt.Sprintf(`pitch="%s%%"`, signedNumber(pitch)))
	}
	if volumeGainDb != 0 {
		attrs = append(attrs, fmt.Sprintf(`volume="%sdB"`, signedNumber(volumeGainDb)))
	}
	if len(attrs) == 0 {
		return text, ssml
	}

	prosodyTag := "<prosody " + strings.Join(attrs, " ") + ">"
	if ssml {
		return speakBody.ReplaceAllString(text, "<speak>"+prosodyTag+"$1</prosody></speak>"), true
	}
	return "<speak>" + prosodyTag + text + "</prosody></speak>", true
}

func signedNumber(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if v >= 0 {
		return "+" + s
	}
	return s
}
