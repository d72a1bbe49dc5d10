package synth

import (
	"encoding/base64"
	"io"
	"strings"
)

// Window size for streaming audio bytes through the base64 encoder, keeping
// memory bounded on large responses.
const encodeWindowBytes = 8192

// encodeAudio drains the provider's audio stream into base64 text, reading
// in fixed-size windows. Returns the encoded text and the number of raw
// bytes consumed.
func encodeAudio(r io.Reader) (string, int64, error) {
	var sb strings.Builder
	enc := base64.NewEncoder(base64.StdEncoding, &sb)

	n, err := io.CopyBuffer(enc, r, make([]byte, encodeWindowBytes))
	if err != nil {
		return "", n, err
	}
	if err := enc.Close(); err != nil {
		return "", n, err
	}
	return sb.String(), n, nil
}
