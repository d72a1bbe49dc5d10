package synth

import (
	"context"
	"errors"
	"fmt"
)

// Credentials hold the provider access credentials read from the settings
// store.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

// Complete reports whether every field required for a provider call is set.
func (c Credentials) Complete() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != "" && c.Region != ""
}

// Request is the parameter bundle for synthesizing one chunk.
type Request struct {
	Text         string
	SSML         bool
	Voice        string
	Encoding     string
	Engine       string
	Speed        float64
	Pitch        float64
	VolumeGainDb float64
	Credentials  Credentials
}

// Voice describes one selectable provider voice.
type Voice struct {
	Name             string   `json:"name"`
	Gender           string   `json:"gender"`
	LanguageCodes    []string `json:"language_codes"`
	SampleRateHertz  int      `json:"sample_rate_hertz"`
	SupportedEngines []string `json:"supported_engines"`
}

// ErrMissingCredentials is returned before any network call when the settings
// store has no usable provider credentials.
var ErrMissingCredentials = errors.New("provider credentials are missing")

// SynthesisError wraps a provider failure, including an empty audio stream.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Synthesizer is the contract for producing audio from one chunk. Synthesize
// returns the encoded audio as base64 text.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (string, error)
	DescribeVoices(ctx context.Context, creds Credentials) ([]Voice, error)
}
