package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/pagevoice-labs/pagevoice-core/internal/protocol"
)

// Default sample rate reported for catalog voices; the provider does not
// expose one per voice.
const defaultVoiceSampleRate = 22050

// Notifier surfaces user-facing synthesis errors.
type Notifier interface {
	Notify(ctx context.Context, n protocol.Notification)
}

// pollyAPI is the slice of the Polly SDK the client uses; tests stub it.
type pollyAPI interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
	DescribeVoices(ctx context.Context, params *polly.DescribeVoicesInput, optFns ...func(*polly.Options)) (*polly.DescribeVoicesOutput, error)
}

// PollyClient synthesizes chunks through AWS Polly.
type PollyClient struct {
	logger   *slog.Logger
	notifier Notifier
	newAPI   func(Credentials) pollyAPI
}

func NewPollyClient(notifier Notifier, logger *slog.Logger) *PollyClient {
	return &PollyClient{
		logger:   logger.With(slog.String("component", "synth")),
		notifier: notifier,
		newAPI:   defaultPollyAPI,
	}
}

func defaultPollyAPI(creds Credentials) pollyAPI {
	cfg := aws.Config{
		Region:      creds.Region,
		Credentials: credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
	}
	return polly.NewFromConfig(cfg)
}

// Synthesize validates credentials, applies prosody, and requests encoded
// audio for one chunk. The result is the audio bytes as base64 text.
func (c *PollyClient) Synthesize(ctx context.Context, req Request) (string, error) {
	if !req.Credentials.Complete() {
		c.notify(ctx, protocol.Notification{
			Icon:  "error",
			Title: "AWS credentials are missing",
			Message: "Enter a valid AWS Access Key ID, Secret Access Key, and Region. " +
				"Instructions: https://docs.aws.amazon.com/polly/latest/dg/setting-up.html",
		})
		return "", ErrMissingCredentials
	}

	body, ssml := applyProsody(req.Text, req.SSML, req.Speed, req.Pitch, req.VolumeGainDb)

	textType := pollytypes.TextTypeText
	if ssml {
		textType = pollytypes.TextTypeSsml
	}

	input := &polly.SynthesizeSpeechInput{
		OutputFormat: mapEncoding(req.Encoding),
		Text:         aws.String(body),
		TextType:     textType,
		VoiceId:      pollytypes.VoiceId(req.Voice),
		Engine:       mapEngine(req.Engine),
	}

	api := c.newAPI(req.Credentials)
	out, err := api.SynthesizeSpeech(ctx, input)
	if err != nil {
		return "", c.synthesisFailed(ctx, err)
	}
	if out.AudioStream == nil {
		return "", c.synthesisFailed(ctx, errors.New("no audio stream received from provider"))
	}
	defer out.AudioStream.Close()

	encoded, n, err := encodeAudio(out.AudioStream)
	if err != nil {
		return "", c.synthesisFailed(ctx, fmt.Errorf("read audio stream: %w", err))
	}
	if n == 0 {
		return "", c.synthesisFailed(ctx, errors.New("provider returned an empty audio stream"))
	}

	c.logger.Debug("synthesized chunk", slog.Int64("audio_bytes", n), slog.Bool("ssml", ssml))
	return encoded, nil
}

func (c *PollyClient) synthesisFailed(ctx context.Context, err error) error {
	c.logger.Warn("synthesis failed", slog.String("error", err.Error()))
	c.notify(ctx, protocol.Notification{
		Title:   "Failed to synthesize text",
		Message: err.Error(),
	})
	return &SynthesisError{Err: err}
}

func (c *PollyClient) notify(ctx context.Context, n protocol.Notification) {
	if c.notifier != nil {
		c.notifier.Notify(ctx, n)
	}
}

// DescribeVoices fetches the selectable voice catalog.
func (c *PollyClient) DescribeVoices(ctx context.Context, creds Credentials) ([]Voice, error) {
	if !creds.Complete() {
		return nil, ErrMissingCredentials
	}

	api := c.newAPI(creds)
	out, err := api.DescribeVoices(ctx, &polly.DescribeVoicesInput{})
	if err != nil {
		return nil, fmt.Errorf("describe voices: %w", err)
	}

	voices := make([]Voice, 0, len(out.Voices))
	for _, v := range out.Voices {
		voice := Voice{
			Name:            string(v.Id),
			Gender:          string(v.Gender),
			SampleRateHertz: defaultVoiceSampleRate,
		}
		if v.LanguageCode != "" {
			voice.LanguageCodes = []string{string(v.LanguageCode)}
		}
		for _, e := range v.SupportedEngines {
			voice.SupportedEngines = append(voice.SupportedEngines, string(e))
		}
		if len(voice.SupportedEngines) == 0 {
			voice.SupportedEngines = []string{"standard"}
		}
		voices = append(voices, voice)
	}
	return voices, nil
}

func mapEncoding(encoding string) pollytypes.OutputFormat {
	switch encoding {
	case "MP3", "MP3_64_KBPS":
		return pollytypes.OutputFormatMp3
	case "OGG_OPUS":
		return pollytypes.OutputFormatOggVorbis
	default:
		return pollytypes.OutputFormatMp3
	}
}

func mapEngine(engine string) pollytypes.Engine {
	switch strings.ToLower(engine) {
	case "standard":
		return pollytypes.EngineStandard
	case "neural":
		return pollytypes.EngineNeural
	case "generative":
		return pollytypes.EngineGenerative
	case "long-form":
		return pollytypes.EngineLongForm
	default:
		return pollytypes.EngineStandard
	}
}
