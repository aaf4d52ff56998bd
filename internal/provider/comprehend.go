package provider

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/comprehend"
	comprehendtypes "github.com/aws/aws-sdk-go-v2/service/comprehend/types"
	"github.com/aws/aws-sdk-go-v2/service/comprehendmedical"
	"github.com/cockroachdb/errors"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
)

const (
	maxMedicalTextBytes   = 20000
	maxSentimentTextBytes = 5000
)

type medicalClient interface {
	DetectEntitiesV2(ctx context.Context, params *comprehendmedical.DetectEntitiesV2Input, optFns ...func(*comprehendmedical.Options)) (*comprehendmedical.DetectEntitiesV2Output, error)
}

type sentimentClient interface {
	DetectSentiment(ctx context.Context, params *comprehend.DetectSentimentInput, optFns ...func(*comprehend.Options)) (*comprehend.DetectSentimentOutput, error)
}

// MedicalEntities extracts clinical entities with Comprehend Medical.
type MedicalEntities struct {
	clientFor func(context.Context, *credentials.Credential) (medicalClient, error)
}

// NewMedicalEntities creates the entity extraction adapter.
func NewMedicalEntities(cfg AWSConfig) *MedicalEntities {
	clients := newAWSClients(cfg, func(c aws.Config) medicalClient { return comprehendmedical.NewFromConfig(c) })
	return &MedicalEntities{clientFor: clients.get}
}

// NewMedicalEntitiesWithClient uses client for every call.
func NewMedicalEntitiesWithClient(client medicalClient) *MedicalEntities {
	return &MedicalEntities{clientFor: func(context.Context, *credentials.Credential) (medicalClient, error) { return client, nil }}
}

func (m *MedicalEntities) Provider() credentials.ProviderID { return credentials.AWS }

func (m *MedicalEntities) Invoke(ctx context.Context, in Input, cred *credentials.Credential) (*Output, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return &Output{Source: SourceProvider, Provider: credentials.AWS}, nil
	}
	client, err := m.clientFor(ctx, cred)
	if err != nil {
		return nil, err
	}
	resp, err := client.DetectEntitiesV2(ctx, &comprehendmedical.DetectEntitiesV2Input{
		Text: aws.String(truncateBytes(text, maxMedicalTextBytes)),
	})
	if err != nil {
		return nil, FromAWS(err, "comprehend medical")
	}
	if resp == nil {
		return nil, Malformed("comprehend medical: empty response")
	}

	out := &Output{Source: SourceProvider, Provider: credentials.AWS}
	for _, e := range resp.Entities {
		out.Entities = append(out.Entities, Entity{
			Text:       aws.ToString(e.Text),
			Category:   string(e.Category),
			Type:       string(e.Type),
			Confidence: NormalizeConfidence(float64(aws.ToFloat32(e.Score)), ScaleUnit),
		})
	}
	return out, nil
}

// SentimentDetector classifies text with Comprehend DetectSentiment.
type SentimentDetector struct {
	clientFor func(context.Context, *credentials.Credential) (sentimentClient, error)
}

// NewSentimentDetector creates the sentiment adapter.
func NewSentimentDetector(cfg AWSConfig) *SentimentDetector {
	clients := newAWSClients(cfg, func(c aws.Config) sentimentClient { return comprehend.NewFromConfig(c) })
	return &SentimentDetector{clientFor: clients.get}
}

// NewSentimentDetectorWithClient uses client for every call.
func NewSentimentDetectorWithClient(client sentimentClient) *SentimentDetector {
	return &SentimentDetector{clientFor: func(context.Context, *credentials.Credential) (sentimentClient, error) { return client, nil }}
}

func (s *SentimentDetector) Provider() credentials.ProviderID { return credentials.AWS }

func (s *SentimentDetector) Invoke(ctx context.Context, in Input, cred *credentials.Credential) (*Output, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, errors.New("sentiment: input has no text")
	}
	client, err := s.clientFor(ctx, cred)
	if err != nil {
		return nil, err
	}
	resp, err := client.DetectSentiment(ctx, &comprehend.DetectSentimentInput{
		Text:         aws.String(truncateBytes(text, maxSentimentTextBytes)),
		LanguageCode: comprehendLanguage(in.SourceLanguage),
	})
	if err != nil {
		return nil, FromAWS(err, "comprehend sentiment")
	}
	if resp == nil || resp.Sentiment == "" || resp.SentimentScore == nil {
		return nil, Malformed("comprehend sentiment: response has no sentiment")
	}

	sc := resp.SentimentScore
	scores := map[string]float64{
		"positive": NormalizeConfidence(float64(aws.ToFloat32(sc.Positive)), ScaleUnit),
		"negative": NormalizeConfidence(float64(aws.ToFloat32(sc.Negative)), ScaleUnit),
		"neutral":  NormalizeConfidence(float64(aws.ToFloat32(sc.Neutral)), ScaleUnit),
		"mixed":    NormalizeConfidence(float64(aws.ToFloat32(sc.Mixed)), ScaleUnit),
	}
	label := strings.ToLower(string(resp.Sentiment))
	return &Output{
		Source:   SourceProvider,
		Provider: credentials.AWS,
		Sentiment: &Sentiment{
			Label:      label,
			Confidence: scores[label],
			Scores:     scores,
		},
	}, nil
}

var comprehendLanguages = map[string]comprehendtypes.LanguageCode{
	"en": comprehendtypes.LanguageCodeEn,
	"es": comprehendtypes.LanguageCodeEs,
	"fr": comprehendtypes.LanguageCodeFr,
	"de": comprehendtypes.LanguageCodeDe,
	"it": comprehendtypes.LanguageCodeIt,
	"pt": comprehendtypes.LanguageCodePt,
	"ar": comprehendtypes.LanguageCodeAr,
	"hi": comprehendtypes.LanguageCodeHi,
	"ja": comprehendtypes.LanguageCodeJa,
	"ko": comprehendtypes.LanguageCodeKo,
	"zh": comprehendtypes.LanguageCodeZh,
}

func comprehendLanguage(lang string) comprehendtypes.LanguageCode {
	if code, ok := comprehendLanguages[baseLanguage(lang)]; ok {
		return code
	}
	return comprehendtypes.LanguageCodeEn
}

// baseLanguage reduces a tag like "es-MX" to "es".
func baseLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		return lang[:i]
	}
	return lang
}
