package provider

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/translate"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
)

const maxTranslateTextBytes = 10000

type translateClient interface {
	TranslateText(ctx context.Context, params *translate.TranslateTextInput, optFns ...func(*translate.Options)) (*translate.TranslateTextOutput, error)
}

// Translator localizes text with AWS Translate.
type Translator struct {
	clientFor func(context.Context, *credentials.Credential) (translateClient, error)
}

// NewTranslator creates the localize adapter.
func NewTranslator(cfg AWSConfig) *Translator {
	clients := newAWSClients(cfg, func(c aws.Config) translateClient { return translate.NewFromConfig(c) })
	return &Translator{clientFor: clients.get}
}

// NewTranslatorWithClient uses client for every call.
func NewTranslatorWithClient(client translateClient) *Translator {
	return &Translator{clientFor: func(context.Context, *credentials.Credential) (translateClient, error) { return client, nil }}
}

func (t *Translator) Provider() credentials.ProviderID { return credentials.AWS }

// Invoke translates in.Text into in.Language. The source language is
// detected unless in.SourceLanguage is set.
func (t *Translator) Invoke(ctx context.Context, in Input, cred *credentials.Credential) (*Output, error) {
	target := baseLanguage(in.Language)
	text := strings.TrimSpace(in.Text)
	if text == "" || target == "" {
		return &Output{Source: SourceProvider, Provider: credentials.AWS, Text: text, Language: target}, nil
	}
	source := baseLanguage(in.SourceLanguage)
	if source == "" {
		source = "auto"
	}

	client, err := t.clientFor(ctx, cred)
	if err != nil {
		return nil, err
	}
	resp, err := client.TranslateText(ctx, &translate.TranslateTextInput{
		Text:               aws.String(truncateBytes(text, maxTranslateTextBytes)),
		SourceLanguageCode: aws.String(source),
		TargetLanguageCode: aws.String(target),
	})
	if err != nil {
		return nil, FromAWS(err, "translate")
	}
	if resp == nil || resp.TranslatedText == nil {
		return nil, Malformed("translate: response has no text")
	}
	return &Output{
		Source:   SourceProvider,
		Provider: credentials.AWS,
		Text:     aws.ToString(resp.TranslatedText),
		Language: target,
	}, nil
}
