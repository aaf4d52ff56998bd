package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
)

const (
	featureDocumentText = "DOCUMENT_TEXT_DETECTION"
	featureLabels       = "LABEL_DETECTION"

	maxVisionResponse = 8 << 20
)

// VisionConfig configures the Google Cloud Vision REST adapters.
type VisionConfig struct {
	BaseURL   string // e.g. https://vision.googleapis.com
	MaxLabels int
	Client    *http.Client
}

// Vision calls images:annotate with a single feature.
type Vision struct {
	cfg     VisionConfig
	feature string
}

// NewVisionOCR returns the document text detection adapter.
func NewVisionOCR(cfg VisionConfig) *Vision {
	return newVision(cfg, featureDocumentText)
}

// NewVisionLabels returns the label detection adapter.
func NewVisionLabels(cfg VisionConfig) *Vision {
	return newVision(cfg, featureLabels)
}

func newVision(cfg VisionConfig, feature string) *Vision {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://vision.googleapis.com"
	}
	if cfg.MaxLabels <= 0 {
		cfg.MaxLabels = 10
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Vision{cfg: cfg, feature: feature}
}

func (v *Vision) Provider() credentials.ProviderID { return credentials.GoogleVision }

func (v *Vision) Invoke(ctx context.Context, in Input, cred *credentials.Credential) (*Output, error) {
	if len(in.Image) == 0 {
		return nil, errors.New("vision: input has no image")
	}
	key := cred.Get("api_key")
	if key == "" {
		return nil, errors.Mark(errors.New("vision: credential has no api_key"), ErrAuth)
	}

	body, err := v.buildRequest(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.BaseURL+"/v1/images:annotate", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "vision: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", key)

	resp, err := v.cfg.Client.Do(req)
	if err != nil {
		return nil, Transient(err, "vision request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVisionResponse))
	if err != nil {
		return nil, Transient(err, "vision read")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrap(FromStatus(resp.StatusCode, data, resp.Header.Get("Retry-After")), "vision")
	}
	return v.parse(data)
}

func (v *Vision) buildRequest(in Input) ([]byte, error) {
	feature := map[string]any{"type": v.feature}
	if v.feature == featureLabels {
		feature["maxResults"] = v.cfg.MaxLabels
	}
	request := map[string]any{
		"image":    map[string]string{"content": base64.StdEncoding.EncodeToString(in.Image)},
		"features": []any{feature},
	}
	if in.SourceLanguage != "" && v.feature == featureDocumentText {
		request["imageContext"] = map[string]any{"languageHints": []string{in.SourceLanguage}}
	}
	body, err := json.Marshal(map[string]any{"requests": []any{request}})
	if err != nil {
		return nil, errors.Wrap(err, "vision: marshal request")
	}
	return body, nil
}

func (v *Vision) parse(data []byte) (*Output, error) {
	if !gjson.ValidBytes(data) {
		return nil, Malformed("vision: response is not JSON")
	}
	res := gjson.GetBytes(data, "responses.0")
	if !res.Exists() {
		return nil, Malformed("vision: response has no results")
	}
	if e := res.Get("error"); e.Exists() {
		return nil, fromRPCStatus(e.Get("code").Int(), e.Get("message").String())
	}

	out := &Output{Source: SourceProvider, Provider: credentials.GoogleVision}
	if v.feature == featureLabels {
		for _, l := range res.Get("labelAnnotations").Array() {
			out.Labels = append(out.Labels, Label{
				Description: l.Get("description").String(),
				Confidence:  NormalizeConfidence(l.Get("score").Float(), ScaleUnit),
			})
		}
		return out, nil
	}

	full := res.Get("fullTextAnnotation")
	out.Text = strings.TrimSpace(full.Get("text").String())
	pages := full.Get("pages").Array()
	var sum float64
	for _, p := range pages {
		sum += p.Get("confidence").Float()
	}
	if len(pages) > 0 {
		out.Confidence = NormalizeConfidence(sum/float64(len(pages)), ScaleUnit)
	}
	out.Language = full.Get("pages.0.property.detectedLanguages.0.languageCode").String()
	return out, nil
}

// fromRPCStatus maps a google.rpc.Status code embedded in a 200 response.
func fromRPCStatus(code int64, message string) error {
	err := errors.Newf("vision: rpc status %d: %s", code, message)
	switch code {
	case 7, 16: // PERMISSION_DENIED, UNAUTHENTICATED
		return errors.Mark(err, ErrAuth)
	case 8: // RESOURCE_EXHAUSTED
		return errors.Mark(err, ErrQuota)
	default:
		return errors.Mark(err, ErrTransient)
	}
}
