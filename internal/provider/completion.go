package provider

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
)

// shapeCompletion turns the assistant's final content into the stage's
// normalized output. Stages that run in JSON mode must return an object.
func shapeCompletion(stage, content string, jsonMode bool) (*Output, error) {
	content = strings.TrimSpace(content)
	out := &Output{Source: SourceProvider, Provider: credentials.OpenAI}
	if !jsonMode {
		if content == "" {
			return nil, Malformed("%s: empty completion", stage)
		}
		out.Text = content
		return out, nil
	}

	content = stripCodeFence(content)
	if !gjson.Valid(content) || !gjson.Parse(content).IsObject() {
		return nil, Malformed("%s: completion is not a JSON object", stage)
	}
	doc := gjson.Parse(content)

	switch stage {
	case StageRiskScore:
		score := doc.Get("score")
		if !score.Exists() {
			return nil, Malformed("%s: completion has no score", stage)
		}
		risk := &Risk{Score: NormalizeConfidence(score.Float(), ScaleAuto)}
		risk.Level = strings.ToLower(doc.Get("level").String())
		if risk.Level == "" {
			risk.Level = riskLevel(risk.Score)
		}
		for _, f := range doc.Get("factors").Array() {
			risk.Factors = append(risk.Factors, f.String())
		}
		out.Risk = risk
		out.Text = doc.Get("rationale").String()
	case StageRecommend:
		for _, r := range doc.Get("recommendations").Array() {
			if s := strings.TrimSpace(r.String()); s != "" {
				out.Recommendations = append(out.Recommendations, s)
			}
		}
		if len(out.Recommendations) == 0 {
			return nil, Malformed("%s: completion has no recommendations", stage)
		}
	default:
		out.Text = doc.Get("text").String()
	}
	return out, nil
}

func riskLevel(score float64) string {
	switch {
	case score >= 0.7:
		return "high"
	case score >= 0.4:
		return "moderate"
	default:
		return "low"
	}
}

// stripCodeFence removes a ```json ... ``` wrapper some models add even in
// JSON mode.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
