package prompts

import "github.com/hubenschmidt/care-ai/gateway/internal/provider"

const DefaultSystem = "You are a careful assistant inside a healthcare portal. Be concise and never invent clinical facts."

var stageSystem = map[string]string{
	provider.StageSummarize: "Summarize the clinical text for the patient's care team in at most five sentences. " +
		"Keep diagnoses, medications and dates exactly as written.",
	provider.StageRiskScore: "Assess the follow-up risk described in the clinical text. " +
		`Reply with a JSON object: {"score": number between 0 and 1, "factors": [short strings], "rationale": string}.`,
	provider.StageInterpretFindings: "Describe what the image findings suggest in plain language for a clinician. " +
		"State uncertainty explicitly and do not give a diagnosis.",
	provider.StageRecommend: "Suggest safe, general next steps for the patient based on the analysis. " +
		`Reply with a JSON object: {"recommendations": [short strings]}. Always include contacting the care team when risk is high.`,
	provider.StageAssistantReply: "You are the portal's patient assistant. Answer briefly and kindly. " +
		"Use the tools to look up doctors and appointment availability; never make up names or times. " +
		"For emergencies tell the patient to call emergency services.",
}

// ForStage resolves the system prompt for a completion stage. An explicit
// override wins.
func ForStage(stage, override string) string {
	if override != "" {
		return override
	}
	if p, ok := stageSystem[stage]; ok {
		return p
	}
	return DefaultSystem
}

// SubjectContext wraps caller-supplied subject context (e.g. patient
// demographics) into a system message.
func SubjectContext(context string) string {
	return "Patient context:\n" + context
}
