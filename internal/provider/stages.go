package provider

// Stage names shared by the orchestrator, the adapters and the fallback
// synthesizer.
const (
	StageExtractText       = "extract-text"
	StageDetectLabels      = "detect-labels"
	StageExtractEntities   = "extract-entities"
	StageSentiment         = "sentiment"
	StageSummarize         = "summarize"
	StageRiskScore         = "risk-score"
	StageInterpretFindings = "interpret-findings"
	StageRecommend         = "recommend"
	StageLocalize          = "localize"
	StageAssistantReply    = "assistant-reply"
	StageSynthesizeSpeech  = "synthesize-speech"
	StageTranscribe        = "transcribe"
)
