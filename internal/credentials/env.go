package credentials

import "os"

// envKey maps one environment variable onto a key of the secret blob.
type envKey struct {
	variable string
	key      string
	optional bool
}

// envFallback lists, per provider, the environment variables that can stand
// in for the secret-store blob.
var envFallback = map[ProviderID][]envKey{
	OpenAI: {
		{variable: "OPENAI_API_KEY", key: "api_key"},
		{variable: "OPENAI_ORGANIZATION", key: "organization", optional: true},
	},
	GoogleVision: {
		{variable: "GOOGLE_VISION_API_KEY", key: "api_key"},
	},
	AWS: {
		{variable: "AWS_ACCESS_KEY_ID", key: "access_key_id"},
		{variable: "AWS_SECRET_ACCESS_KEY", key: "secret_access_key"},
		{variable: "AWS_SESSION_TOKEN", key: "session_token", optional: true},
		{variable: "AWS_REGION", key: "region", optional: true},
	},
	AzureSpeech: {
		{variable: "AZURE_SPEECH_KEY", key: "api_key"},
		{variable: "AZURE_SPEECH_REGION", key: "region", optional: true},
	},
}

// requiredKeys returns the blob keys a provider cannot work without. The
// same set validates secret-store blobs.
func requiredKeys(provider ProviderID) []string {
	var keys []string
	for _, k := range envFallback[provider] {
		if !k.optional {
			keys = append(keys, k.key)
		}
	}
	return keys
}

// LookupFunc reads one environment variable.
type LookupFunc func(string) (string, bool)

// fromEnv builds a provider's secret map from the environment. It reports
// false unless every required variable is set and non-empty.
func fromEnv(provider ProviderID, lookup LookupFunc) (map[string]string, bool) {
	keys, ok := envFallback[provider]
	if !ok {
		return nil, false
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, found := lookup(k.variable)
		if !found || v == "" {
			if k.optional {
				continue
			}
			return nil, false
		}
		out[k.key] = v
	}
	return out, true
}

func hasRequired(provider ProviderID, value map[string]string) bool {
	for _, k := range requiredKeys(provider) {
		if value[k] == "" {
			return false
		}
	}
	return true
}
