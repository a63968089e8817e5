package router

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// camelCaseExclusions is the pinned set of keys whose original casing (and,
// recursively, their inner keys') must survive convertKeysToCamelCase
// untouched — they carry user-authored DSL payloads (guardrail checks,
// conditional expressions) where renaming a key would silently break the
// DSL.
var camelCaseExclusions = map[string]bool{
	"override_params":            true,
	"params":                     true,
	"checks":                     true,
	"vertex_service_account_json": true,
	"vertexServiceAccountJson":    true,
	"conditions":                  true,
	"input_guardrails":            true,
	"output_guardrails":           true,
	"default_input_guardrails":    true,
	"default_output_guardrails":   true,
	"integrationModelDetails":     true,
	"cb_config":                   true,
}

// camelCaseKey converts one snake_case (or already camelCase) key to
// camelCase. It does not consult the exclusion list — callers decide
// whether a key is exempt before calling this.
func camelCaseKey(key string) string {
	parts := strings.Split(key, "_")
	if len(parts) == 1 {
		return key
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// convertKeysToCamelCase recursively camelCases every map key in value,
// except keys present in camelCaseExclusions — those keys, and everything
// nested beneath them, are copied verbatim.
func convertKeysToCamelCase(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if camelCaseExclusions[k] {
				out[k] = val // preserve key and all nested casing
				continue
			}
			out[camelCaseKey(k)] = convertKeysToCamelCase(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = convertKeysToCamelCase(item)
		}
		return out
	default:
		return value
	}
}

// knownProviders lists the providers with a dedicated enrichment dispatch
//; anything else falls into the "unknown provider" branch.
var knownProviders = map[string]bool{
	"azure-openai": true, "bedrock": true, "sagemaker": true, "workers-ai": true,
	"google-vertex-ai": true, "azure-ai-inference": true, "openai": true,
	"anthropic": true, "huggingface": true, "stability-ai": true,
	"fireworks-ai": true, "cortex": true,
}

// headerFieldMap pairs a recognized request header with the camelCase
// target field name it populates.
type headerFieldMap struct{ header, field string }

var providerHeaderFields = map[string][]headerFieldMap{
	"azure-openai": {
		{"x-portkey-azure-resource-name", "resourceName"},
		{"x-portkey-azure-deployment-id", "deploymentId"},
		{"x-portkey-azure-api-version", "apiVersion"},
		{"x-portkey-azure-ad-token", "azureAdToken"},
		{"x-portkey-azure-auth-mode", "azureAuthMode"},
		{"x-portkey-azure-managed-client-id", "azureManagedClientId"},
		{"x-portkey-azure-entra-client-id", "azureEntraClientId"},
		{"x-portkey-azure-entra-client-secret", "azureEntraClientSecret"},
		{"x-portkey-azure-entra-tenant-id", "azureEntraTenantId"},
		{"x-portkey-azure-model-name", "azureModelName"},
		{"x-portkey-openai-beta", "openaiBeta"},
	},
	"bedrock": {
		{"x-portkey-aws-access-key-id", "awsAccessKeyId"},
		{"x-portkey-aws-secret-access-key", "awsSecretAccessKey"},
		{"x-portkey-aws-session-token", "awsSessionToken"},
		{"x-portkey-aws-region", "awsRegion"},
		{"x-portkey-aws-role-arn", "awsRoleArn"},
		{"x-portkey-aws-auth-type", "awsAuthType"},
		{"x-portkey-aws-external-id", "awsExternalId"},
		{"x-portkey-aws-s3-bucket", "awsS3Bucket"},
		{"x-portkey-aws-s3-object-key", "awsS3ObjectKey"},
		{"x-portkey-aws-bedrock-model", "awsBedrockModel"},
		{"x-portkey-aws-server-side-encryption", "awsServerSideEncryption"},
		{"x-portkey-aws-server-side-encryption-kms-key-id", "awsServerSideEncryptionKMSKeyId"},
	},
	"google-vertex-ai": {
		{"x-portkey-vertex-project-id", "vertexProjectId"},
		{"x-portkey-vertex-region", "vertexRegion"},
		{"x-portkey-vertex-storage-bucket-name", "vertexStorageBucketName"},
		{"x-portkey-vertex-filename", "filename"},
		{"x-portkey-vertex-model-name", "vertexModelName"},
		{"x-portkey-vertex-batch-endpoint", "vertexBatchEndpoint"},
	},
	"azure-ai-inference": {
		{"x-portkey-azure-api-version", "azureApiVersion"},
		{"x-portkey-azure-endpoint-name", "azureEndpointName"},
		{"x-portkey-azure-foundry-url", "azureFoundryUrl"},
		{"x-portkey-azure-extra-params", "azureExtraParams"},
	},
	"openai": {
		{"x-portkey-openai-organization", "openaiOrganization"},
		{"x-portkey-openai-project", "openaiProject"},
		{"x-portkey-openai-beta", "openaiBeta"},
	},
	"anthropic": {
		{"x-portkey-anthropic-beta", "anthropicBeta"},
		{"x-portkey-anthropic-version", "anthropicVersion"},
	},
	"huggingface": {
		{"x-portkey-huggingface-base-url", "huggingfaceBaseUrl"},
	},
	"stability-ai": {
		{"x-portkey-stability-client-id", "stabilityClientId"},
		{"x-portkey-stability-client-user-id", "stabilityClientUserId"},
		{"x-portkey-stability-client-version", "stabilityClientVersion"},
	},
	"fireworks-ai": {
		{"x-portkey-fireworks-account-id", "fireworksAccountId"},
		{"x-portkey-fireworks-file-length", "fireworksFileLength"},
	},
	"workers-ai": {
		{"x-portkey-workers-ai-account-id", "workersAiAccountId"},
	},
	"cortex": {
		{"x-portkey-snowflake-account", "snowflakeAccount"},
	},
}

// sagemakerExtraFields are attached in addition to the bedrock family when
// provider == "sagemaker".
var sagemakerExtraFields = []headerFieldMap{
	{"x-portkey-amzn-sagemaker-custom-attributes", "amznSagemakerCustomAttributes"},
	{"x-portkey-amzn-sagemaker-target-model", "amznSagemakerTargetModel"},
	{"x-portkey-amzn-sagemaker-target-variant", "amznSagemakerTargetVariant"},
	{"x-portkey-amzn-sagemaker-target-container-hostname", "amznSagemakerTargetContainerHostname"},
	{"x-portkey-amzn-sagemaker-inference-id", "amznSagemakerInferenceId"},
	{"x-portkey-amzn-sagemaker-enable-explanations", "amznSagemakerEnableExplanations"},
	{"x-portkey-amzn-sagemaker-inference-component", "amznSagemakerInferenceComponent"},
	{"x-portkey-amzn-sagemaker-session-id", "amznSagemakerSessionId"},
	{"x-portkey-amzn-sagemaker-model-name", "amznSagemakerModelName"},
}

// enrichProviderFields attaches the provider-specific field set for
// provider onto m, reading from headers.
func enrichProviderFields(m map[string]any, provider string, headers map[string]string) {
	if !knownProviders[provider] {
		if v, ok := headers["x-portkey-mistral-fim-completion"]; ok {
			m["mistralFimCompletion"] = v
		}
		return
	}

	for _, fm := range providerHeaderFields[provider] {
		if v, ok := headers[fm.header]; ok {
			m[fm.field] = v
		}
	}
	if provider == "sagemaker" {
		for _, fm := range providerHeaderFields["bedrock"] {
			if v, ok := headers[fm.header]; ok {
				m[fm.field] = v
			}
		}
		for _, fm := range sagemakerExtraFields {
			if v, ok := headers[fm.header]; ok {
				m[fm.field] = v
			}
		}
	}
	if provider == "google-vertex-ai" {
		if raw, ok := headers["x-portkey-vertex-service-account-json"]; ok {
			var parsed any
			if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
				m["vertexServiceAccountJson"] = parsed
			} else {
				m["vertexServiceAccountJson"] = nil
			}
		}
	}
}

func stripBearer(authorization string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(authorization, prefix) {
		return strings.TrimPrefix(authorization, prefix)
	}
	return authorization
}

func parseJSONObjectOrEmpty(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		return parsed
	}
	return out
}

func parseGuardrailArray(raw string) []map[string]any {
	if raw == "" {
		return nil
	}
	res := gjson.Parse(raw)
	if !res.IsArray() {
		return nil
	}
	out := make([]map[string]any, 0, len(res.Array()))
	for _, item := range res.Array() {
		var m map[string]any
		if err := json.Unmarshal([]byte(item.Raw), &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// BuildConfig derives a Target subtree from request headers. It
// always returns a non-nil leaf or strategy Target.
func BuildConfig(headers map[string]string) *Target {
	defaultInput := parseGuardrailArray(headers["x-portkey-default-input-guardrails"])
	defaultOutput := parseGuardrailArray(headers["x-portkey-default-output-guardrails"])

	if raw, ok := headers["x-portkey-config"]; ok && raw != "" {
		return buildConfigFromConfigHeader(raw, headers, defaultInput, defaultOutput)
	}
	return buildConfigFromFlatHeaders(headers, defaultInput, defaultOutput)
}

func buildConfigFromConfigHeader(raw string, headers map[string]string, defaultInput, defaultOutput []map[string]any) *Target {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		parsed = map[string]any{}
	}

	_, hasProvider := parsed["provider"]
	_, hasTargets := parsed["targets"]
	if !hasProvider && !hasTargets {
		parsed["provider"] = headers["x-portkey-provider"]
		parsed["api_key"] = stripBearer(headers["authorization"])
		enrichProviderFields(parsed, toStringVal(parsed["provider"]), headers)
	}

	camelCased, _ := convertKeysToCamelCase(parsed).(map[string]any)
	target := targetFromMap(camelCased)
	target.DefaultInputGuardrails = defaultInput
	target.DefaultOutputGuardrails = defaultOutput
	return target
}

func buildConfigFromFlatHeaders(headers map[string]string, defaultInput, defaultOutput []map[string]any) *Target {
	provider := headers["x-portkey-provider"]
	m := map[string]any{
		"provider": provider,
		"api_key":  stripBearer(headers["authorization"]),
	}
	enrichProviderFields(m, provider, headers)

	camelCased, _ := convertKeysToCamelCase(m).(map[string]any)
	target := targetFromMap(camelCased)
	target.DefaultInputGuardrails = defaultInput
	target.DefaultOutputGuardrails = defaultOutput
	return target
}

func toStringVal(v any) string {
	s, _ := v.(string)
	return s
}

// targetFromMap builds a Target from an already-camelCased open map, used
// both by the header-driven Config Builder and by round-trip tests that
// re-feed a serialized Target. Unrecognized keys fall into Extras.
func targetFromMap(m map[string]any) *Target {
	t := &Target{Extras: map[string]any{}}
	if m == nil {
		return t
	}
	for k, v := range m {
		switch k {
		case "provider":
			t.Provider = toStringVal(v)
		case "apiKey", "api_key":
			t.APIKey = toStringVal(v)
		case "id":
			t.ID = toStringVal(v)
		case "customHost":
			t.CustomHost = toStringVal(v)
		case "strictOpenAiCompliance":
			b, _ := v.(bool)
			t.StrictOpenAiCompliance = b
		case "override_params", "overrideParams":
			if om, ok := v.(map[string]any); ok {
				t.OverrideParams = om
			}
		case "retry":
			if rm, ok := v.(map[string]any); ok {
				rc := &RetryConfig{}
				if n, ok := rm["attempts"].(float64); ok {
					rc.Attempts = int(n)
				}
				if codes, ok := rm["onStatusCodes"].([]any); ok {
					rc.OnStatusCodes = toIntSlice(codes)
				}
				if b, ok := rm["useRetryAfterHeader"].(bool); ok {
					rc.UseRetryAfterHeader = b
				}
				t.Retry = rc
			}
		case "cache":
			if cm, ok := v.(map[string]any); ok {
				cc := &CacheConfig{Mode: toStringVal(cm["mode"])}
				if n, ok := cm["maxAge"].(float64); ok {
					cc.MaxAge = time.Duration(n) * time.Second
				}
				t.Cache = cc
			}
		case "requestTimeout":
			if n, ok := v.(float64); ok {
				t.RequestTimeout = time.Duration(n) * time.Millisecond
			}
		case "weight":
			if n, ok := v.(float64); ok {
				w := n
				t.Weight = &w
			}
		case "forwardHeaders":
			t.ForwardHeaders = toStringSlice(v)
		case "beforeRequestHooks":
			t.BeforeRequestHooks = toHookObjects(v)
		case "afterRequestHooks":
			t.AfterRequestHooks = toHookObjects(v)
		case "input_guardrails":
			t.InputGuardrails = toMapSlice(v)
		case "output_guardrails":
			t.OutputGuardrails = toMapSlice(v)
		case "inputMutators", "input_mutators":
			t.InputMutators = toMapSlice(v)
		case "outputMutators", "output_mutators":
			t.OutputMutators = toMapSlice(v)
		case "default_input_guardrails":
			t.DefaultInputGuardrails = toMapSlice(v)
		case "default_output_guardrails":
			t.DefaultOutputGuardrails = toMapSlice(v)
		case "cb_config":
			if cm, ok := v.(map[string]any); ok {
				t.CBConfig = CBConfig(cm)
			}
		case "targets":
			if arr, ok := v.([]any); ok {
				for _, item := range arr {
					if cm, ok := item.(map[string]any); ok {
						t.Targets = append(t.Targets, targetFromMap(cm))
					}
				}
			}
		case "strategy":
			if sm, ok := v.(map[string]any); ok {
				t.Strategy = &StrategyConfig{Mode: StrategyMode(toStringVal(sm["mode"]))}
				if codes, ok := sm["onStatusCodes"].([]any); ok {
					t.Strategy.OnStatusCodes = toIntSlice(codes)
				}
			}
		default:
			t.Extras[k] = v
		}
	}
	for i, c := range t.Targets {
		c.OriginalIndex = i
	}
	return t
}

func toStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toMapSlice(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func toHookObjects(v any) []HookObject {
	maps := toMapSlice(v)
	if maps == nil {
		return nil
	}
	out := make([]HookObject, len(maps))
	for i, m := range maps {
		out[i] = HookObject(m)
	}
	return out
}

func toIntSlice(items []any) []int {
	out := make([]int, 0, len(items))
	for _, item := range items {
		switch n := item.(type) {
		case float64:
			out = append(out, int(n))
		case int:
			out = append(out, n)
		}
	}
	return out
}
