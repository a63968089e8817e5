package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildFinalHeaders_MergeOrder(t *testing.T) {
	client := map[string]string{
		"authorization":   "Bearer client-key",
		"x-request-id":    "req-1",
		"x-portkey-extra": "stripped-unless-proxy",
	}
	providerMapped := map[string]string{
		"Authorization": "Bearer provider-key",
	}

	out := BuildFinalHeaders(client, providerMapped, []string{"x-request-id"}, "chatComplete", "POST", nil)

	assert.Equal(t, "Bearer provider-key", out["authorization"], "provider-mapped headers win over base defaults")
	assert.Equal(t, "req-1", out["x-request-id"], "forward-listed headers come through")
	assert.NotContains(t, out, "x-portkey-extra", "non-forwarded client headers are dropped outside proxy")
}

func TestBuildFinalHeaders_ProxyEndpoint_PassesThroughNonPortkeyHeaders(t *testing.T) {
	client := map[string]string{
		"x-custom-header": "value",
		"x-portkey-trace": "should-be-stripped",
		"expect":          "100-continue",
	}
	out := BuildFinalHeaders(client, nil, nil, "proxy", "POST", nil)

	assert.Equal(t, "value", out["x-custom-header"])
	assert.NotContains(t, out, "x-portkey-trace", "x-portkey- prefixed headers never pass through proxy")
	assert.NotContains(t, out, "expect", "ignoredProxyHeaders are always dropped")
}

func TestBuildFinalHeaders_ProxyEndpoint_CustomHeadersToIgnore(t *testing.T) {
	client := map[string]string{"x-internal-token": "secret"}
	out := BuildFinalHeaders(client, nil, nil, "proxy", "POST", []string{"X-Internal-Token"})
	assert.NotContains(t, out, "x-internal-token")
}

func TestPostProcessHeaders_GETDropsContentType(t *testing.T) {
	out := map[string]string{"content-type": "application/json"}
	postProcessHeaders(out, nil, "chatComplete", "GET")
	assert.NotContains(t, out, "content-type")
}

func TestPostProcessHeaders_Multipart_DropsContentType(t *testing.T) {
	out := map[string]string{"content-type": "multipart/form-data; boundary=x"}
	postProcessHeaders(out, nil, "uploadFile", "POST")
	// uploadFile path re-adds a capitalized Content-Type from the client.
	assert.NotContains(t, out, "content-type")
}

func TestPostProcessHeaders_UploadFile_SetsCapitalizedHeaders(t *testing.T) {
	client := map[string]string{
		"content-type":           "multipart/form-data; boundary=x",
		"x-portkey-file-purpose": "fine-tune",
	}
	out := map[string]string{"content-type": "application/json"}
	postProcessHeaders(out, client, "uploadFile", "POST")
	assert.Equal(t, "multipart/form-data; boundary=x", out["Content-Type"])
	assert.Equal(t, "fine-tune", out["x-portkey-file-purpose"])
}

func TestPostProcessHeaders_Idempotent(t *testing.T) {
	client := map[string]string{
		"content-type":           "multipart/form-data; boundary=x",
		"x-portkey-file-purpose": "fine-tune",
	}
	out := map[string]string{"content-type": "application/json"}
	postProcessHeaders(out, client, "uploadFile", "POST")
	first := map[string]string{}
	for k, v := range out {
		first[k] = v
	}
	postProcessHeaders(out, client, "uploadFile", "POST")
	assert.Equal(t, first, out, "calling twice must not change the result")
}

func TestShouldProcessRequestBody(t *testing.T) {
	multiPart, audio, json := ShouldProcessRequestBody("multipart/form-data", "", "chatComplete")
	assert.True(t, multiPart)
	assert.False(t, audio)
	assert.False(t, json)

	multiPart, audio, json = ShouldProcessRequestBody("", "audio/mpeg", "proxy")
	assert.False(t, multiPart)
	assert.True(t, audio)
	assert.False(t, json)

	multiPart, audio, json = ShouldProcessRequestBody("", "application/json", "chatComplete")
	assert.False(t, multiPart)
	assert.False(t, audio)
	assert.True(t, json)

	multiPart, audio, json = ShouldProcessRequestBody("", "", "chatComplete")
	assert.False(t, multiPart)
	assert.False(t, audio)
	assert.False(t, json, "no client content type means nothing to process as JSON")
}
