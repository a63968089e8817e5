package router

import "strings"

// ignoredProxyHeaders are dropped from the proxy-passthrough pass
// regardless of CUSTOM_HEADERS_TO_IGNORE.
var ignoredProxyHeaders = map[string]bool{"expect": true, "content-length": true}

// BuildFinalHeaders composes the outgoing request headers from base,
// provider-mapped, forward-listed, and (for the proxy endpoint)
// passthrough sources, then applies the method/content-type post-rules
//.
func BuildFinalHeaders(
	clientHeaders map[string]string,
	providerMappedHeaders map[string]string,
	forwardList []string,
	endpoint, method string,
	customHeadersToIgnore []string,
) map[string]string {
	out := map[string]string{"content-type": "application/json"}
	if v, ok := lookupHeader(clientHeaders, "accept-encoding"); ok {
		out["accept-encoding"] = v
	}

	for k, v := range providerMappedHeaders {
		out[strings.ToLower(k)] = v
	}

	for _, name := range forwardList {
		if v, ok := lookupHeader(clientHeaders, name); ok {
			out[strings.ToLower(name)] = v
		}
	}

	if endpoint == "proxy" {
		ignore := map[string]bool{}
		for k, v := range ignoredProxyHeaders {
			ignore[k] = v
		}
		for _, name := range customHeadersToIgnore {
			ignore[strings.ToLower(name)] = true
		}
		for k, v := range clientHeaders {
			lk := strings.ToLower(k)
			if ignore[lk] || strings.HasPrefix(lk, "x-portkey-") {
				continue
			}
			out[lk] = v
		}
	}

	postProcessHeaders(out, clientHeaders, endpoint, method)
	return out
}

// postProcessHeaders applies the method/content-type post-rules in place.
// Idempotent: calling it twice on the same map yields the same result.
func postProcessHeaders(out map[string]string, clientHeaders map[string]string, endpoint, method string) {
	ct := out["content-type"]
	if method == "GET" || strings.HasPrefix(ct, "multipart/form-data") {
		delete(out, "content-type")
	}
	if endpoint == "uploadFile" {
		if v, ok := lookupHeader(clientHeaders, "content-type"); ok {
			out["Content-Type"] = v
		}
		if v, ok := lookupHeader(clientHeaders, "x-portkey-file-purpose"); ok {
			out["x-portkey-file-purpose"] = v
		}
	}
}

func lookupHeader(headers map[string]string, name string) (string, bool) {
	if v, ok := headers[name]; ok {
		return v, true
	}
	lname := strings.ToLower(name)
	for k, v := range headers {
		if strings.ToLower(k) == lname {
			return v, true
		}
	}
	return "", false
}

// ShouldProcessRequestBody decides how the outbound body is carried:
// multipart passthrough, raw audio passthrough, or JSON.
func ShouldProcessRequestBody(providerContentType, clientContentType, endpoint string) (isMultiPart, isProxyAudio, shouldProcessAsJSON bool) {
	isMultiPart = providerContentType == "multipart/form-data" ||
		(endpoint == "proxy" && clientContentType == "multipart/form-data")
	isProxyAudio = endpoint == "proxy" && strings.HasPrefix(clientContentType, "audio/")
	shouldProcessAsJSON = !isMultiPart && !isProxyAudio && clientContentType != ""
	return
}
