package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	p, err := normalizePath("/buckets/blog/collections/posts/")
	require.NoError(t, err)
	assert.Equal(t, "/buckets/blog/collections/posts", p)

	p, err = normalizePath("buckets/blog")
	require.NoError(t, err)
	assert.Equal(t, "/buckets/blog", p)

	_, err = normalizePath("/collections/posts")
	assert.Error(t, err)
}

func TestParseEnvelope(t *testing.T) {
	body, err := parseEnvelope(`{"title":"x"}`, `{"read":["system.Everyone"]}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"title": "x"}, body["data"])
	assert.Equal(t, map[string][]string{"read": {"system.Everyone"}}, body["permissions"])

	body, err = parseEnvelope("", "")
	require.NoError(t, err)
	assert.Empty(t, body)

	_, err = parseEnvelope("{broken", "")
	assert.Error(t, err)
	_, err = parseEnvelope("", `{"read":"not-a-list"}`)
	assert.Error(t, err)
}

func TestSyncQuery(t *testing.T) {
	assert.Equal(t, "/b/records", syncQuery("/b/records", -1, -1, 0))
	assert.Equal(t, "/b/records?_since=5", syncQuery("/b/records", 5, -1, 0))
	assert.Equal(t, "/b/records?_before=9&_limit=3&_since=5", syncQuery("/b/records", 5, 9, 3))
}

func TestClientAuthAndErrors(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("ETag", `"123"`)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"id": "x"}})
		default:
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 403, "message": "write permission required"})
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	client.Token = "tok"

	body, err := client.Do(http.MethodGet, "/ok", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, `"123"`, body["etag"])

	_, err = client.Do(http.MethodGet, "/denied", nil, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.HTTPStatus)
	assert.Contains(t, apiErr.Message, "write permission")
}
