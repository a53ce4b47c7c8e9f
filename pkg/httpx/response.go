package httpx

import (
	"encoding/json"
	"net/http"
)

// Header names shared by the SDK and the local fake backend.
const (
	HeaderAuthorization    = "Authorization"
	HeaderContentType      = "Content-Type"
	HeaderAcceptLanguage   = "Accept-Language"
	HeaderOperationChannel = "OperationChannel"

	ContentTypeJSON = "application/json"
)

// Bearer formats an Authorization header value.
func Bearer(token string) string { return "Bearer " + token }

// WriteJSON writes a JSON response with the given status code.
// It automatically sets the Content-Type header and Cache-Control headers.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set(HeaderContentType, ContentTypeJSON)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// NoCache sets the Cache-Control and Pragma headers to prevent caching.
// This is commonly required for sensitive responses like tokens.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}
