package correlation

import (
	"net/http"
	"regexp"
)

const (
	Header      = "X-Correlation-ID"
	maxIDLength = 128
)

var validID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Middleware reuses a well-formed id from the request header or generates a
// new one, stores it in the request context and echoes it back.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if !Valid(id) {
			id = New()
		}
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), id)))
	})
}

// Valid reports whether id may be propagated as-is.
func Valid(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	return validID.MatchString(id)
}

// SetHeader copies the correlation id of the request context onto its
// headers, so the receiving side logs under the same id.
func SetHeader(r *http.Request) {
	if id := FromContext(r.Context()); Valid(id) {
		r.Header.Set(Header, id)
	}
}
