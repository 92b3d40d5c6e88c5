package shield

import "net/http"

// HeaderConfig defines the security headers applied to every response.
type HeaderConfig struct {
	CSP                       string
	XContentTypeOptions       string
	ReferrerPolicy            string
	CrossOriginResourcePolicy string
}

// RelayHeaders suits a service that returns untrusted image bytes: nothing
// it serves may run as a document, and the bytes stay embeddable from the
// extension's origin.
func RelayHeaders() HeaderConfig {
	return HeaderConfig{
		CSP:                       "default-src 'none'; sandbox",
		XContentTypeOptions:       "nosniff",
		ReferrerPolicy:            "no-referrer",
		CrossOriginResourcePolicy: "cross-origin",
	}
}

// SecurityHeaders returns middleware that sets the configured headers on
// every response.
func SecurityHeaders(cfg HeaderConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if cfg.XContentTypeOptions != "" {
				h.Set("X-Content-Type-Options", cfg.XContentTypeOptions)
			}
			if cfg.ReferrerPolicy != "" {
				h.Set("Referrer-Policy", cfg.ReferrerPolicy)
			}
			if cfg.CSP != "" {
				h.Set("Content-Security-Policy", cfg.CSP)
			}
			if cfg.CrossOriginResourcePolicy != "" {
				h.Set("Cross-Origin-Resource-Policy", cfg.CrossOriginResourcePolicy)
			}
			next.ServeHTTP(w, r)
		})
	}
}
