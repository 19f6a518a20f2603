package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetectLocale(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		want   string
	}{
		{"x-locale override", map[string]string{"X-Locale": "es", "Accept-Language": "ja"}, "es"},
		{"accept-language", map[string]string{"Accept-Language": "ja-JP,ja;q=0.9"}, "ja"},
		{"unsupported falls back to english", map[string]string{"Accept-Language": "fr-FR"}, "en"},
		{"no headers", nil, "en"},
		{"invalid locale", map[string]string{"X-Locale": "!!"}, "en"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			if got := detectLocale(req, "en"); got != tc.want {
				t.Fatalf("detectLocale() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestI18NStoresLocaleInContext(t *testing.T) {
	var got string
	handler := I18N("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = LocaleFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Locale", "ja")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != "ja" {
		t.Fatalf("locale = %q, want ja", got)
	}
}
