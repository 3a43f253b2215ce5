package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func gzipped(t *testing.T, s string) io.Reader {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return &buf
}

func TestGzipMiddleware(t *testing.T) {
	const payload = `{"amount":"10.00","method":"gateway"}`

	tests := []struct {
		name         string
		body         func(t *testing.T) io.Reader
		headers      map[string]string
		wantStatus   int
		wantEncoding string
		wantBody     string
	}{
		{
			name:         "client accepts gzip",
			body:         func(t *testing.T) io.Reader { return strings.NewReader(payload) },
			headers:      map[string]string{"Accept-Encoding": "gzip"},
			wantStatus:   http.StatusOK,
			wantEncoding: "gzip",
			wantBody:     payload,
		},
		{
			name:         "client does not accept gzip",
			body:         func(t *testing.T) io.Reader { return strings.NewReader(payload) },
			headers:      map[string]string{},
			wantStatus:   http.StatusOK,
			wantEncoding: "",
			wantBody:     payload,
		},
		{
			name: "compressed request body",
			body: func(t *testing.T) io.Reader { return gzipped(t, payload) },
			headers: map[string]string{
				"Content-Encoding": "gzip",
				"Accept-Encoding":  "gzip",
			},
			wantStatus:   http.StatusOK,
			wantEncoding: "gzip",
			wantBody:     payload,
		},
		{
			name:       "broken compressed body",
			body:       func(t *testing.T) io.Reader { return strings.NewReader("not gzip") },
			headers:    map[string]string{"Content-Encoding": "gzip"},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/payments", tt.body(t))
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()

			GzipMiddleware(http.HandlerFunc(echoHandler)).ServeHTTP(w, req)

			res := w.Result()
			defer res.Body.Close()

			require.Equal(t, tt.wantStatus, res.StatusCode)
			if tt.wantStatus != http.StatusOK {
				return
			}
			assert.Equal(t, tt.wantEncoding, res.Header.Get("Content-Encoding"))
			assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

			var reader io.Reader = res.Body
			if res.Header.Get("Content-Encoding") == "gzip" {
				gr, err := gzip.NewReader(res.Body)
				require.NoError(t, err)
				defer gr.Close()
				reader = gr
			}

			body, err := io.ReadAll(reader)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBody, string(body))
		})
	}
}
