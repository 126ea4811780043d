package application

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func evidenceServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/declared.jpg", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg; charset=binary")
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff, 0xe0})
	})
	mux.HandleFunc("/sniffed", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pngBytes)
	})
	mux.HandleFunc("/page.html", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>not an image</html>"))
	})
	mux.HandleFunc("/large.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(bytes.Repeat([]byte{1}, 4096))
	})
	mux.HandleFunc("/slow.png", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloader_Fetch(t *testing.T) {
	srv := evidenceServer(t)
	d := NewDownloader(DownloadConfig{Timeout: 200 * time.Millisecond, MaxBytes: 1024, MaxConcurrency: 3}, nil, nil)

	urls := []string{
		srv.URL + "/declared.jpg",
		srv.URL + "/missing.png",
		srv.URL + "/sniffed",
		srv.URL + "/page.html",
		srv.URL + "/large.png",
		"ftp://example.com/x.png",
		srv.URL + "/slow.png",
	}

	got, failures := d.Fetch(context.Background(), urls)

	require.Len(t, got, 2)
	assert.Equal(t, srv.URL+"/declared.jpg", got[0].Name)
	assert.Equal(t, "image/jpeg", got[0].MIMEType)
	assert.Equal(t, srv.URL+"/sniffed", got[1].Name)
	assert.Equal(t, "image/png", got[1].MIMEType)
	assert.Equal(t, pngBytes, got[1].Data)

	require.Len(t, failures, 5)
	byURL := make(map[string]string)
	for _, f := range failures {
		byURL[f.URL] = f.Error
	}
	assert.Contains(t, byURL[srv.URL+"/missing.png"], "HTTP 404")
	assert.Equal(t, ErrNotAnImage.Error(), byURL[srv.URL+"/page.html"])
	assert.Equal(t, ErrTooLarge.Error(), byURL[srv.URL+"/large.png"])
	assert.Equal(t, ErrUnsupportedScheme.Error(), byURL["ftp://example.com/x.png"])
	assert.NotEmpty(t, byURL[srv.URL+"/slow.png"])
}

func TestDownloader_Empty(t *testing.T) {
	d := NewDownloader(DefaultConfig().Download, nil, nil)
	got, failures := d.Fetch(context.Background(), nil)
	assert.Empty(t, got)
	assert.Empty(t, failures)
}

func TestImageType(t *testing.T) {
	tests := []struct {
		name   string
		header string
		data   []byte
		want   string
	}{
		{name: "declared", header: "image/webp", data: nil, want: "image/webp"},
		{name: "declared with params", header: "image/png; q=1", data: nil, want: "image/png"},
		{name: "sniffed png", header: "", data: pngBytes, want: "image/png"},
		{name: "text", header: "text/plain", data: []byte("hello"), want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, imageType(tt.header, tt.data))
		})
	}
}
