package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdf2html/internal/domain"
)

var pdfBody = []byte("%PDF-1.4\n%fake\n")

func TestDownloader_Fetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/doc", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(pdfBody)
	})
	mux.HandleFunc("/octet.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(pdfBody)
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	})
	mux.HandleFunc("/missing.pdf", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/big.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte(strings.Repeat("x", 2048)))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := NewDownloader(5*time.Second, WithMaxBytes(1024))

	tests := []struct {
		name     string
		path     string
		wantKind domain.ErrorType
		wantMsg  string
	}{
		{name: "pdf content type", path: "/doc"},
		{name: "pdf suffix with generic content type", path: "/octet.pdf"},
		{name: "not a pdf", path: "/page", wantKind: domain.ErrorTypeValidation, wantMsg: "URL does not point to a PDF file"},
		{name: "http error", path: "/missing.pdf", wantKind: domain.ErrorTypeValidation, wantMsg: "failed to download PDF: HTTP 404"},
		{name: "too large", path: "/big.pdf", wantKind: domain.ErrorTypeValidation, wantMsg: "download limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := d.Fetch(context.Background(), srv.URL+tt.path)
			if tt.wantKind == "" {
				require.NoError(t, err)
				assert.Equal(t, pdfBody, data)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, domain.KindOf(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestDownloader_InvalidURL(t *testing.T) {
	d := NewDownloader(0)

	for _, raw := range []string{"", "ftp://example.com/a.pdf", "not a url", "http://"} {
		_, err := d.Fetch(context.Background(), raw)
		require.Error(t, err, raw)
		assert.Equal(t, domain.ErrorTypeValidation, domain.KindOf(err), raw)
	}
}

func TestDownloader_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL + "/gone.pdf"
	srv.Close()

	_, err := NewDownloader(time.Second).Fetch(context.Background(), url)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeTransport, domain.KindOf(err))
}

func TestDownloader_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDownloader(time.Second).Fetch(ctx, srv.URL+"/slow.pdf")
	require.Error(t, err)
	assert.True(t, domain.IsCancelled(err))
}
