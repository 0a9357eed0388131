package fetcher_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/assess/pkg/fetcher"
	"github.com/xhad/assess/pkg/logging"
)

func newFetcher(config fetcher.FetcherConfig) *fetcher.Fetcher {
	if config.RateLimit == 0 {
		config.RateLimit = 100
	}
	return fetcher.NewWithConfig(config, logging.Discard())
}

func TestNormalizeDriveLink(t *testing.T) {
	tests := []struct {
		link string
		want string
	}{
		{
			"https://drive.google.com/file/d/1AbC-xyz_9/view?usp=sharing",
			"https://drive.google.com/uc?export=download&id=1AbC-xyz_9",
		},
		{
			"https://drive.google.com/file/d/1AbC",
			"https://drive.google.com/uc?export=download&id=1AbC",
		},
		{
			"https://drive.google.com/open?id=42abc",
			"https://drive.google.com/uc?export=download&id=42abc",
		},
		{
			"https://drive.google.com/open?usp=sharing",
			"https://drive.google.com/open?usp=sharing",
		},
		{
			"https://example.com/paper.pdf",
			"https://example.com/paper.pdf",
		},
		{
			"  https://drive.google.com/file/d/xyz/edit  ",
			"https://drive.google.com/uc?export=download&id=xyz",
		},
	}
	for _, tt := range tests {
		t.Run(tt.link, func(t *testing.T) {
			assert.Equal(t, tt.want, fetcher.NormalizeDriveLink(tt.link))
		})
	}
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "a b c", fetcher.CleanText("  a\n\n b\t\tc  "))
	assert.Equal(t, "", fetcher.CleanText(" \n "))
}

func TestFetchTextHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`
			<html>
				<head><title>Test Page</title><style>body{}</style></head>
				<body>
					<nav>Menu</nav>
					<main>
						<h1>Test Content</h1>
						<p>This is a   test paragraph.</p>
						<script>var x = 1;</script>
					</main>
				</body>
			</html>
		`))
	}))
	defer server.Close()

	doc, err := newFetcher(fetcher.FetcherConfig{}).FetchDocument(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "Test Page", doc.Title)
	assert.Equal(t, "Test Content This is a test paragraph.", doc.Content)
	assert.Equal(t, server.URL, doc.Source)
}

func TestFetchTextPlain(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("Photosynthesis\nconverts   light\tto energy.\n"))
	}))
	defer server.Close()

	text, err := newFetcher(fetcher.FetcherConfig{}).FetchText(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "Photosynthesis converts light to energy.", text)
}

func TestFetchTextFollowsConfirmation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/uc", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("confirm") == "t" {
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("large file body"))
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>
			<p>Google Drive can't scan this file for viruses.</p>
			<form id="download-form" action="/uc" method="get">
				<input type="hidden" name="id" value="abc">
				<input type="hidden" name="export" value="download">
				<input type="hidden" name="confirm" value="t">
			</form>
		</body></html>`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	text, err := newFetcher(fetcher.FetcherConfig{}).FetchText(context.Background(), server.URL+"/uc?id=abc&export=download")
	require.NoError(t, err)
	assert.Equal(t, "large file body", text)
}

func TestFetchTextErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		config  fetcher.FetcherConfig
		status  int
		target  error
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
			status: http.StatusNotFound,
		},
		{
			name: "too large",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				w.Write([]byte("0123456789abcdef"))
			},
			config: fetcher.FetcherConfig{MaxBytes: 8},
			target: fetcher.ErrTooLarge,
		},
		{
			name: "unsupported content",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/zip")
				w.Write([]byte("PK\x03\x04"))
			},
			target: fetcher.ErrUnsupportedContent,
		},
		{
			name: "broken pdf",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/pdf")
				w.Write([]byte("%PDF-1.4\nnot really a pdf"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := newFetcher(tt.config).FetchText(context.Background(), server.URL)
			var de *fetcher.DownloadError
			require.ErrorAs(t, err, &de)
			if tt.status != 0 {
				assert.Equal(t, tt.status, de.StatusCode)
			}
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestFetchTextInvalidLink(t *testing.T) {
	_, err := newFetcher(fetcher.FetcherConfig{}).FetchText(context.Background(), "not a link")
	var de *fetcher.DownloadError
	assert.ErrorAs(t, err, &de)
}

func TestFetchImage(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n....")
	mux := http.NewServeMux()
	mux.HandleFunc("/sheet.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>Sign in</body></html>"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	f := newFetcher(fetcher.FetcherConfig{})

	mimeType, data, err := f.FetchImage(context.Background(), server.URL+"/sheet.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", mimeType)
	assert.Equal(t, png, data)

	_, _, err = f.FetchImage(context.Background(), server.URL+"/page")
	assert.ErrorIs(t, err, fetcher.ErrNotImage)
}

func TestFetchCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("late"))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newFetcher(fetcher.FetcherConfig{}).FetchText(ctx, server.URL)
	assert.ErrorIs(t, err, context.Canceled)
}
