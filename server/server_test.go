package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/assess/internal/models"
	"github.com/xhad/assess/pkg/fetcher"
	"github.com/xhad/assess/pkg/logging"
	"github.com/xhad/assess/pkg/metrics"
	"github.com/xhad/assess/pkg/pipeline"
	"github.com/xhad/assess/pkg/retriever"
	"github.com/xhad/assess/server"
)

const evaluationJSON = `{"relevance":"high","evaluation_score":88,"overall_feedback":"Good","plagiarism":0.1,"readability_score":72,"cosine_score":0.81,"jaccard_index":0.4,"ai_text":"..."}`

type textFunc func(ctx context.Context, link string) (string, error)

func (f textFunc) FetchText(ctx context.Context, link string) (string, error) { return f(ctx, link) }

type staticRetriever struct{}

func (staticRetriever) Retrieve(context.Context, string, int) retriever.Result {
	return retriever.Result{Snippets: []models.Snippet{{Content: "Plants use chlorophyll.", Rank: 1, Score: 0.9}}}
}

type generatorFunc func(ctx context.Context, prompt string) (string, error)

func (f generatorFunc) Generate(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

func goodGenerator(evaluation string) generatorFunc {
	return func(_ context.Context, prompt string) (string, error) {
		if strings.HasPrefix(prompt, "Generate content") {
			return "Photosynthesis is the process...", nil
		}
		return "Feedback: " + evaluation, nil
	}
}

type answersFunc func(ctx context.Context, link string) ([]models.Answer, error)

func (f answersFunc) Read(ctx context.Context, link string) ([]models.Answer, error) { return f(ctx, link) }

type fixture struct {
	texts     textFunc
	generator generatorFunc
	answers   answersFunc
	config    server.Config
	metrics   *metrics.Metrics
}

func (f fixture) start(t *testing.T) *httptest.Server {
	t.Helper()
	if f.texts == nil {
		f.texts = func(context.Context, string) (string, error) {
			return "Photosynthesis converts light to energy.", nil
		}
	}
	if f.generator == nil {
		f.generator = goodGenerator(evaluationJSON)
	}
	if f.answers == nil {
		f.answers = func(context.Context, string) ([]models.Answer, error) {
			return []models.Answer{{Question: "1", Answer: "A"}}, nil
		}
	}
	if f.config.AllowedOrigin == "" {
		f.config.AllowedOrigin = "http://localhost:5173"
	}
	p := pipeline.New(pipeline.Config{}, staticRetriever{}, f.generator, pipeline.WithLogger(logging.Discard()))
	s := server.New(f.config, f.texts, p, f.answers, f.metrics, logging.Discard())

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHealth(t *testing.T) {
	ts := fixture{}.start(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestExtractText(t *testing.T) {
	links := make(chan string, 1)
	ts := fixture{texts: func(_ context.Context, link string) (string, error) {
		links <- link
		return "Photosynthesis converts light to energy.", nil
	}}.start(t)

	resp, body := postJSON(t, ts.URL+"/extract-text", map[string]string{
		"drive_link": "https://drive.google.com/file/d/abc/view",
		"topic":      "photosynthesis",
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://drive.google.com/file/d/abc/view", <-links)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Photosynthesis converts light to energy.", body["extracted_text"])
	assert.Equal(t, "Photosynthesis is the process...", body["ai_generated_text"])
	feedback := body["feedback"].(map[string]interface{})
	assert.Equal(t, "high", feedback["relevance"])
	assert.Equal(t, float64(88), feedback["evaluation_score"])
}

func TestExtractTextFailures(t *testing.T) {
	tests := []struct {
		name      string
		fixture   fixture
		body      interface{}
		status    int
		wantStage string
		wantError string
	}{
		{
			name:      "missing topic",
			body:      map[string]string{"drive_link": "x"},
			status:    http.StatusBadRequest,
			wantError: "Missing drive_link or topic in request body",
		},
		{
			name: "download fails",
			fixture: fixture{texts: func(context.Context, string) (string, error) {
				return "", &fetcher.DownloadError{URL: "x", StatusCode: 404, Err: errors.New("unexpected status")}
			}},
			body:   map[string]string{"drive_link": "x", "topic": "t"},
			status: http.StatusBadGateway,
		},
		{
			name: "empty document",
			fixture: fixture{texts: func(context.Context, string) (string, error) {
				return "  ", nil
			}},
			body:      map[string]string{"drive_link": "x", "topic": "t"},
			status:    http.StatusBadRequest,
			wantStage: "Intake",
			wantError: "No text extracted from document",
		},
		{
			name:      "invalid feedback",
			fixture:   fixture{generator: goodGenerator("no json here")},
			body:      map[string]string{"drive_link": "x", "topic": "t"},
			status:    http.StatusBadGateway,
			wantStage: "Extracting",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := tt.fixture.start(t)
			resp, body := postJSON(t, ts.URL+"/extract-text", tt.body)

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, false, body["success"])
			if tt.wantStage != "" {
				assert.Equal(t, tt.wantStage, body["stage"])
			}
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
			}
		})
	}
}

func TestExtractTextMethodNotAllowed(t *testing.T) {
	ts := fixture{}.start(t)
	resp, err := http.Get(ts.URL + "/extract-text")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestOMRExtract(t *testing.T) {
	ts := fixture{}.start(t)

	resp, body := postJSON(t, ts.URL+"/omr-extract", map[string]string{"drive_link": "https://drive.google.com/file/d/s/view"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, []interface{}{map[string]interface{}{"question": "1", "answer": "A"}}, body["omr_results"])

	resp, _ = postJSON(t, ts.URL+"/omr-extract", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOMRExtractNotImage(t *testing.T) {
	ts := fixture{answers: func(context.Context, string) ([]models.Answer, error) {
		return nil, &fetcher.DownloadError{URL: "x", Err: fetcher.ErrNotImage}
	}}.start(t)

	resp, _ := postJSON(t, ts.URL+"/omr-extract", map[string]string{"drive_link": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	ts := fixture{}.start(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/extract-text", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := fixture{metrics: metrics.New()}.start(t)

	postJSON(t, ts.URL+"/extract-text", map[string]string{"drive_link": "x", "topic": "t"})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `assess_http_requests_total{method="POST",path="/extract-text",status="200"} 1`)
}

func TestConcurrencyLimit(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	ts := fixture{
		config: server.Config{MaxConcurrent: 1, RequestTimeout: 200 * time.Millisecond},
		texts: func(context.Context, string) (string, error) {
			close(entered)
			<-release
			return "Photosynthesis converts light to energy.", nil
		},
	}.start(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := http.Post(ts.URL+"/extract-text", "application/json",
			strings.NewReader(`{"drive_link":"x","topic":"t"}`))
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-entered

	resp, body := postJSON(t, ts.URL+"/extract-text", map[string]string{"drive_link": "y", "topic": "t"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, body["error"], "capacity")

	close(release)
	<-done
}

func TestWebSocketProgress(t *testing.T) {
	ts := fixture{}.start(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(server.Message{
		Type: "evaluate",
		Data: map[string]string{"drive_link": "x", "topic": "photosynthesis"},
	}))

	var progress []string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg server.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "progress" {
			progress = append(progress, msg.Content)
			continue
		}
		if msg.Type == "status" {
			continue
		}
		require.Equal(t, "result", msg.Type)
		result := msg.Data.(map[string]interface{})
		assert.Equal(t, "photosynthesis", result["topic"])
		break
	}

	assert.Equal(t, []string{
		"Intake", "Retrieving", "Composing", "Generating(content)",
		"Generating(evaluation)", "Extracting", "Validating", "Done",
	}, progress)
}

func TestWebSocketRejectsBadMessage(t *testing.T) {
	ts := fixture{}.start(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(server.Message{Type: "evaluate"}))
	var msg server.Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "Missing drive_link or topic in request body", msg.Content)
}
