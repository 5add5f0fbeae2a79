package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrimaryOCRClient_SendsChatMessage(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"completion":"Invoice #123"}`)
	}))
	defer srv.Close()

	text, err := NewPrimaryOCRClient(srv.URL, "").ExtractText(context.Background(), "QUJD")
	require.NoError(t, err)
	assert.Equal(t, "Invoice #123", text)

	require.Len(t, got.Messages, 1)
	msg := got.Messages[0]
	assert.Equal(t, "user", msg.Role)
	require.Len(t, msg.Content, 2)
	assert.Equal(t, "text", msg.Content[0].Type)
	assert.Equal(t, DefaultOCRInstruction, msg.Content[0].Text)
	assert.Equal(t, "image", msg.Content[1].Type)
	assert.Equal(t, "data:image/jpeg;base64,QUJD", msg.Content[1].Image)
}

func TestPrimaryOCRClient_Non2xxIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewPrimaryOCRClient(srv.URL, "").ExtractText(context.Background(), "QUJD")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.False(t, IsTransport(err))
}

func TestPrimaryOCRClient_ConnectionRefusedIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewPrimaryOCRClient(url, "").ExtractText(context.Background(), "QUJD")

	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestParseChatResponse(t *testing.T) {
	testCases := []struct {
		name string
		body string
		want string
	}{
		{"completion", `{"completion":"a","message":"b"}`, "a"},
		{"message", `{"message":"b","text":"c"}`, "b"},
		{"text", `{"completion":null,"text":"c"}`, "c"},
		{"response", `{"response":"d"}`, "d"},
		{"empty string skipped", `{"completion":"","response":"d"}`, "d"},
		{"non-string skipped", `{"completion":{"x":1},"text":"c"}`, "c"},
		{"none", `{"other":"x"}`, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseChatResponse([]byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ParseChatResponse([]byte("not json"))
	assert.Error(t, err)
}

func TestOCRSpaceClient_PostsMultipartForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "data:image/jpeg;base64,QUJD", r.FormValue("base64Image"))
		assert.Equal(t, "eng", r.FormValue("language"))
		assert.Equal(t, "helloworld", r.FormValue("apikey"))
		assert.Equal(t, "2", r.FormValue("OCREngine"))
		fmt.Fprint(w, `{"ParsedResults":[{"ParsedText":"  Invoice #123\r\n","FileParseExitCode":1}],"OCRExitCode":1,"IsErroredOnProcessing":false}`)
	}))
	defer srv.Close()

	text, err := NewOCRSpaceClient(srv.URL, "").ExtractText(context.Background(), "QUJD")
	require.NoError(t, err)
	assert.Equal(t, "Invoice #123", text)
}

func TestOCRSpaceClient_NoResultsIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ParsedResults":null,"OCRExitCode":"99","IsErroredOnProcessing":true,"ErrorMessage":["bad image"]}`)
	}))
	defer srv.Close()

	text, err := NewOCRSpaceClient(srv.URL, "key").ExtractText(context.Background(), "QUJD")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestEmbeddingClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req voyageEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, VoyageModel, req.Model)
		assert.Equal(t, "query", req.InputType)

		vec := make([]float32, EmbeddingDimension)
		vec[0] = 1
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"embedding": vec, "index": 0}},
		})
	}))
	defer srv.Close()

	_, err := NewEmbeddingClient("", srv.URL)
	require.Error(t, err)

	c, err := NewEmbeddingClient("secret", srv.URL)
	require.NoError(t, err)

	vec, err := c.EmbedQuery(context.Background(), "invoice")
	require.NoError(t, err)
	assert.Len(t, vec, EmbeddingDimension)
	assert.Equal(t, float32(1), vec[0])
}

func TestArtifactClient_UploadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/files/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, SourceService, r.FormValue("source_service"))
		assert.Equal(t, "scan-1", r.FormValue("source_id"))
		assert.Equal(t, "36500", r.FormValue("ttl_days"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "scan.jpg", hdr.Filename)
		assert.Equal(t, "image/jpeg", hdr.Header.Get("Content-Type"))
		assert.Equal(t, []byte{0xff, 0xd8}, data)

		fmt.Fprint(w, `{"success":true,"artifact":{"id":"a1","download_url":"https://files/a1"}}`)
	}))
	defer srv.Close()

	url, err := NewArtifactClient(srv.URL).UploadFile(context.Background(), "scan-1", "scan.jpg", "image/jpeg", []byte{0xff, 0xd8})
	require.NoError(t, err)
	assert.Equal(t, "https://files/a1", url)

	_, err = NewArtifactClient(srv.URL).UploadFile(context.Background(), "scan-1", "scan.jpg", "image/jpeg", nil)
	assert.Error(t, err)
}

func TestOCRSpaceClient_RateLimitHonoursContext(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"ParsedResults":[{"ParsedText":"ok"}]}`)
	}))
	defer srv.Close()

	c := NewOCRSpaceClient(srv.URL, "").WithRateLimit(1)

	_, err := c.ExtractText(context.Background(), "QUJD")
	require.NoError(t, err)

	// The next slot is a minute away; a short deadline cannot wait for it.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.ExtractText(ctx, "QUJD")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
