package bedrock

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alanyoungcy/modelarena/internal/domain"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := NewFromConfig(ClientConfig{Region: "us-east-1", Endpoint: endpoint, MaxAttempts: 1}, aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""),
	})
	require.NoError(t, err)
	return c
}

func TestInvokeSignsAndEscapesModelID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/model/ai21.jamba-1-5-mini-v1%3A0/invoke", r.URL.EscapedPath())
		assert.Contains(t, r.Header.Get("Authorization"), "Credential=AKIDEXAMPLE/")
		assert.Contains(t, r.Header.Get("Authorization"), "/us-east-1/bedrock/aws4_request")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"prompt":"hi"}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"generation":"0.3"}`))
	}))
	defer srv.Close()

	out, err := newTestClient(t, srv.URL).Invoke(context.Background(), "ai21.jamba-1-5-mini-v1:0", []byte(`{"prompt":"hi"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"generation":"0.3"}`, string(out))
}

func TestInvokeThrottledIsExternal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Amzn-Errortype", "ThrottlingException")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"Too many requests, please wait before trying again."}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Invoke(context.Background(), "meta.llama3-8b-instruct-v1:0", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExternal))
	assert.Contains(t, err.Error(), "ThrottlingException")
	assert.Contains(t, err.Error(), "Too many requests")
	assert.Equal(t, int32(1), calls.Load())
}

func TestInvokeTransportErrorIsExternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url).Invoke(context.Background(), "meta.llama3-8b-instruct-v1:0", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExternal))
}

func TestInvokeRequiresModelID(t *testing.T) {
	_, err := newTestClient(t, "http://localhost:1").Invoke(context.Background(), "", nil)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestNewFromConfigRequiresRegion(t *testing.T) {
	_, err := NewFromConfig(ClientConfig{}, aws.Config{})
	assert.Error(t, err)
}
