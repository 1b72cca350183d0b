package predictor

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/alanyoungcy/modelarena/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		id   string
		want Codec
	}{
		{"ai21.jamba-1-5-mini-v1:0", ai21Codec},
		{"amazon.nova-lite-v1:0", novaCodec},
		{"us.amazon.nova-pro-v1:0", novaCodec},
		{"amazon.titan-text-express-v1", titanCodec},
		{"meta.llama3-8b-instruct-v1:0", metaCodec},
		{"mistral.mistral-7b-instruct-v0:2", mistralCodec},
		{"cohere.command-text-v14", cohereCodec},
		{"anthropic.claude-3-haiku-20240307-v1:0", anthropicCodec},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			c, err := r.Lookup(tt.id)
			require.NoError(t, err)
			body, err := c.Encode("p", DefaultParams())
			require.NoError(t, err)
			want, err := tt.want.Encode("p", DefaultParams())
			require.NoError(t, err)
			assert.JSONEq(t, string(want), string(body))
		})
	}

	_, err := r.Lookup("openai.gpt-oss-20b-1:0")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestRegistryLongestPrefixWins(t *testing.T) {
	r := NewRegistry()
	r.Register("amazon", metaCodec)

	c, err := r.Lookup("amazon.titan-text-lite-v1")
	require.NoError(t, err)
	body, _ := c.Encode("p", DefaultParams())
	assert.Contains(t, string(body), "inputText")

	c, err = r.Lookup("amazon.other-model")
	require.NoError(t, err)
	body, _ = c.Encode("p", DefaultParams())
	assert.Contains(t, string(body), "max_gen_len")
}

func TestCodecRequestShapes(t *testing.T) {
	p := Params{MaxTokens: 10, Temperature: 0.7, TopP: 0.9, TopK: 50}

	decode := func(c Codec) map[string]any {
		body, err := c.Encode("predict", p)
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(body, &m))
		return m
	}

	m := decode(ai21Codec)
	assert.EqualValues(t, 10, m["max_tokens"])
	assert.Equal(t, []any{map[string]any{"role": "user", "content": "predict"}}, m["messages"])

	m = decode(novaCodec)
	assert.Equal(t, map[string]any{"maxTokens": 10.0, "topP": 0.9, "topK": 50.0, "temperature": 0.7}, m["inferenceConfig"])

	m = decode(titanCodec)
	assert.Equal(t, "predict", m["inputText"])
	assert.EqualValues(t, 10, m["textGenerationConfig"].(map[string]any)["maxTokenCount"])

	m = decode(metaCodec)
	assert.EqualValues(t, 10, m["max_gen_len"])

	m = decode(anthropicCodec)
	assert.Equal(t, "bedrock-2023-05-31", m["anthropic_version"])
}

func TestCodecDecode(t *testing.T) {
	tests := []struct {
		name  string
		codec Codec
		body  string
		want  string
	}{
		{"ai21", ai21Codec, `{"choices":[{"message":{"role":"assistant","content":"0.3151"}}]}`, "0.3151"},
		{"nova", novaCodec, `{"output":{"message":{"content":[{"text":"0.3152"}]}}}`, "0.3152"},
		{"titan", titanCodec, `{"results":[{"outputText":" 0.3153"}]}`, " 0.3153"},
		{"meta", metaCodec, `{"generation":"0.3154."}`, "0.3154."},
		{"mistral", mistralCodec, `{"outputs":[{"text":"0.3155"}]}`, "0.3155"},
		{"cohere", cohereCodec, `{"generations":[{"text":"0.3156"}]}`, "0.3156"},
		{"anthropic", anthropicCodec, `{"content":[{"type":"text","text":"0.3157"}]}`, "0.3157"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.codec.Decode([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCodecDecodeEmpty(t *testing.T) {
	for _, c := range []Codec{ai21Codec, novaCodec, titanCodec, mistralCodec, cohereCodec, anthropicCodec} {
		_, err := c.Decode([]byte(`{}`))
		assert.True(t, errors.Is(err, domain.ErrExternal))
	}
	_, err := metaCodec.Decode([]byte(`not json`))
	assert.Error(t, err)
}
