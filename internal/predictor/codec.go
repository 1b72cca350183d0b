package predictor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/alanyoungcy/modelarena/internal/domain"
)

// Params are the sampling settings sent to every model.
type Params struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int
}

// DefaultParams asks for a short answer with moderate randomness.
func DefaultParams() Params {
	return Params{MaxTokens: 10, Temperature: 0.7, TopP: 0.9, TopK: 50}
}

// Codec translates a prompt into one model family's request body and pulls
// the answer text back out of its response.
type Codec interface {
	Encode(prompt string, p Params) ([]byte, error)
	Decode(body []byte) (string, error)
}

type codec struct {
	encode func(prompt string, p Params) any
	decode func(body []byte) (string, error)
}

func (c codec) Encode(prompt string, p Params) ([]byte, error) {
	return json.Marshal(c.encode(prompt, p))
}

func (c codec) Decode(body []byte) (string, error) {
	return c.decode(body)
}

// Registry maps model id prefixes to codecs. The longest matching prefix
// wins, so "amazon.nova" takes precedence over a plain "amazon".
type Registry struct {
	prefixes []string
	codecs   map[string]Codec
}

// geoPrefixes are cross-region inference profile qualifiers that precede the
// provider in a model id.
var geoPrefixes = []string{"us.", "eu.", "apac.", "global."}

// NewRegistry returns a registry with the built-in model families.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]Codec)}
	r.Register("anthropic", anthropicCodec)
	r.Register("ai21", ai21Codec)
	r.Register("amazon.nova", novaCodec)
	r.Register("amazon.titan", titanCodec)
	r.Register("meta", metaCodec)
	r.Register("mistral", mistralCodec)
	r.Register("cohere", cohereCodec)
	return r
}

// Register adds or replaces the codec for prefix.
func (r *Registry) Register(prefix string, c Codec) {
	if _, ok := r.codecs[prefix]; !ok {
		r.prefixes = append(r.prefixes, prefix)
		sort.Slice(r.prefixes, func(i, j int) bool {
			return len(r.prefixes[i]) > len(r.prefixes[j])
		})
	}
	r.codecs[prefix] = c
}

// Lookup finds the codec for modelID.
func (r *Registry) Lookup(modelID string) (Codec, error) {
	id := modelID
	for _, g := range geoPrefixes {
		if strings.HasPrefix(id, g) {
			id = strings.TrimPrefix(id, g)
			break
		}
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(id, p) {
			return r.codecs[p], nil
		}
	}
	return nil, fmt.Errorf("predictor: no codec for model %q: %w", modelID, domain.ErrValidation)
}

type textMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var anthropicCodec = codec{
	encode: func(prompt string, p Params) any {
		return map[string]any{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        p.MaxTokens,
			"temperature":       p.Temperature,
			"top_p":             p.TopP,
			"messages":          []textMessage{{Role: "user", Content: prompt}},
		}
	},
	decode: func(body []byte) (string, error) {
		var out struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return "", fmt.Errorf("decode anthropic response: %w", err)
		}
		if len(out.Content) == 0 {
			return "", emptyAnswer("anthropic")
		}
		return out.Content[0].Text, nil
	},
}

var ai21Codec = codec{
	encode: func(prompt string, p Params) any {
		return map[string]any{
			"messages":    []textMessage{{Role: "user", Content: prompt}},
			"max_tokens":  p.MaxTokens,
			"temperature": p.Temperature,
		}
	},
	decode: func(body []byte) (string, error) {
		var out struct {
			Choices []struct {
				Message textMessage `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return "", fmt.Errorf("decode ai21 response: %w", err)
		}
		if len(out.Choices) == 0 {
			return "", emptyAnswer("ai21")
		}
		return out.Choices[0].Message.Content, nil
	},
}

type novaText struct {
	Text string `json:"text"`
}

var novaCodec = codec{
	encode: func(prompt string, p Params) any {
		return map[string]any{
			"schemaVersion": "messages-v1",
			"inferenceConfig": map[string]any{
				"maxTokens":   p.MaxTokens,
				"topP":        p.TopP,
				"topK":        p.TopK,
				"temperature": p.Temperature,
			},
			"messages": []map[string]any{
				{"role": "user", "content": []novaText{{Text: prompt}}},
			},
		}
	},
	decode: func(body []byte) (string, error) {
		var out struct {
			Output struct {
				Message struct {
					Content []novaText `json:"content"`
				} `json:"message"`
			} `json:"output"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return "", fmt.Errorf("decode nova response: %w", err)
		}
		if len(out.Output.Message.Content) == 0 {
			return "", emptyAnswer("nova")
		}
		return out.Output.Message.Content[0].Text, nil
	},
}

var titanCodec = codec{
	encode: func(prompt string, p Params) any {
		return map[string]any{
			"inputText": prompt,
			"textGenerationConfig": map[string]any{
				"temperature":   p.Temperature,
				"topP":          p.TopP,
				"maxTokenCount": p.MaxTokens,
			},
		}
	},
	decode: func(body []byte) (string, error) {
		var out struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return "", fmt.Errorf("decode titan response: %w", err)
		}
		if len(out.Results) == 0 {
			return "", emptyAnswer("titan")
		}
		return out.Results[0].OutputText, nil
	},
}

var metaCodec = codec{
	encode: func(prompt string, p Params) any {
		return map[string]any{
			"prompt":      prompt,
			"temperature": p.Temperature,
			"max_gen_len": p.MaxTokens,
		}
	},
	decode: func(body []byte) (string, error) {
		var out struct {
			Generation string `json:"generation"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return "", fmt.Errorf("decode meta response: %w", err)
		}
		return out.Generation, nil
	},
}

var mistralCodec = codec{
	encode: func(prompt string, p Params) any {
		return map[string]any{
			"prompt":      prompt,
			"temperature": p.Temperature,
			"max_tokens":  p.MaxTokens,
		}
	},
	decode: func(body []byte) (string, error) {
		var out struct {
			Outputs []struct {
				Text string `json:"text"`
			} `json:"outputs"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return "", fmt.Errorf("decode mistral response: %w", err)
		}
		if len(out.Outputs) == 0 {
			return "", emptyAnswer("mistral")
		}
		return out.Outputs[0].Text, nil
	},
}

var cohereCodec = codec{
	encode: func(prompt string, p Params) any {
		return map[string]any{
			"prompt":      prompt,
			"temperature": p.Temperature,
			"max_tokens":  p.MaxTokens,
		}
	},
	decode: func(body []byte) (string, error) {
		var out struct {
			Generations []struct {
				Text string `json:"text"`
			} `json:"generations"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return "", fmt.Errorf("decode cohere response: %w", err)
		}
		if len(out.Generations) == 0 {
			return "", emptyAnswer("cohere")
		}
		return out.Generations[0].Text, nil
	},
}

func emptyAnswer(family string) error {
	return fmt.Errorf("%s response has no answer: %w", family, domain.ErrExternal)
}
