// Package bedrock invokes foundation models through the Bedrock runtime
// InvokeModel API.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/modelarena/internal/domain"
	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"
)

// ClientConfig configures the runtime client.
type ClientConfig struct {
	Region string
	// Endpoint overrides https://bedrock-runtime.{region}.amazonaws.com.
	Endpoint  string
	AccessKey string
	SecretKey string
	Timeout   time.Duration
	// MaxAttempts bounds SDK retries of throttled or failed calls; zero
	// keeps the SDK default.
	MaxAttempts int
	// RatePerSec throttles InvokeModel calls; zero disables throttling.
	RatePerSec float64
}

// Client calls InvokeModel.
type Client struct {
	runtime *bedrockruntime.Client
	limiter *rate.Limiter
}

// New resolves credentials (static keys when both are set, otherwise the
// default chain) and builds a Client.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("bedrock: region is required")
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return NewFromConfig(cfg, awsCfg)
}

// NewFromConfig builds a Client around an already loaded AWS config.
func NewFromConfig(cfg ClientConfig, awsCfg aws.Config) (*Client, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("bedrock: region is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	runtime := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		o.Region = cfg.Region
		o.HTTPClient = awshttp.NewBuildableClient().WithTimeout(timeout)
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.MaxAttempts > 0 {
			o.RetryMaxAttempts = cfg.MaxAttempts
		}
	})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return &Client{runtime: runtime, limiter: limiter}, nil
}

// Invoke posts body to the model and returns the raw response body.
func (c *Client) Invoke(ctx context.Context, modelID string, body []byte) ([]byte, error) {
	if modelID == "" {
		return nil, fmt.Errorf("bedrock: invoke: model id is required: %w", domain.ErrValidation)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("bedrock: invoke %s: rate limiter: %w", modelID, err)
	}

	out, err := c.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("bedrock: invoke %s: %s: %s: %w",
				modelID, apiErr.ErrorCode(), apiErr.ErrorMessage(), domain.ErrExternal)
		}
		return nil, fmt.Errorf("bedrock: invoke %s: %w: %w", modelID, err, domain.ErrExternal)
	}
	return out.Body, nil
}
