/*
Copyright 2026 Foundation 29

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package caller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"k8s.io/klog/v2"

	"github.com/foundation29org/lapin/internal/backend"
	"github.com/foundation29org/lapin/internal/util/logging"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// bedrockAPI is the slice of the bedrockruntime client the caller needs;
// tests substitute a fake.
type bedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockCaller invokes Anthropic models hosted on AWS Bedrock.
type BedrockCaller struct {
	api bedrockAPI
	cfg backend.Config
}

func NewBedrockCaller(cfg backend.Config) *BedrockCaller {
	client := bedrockruntime.New(bedrockruntime.Options{
		Region: cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
	})
	return &BedrockCaller{api: client, cfg: cfg}
}

func (c *BedrockCaller) Provider() backend.Provider {
	return backend.ProviderBedrock
}

type bedrockAnthropicRequest struct {
	AnthropicVersion string        `json:"anthropic_version"`
	MaxTokens        int           `json:"max_tokens"`
	Temperature      float64       `json:"temperature"`
	Messages         []chatMessage `json:"messages"`
}

type bedrockAnthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Call invokes the model with the Anthropic messages body shape.
func (c *BedrockCaller) Call(ctx context.Context, prompt string) (*Response, error) {
	payload, err := json.Marshal(bedrockAnthropicRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        c.cfg.MaxTokens,
		Temperature:      c.cfg.Temperature,
		Messages:         []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, &CallError{
			Category: ErrCategoryInvalidReq,
			Message:  fmt.Sprintf("failed to marshal request: %v", err),
			RawError: err,
		}
	}

	klog.V(logging.DEBUG).Infof("Invoking Bedrock model %s in %s", c.cfg.Model, c.cfg.Region)

	start := time.Now()
	out, err := c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.cfg.Model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, c.invokeError(ctx, err)
	}
	latency := time.Since(start)

	var parsed bedrockAnthropicResponse
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return nil, &CallError{
			Category: ErrCategoryServer,
			Message:  fmt.Sprintf("failed to parse response body: %v", err),
			RawError: err,
		}
	}

	text := ""
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	usage := Usage{
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
	}
	usage.normalize()

	return &Response{
		Text:    text,
		Usage:   usage,
		Raw:     out.Body,
		ModelID: c.cfg.Model,
		Latency: latency,
	}, nil
}

func (c *BedrockCaller) invokeError(ctx context.Context, err error) *CallError {
	if errors.Is(ctx.Err(), context.Canceled) {
		return &CallError{Category: ErrCategoryUnknown, Message: "request cancelled", RawError: err}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &CallError{Category: ErrCategoryServer, Message: "request timeout", RawError: err}
	}

	// The SDK surfaces throttling and auth failures as typed smithy API
	// errors; string matching on the code keeps this free of per-error
	// type imports.
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return &CallError{Category: ErrCategoryRateLimit, Message: err.Error(), RawError: err}
		case "AccessDeniedException", "UnrecognizedClientException":
			return &CallError{Category: ErrCategoryAuth, Message: err.Error(), RawError: err}
		case "ValidationException":
			return &CallError{Category: ErrCategoryInvalidReq, Message: err.Error(), RawError: err}
		}
	}
	return &CallError{
		Category: ErrCategoryServer,
		Message:  fmt.Sprintf("bedrock invocation failed: %v", err),
		RawError: err,
	}
}
