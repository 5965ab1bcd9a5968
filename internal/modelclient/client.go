// Package modelclient calls the trajectory model over HTTP.
package modelclient

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/banshee-data/soccer-diffusion/internal/dataset"
)

// PredictPath is the model endpoint, relative to the base URL.
const PredictPath = "/predict"

// Tensor is one named model input. Data is flat and row-major; byte data
// travels base64 encoded.
type Tensor struct {
	Shape []int `json:"shape"`
	Data  any   `json:"data"`
}

// Inputs maps model input keys to tensors.
type Inputs map[string]Tensor

// Keys returns the input keys in sorted order.
func (in Inputs) Keys() []string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FromBatch converts a batch to model inputs, leaving out the omitted keys.
func FromBatch(b *dataset.Batch, omit ...string) Inputs {
	skip := make(map[string]bool, len(omit))
	for _, k := range omit {
		skip[k] = true
	}
	in := Inputs{}
	for key := range b.Shapes() {
		if skip[key] {
			continue
		}
		data, dims, ok := b.Flat(key)
		if !ok {
			continue
		}
		in[key] = Tensor{Shape: dims, Data: data}
	}
	return in
}

type predictRequest struct {
	Inputs Inputs `json:"inputs"`
}

type predictResponse struct {
	Trajectory [][]float32 `json:"trajectory"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Option configures a Client.
type Option func(*resty.Client)

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) { c.SetTimeout(d) }
}

// WithRetries retries transport errors and 5xx responses up to n times.
func WithRetries(n int) Option {
	return func(c *resty.Client) {
		c.SetRetryCount(n).
			SetRetryWaitTime(50 * time.Millisecond).
			SetRetryMaxWaitTime(500 * time.Millisecond).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || (r != nil && r.StatusCode() >= http.StatusInternalServerError)
			})
	}
}

// Client is an HTTP model client. It is safe for concurrent use.
type Client struct {
	http *resty.Client
}

// New returns a client for the model served at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	for _, o := range opts {
		o(c)
	}
	return &Client{http: c}
}

// Predict sends one set of inputs and returns the predicted trajectory,
// one row per future step in stored joint space.
func (c *Client) Predict(ctx context.Context, inputs Inputs) ([][]float32, error) {
	var out predictResponse
	var failure errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(predictRequest{Inputs: inputs}).
		SetResult(&out).
		SetError(&failure).
		Post(PredictPath)
	if err != nil {
		return nil, fmt.Errorf("call model: %w", err)
	}
	if resp.IsError() {
		if failure.Error != "" {
			return nil, fmt.Errorf("model returned %s: %s", resp.Status(), failure.Error)
		}
		return nil, fmt.Errorf("model returned %s", resp.Status())
	}
	if len(out.Trajectory) == 0 {
		return nil, fmt.Errorf("model returned an empty trajectory")
	}
	return out.Trajectory, nil
}
