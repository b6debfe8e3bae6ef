package colmena

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// clientMinSamples is the contributor-side sample floor. It is
// deliberately stricter than the server minimum so underpowered models
// never leave the building.
const clientMinSamples = 100

// ClientConfig configures a pool client.
type ClientConfig struct {
	// BaseURL of the pool server, e.g. "https://pool.example.com".
	BaseURL string

	// Timeout for each request. Requests fail closed: a timeout or
	// transport error never falls back to sending unvalidated data.
	Timeout time.Duration

	// AlgorithmVersion is stamped on outgoing contributions.
	AlgorithmVersion string

	// OrgID is added to the local blocklist so the organization's own
	// identifier is caught if it leaks into a parameter key.
	OrgID string

	// MinSampleCount overrides the local sample floor (default 100).
	MinSampleCount int
}

// Client submits contributions to a pool server and fetches released
// aggregates. Every outgoing contribution passes the local
// anonymization gate and a relative-noise pass before transmission;
// nothing is retried, a failed send is reported and dropped.
type Client struct {
	config ClientConfig
	gate   *AnonymizationGate
	http   *http.Client
}

// NewClient creates a pool client.
func NewClient(config ClientConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MinSampleCount <= 0 {
		config.MinSampleCount = clientMinSamples
	}

	gate := NewAnonymizationGate(config.MinSampleCount, DefaultPrivacyConfig().MinCohortSize)
	if config.OrgID != "" {
		gate = gate.WithBlockedTerms(config.OrgID)
	}

	return &Client{
		config: config,
		gate:   gate,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

// SubmitContribution validates, noises, and transmits a contribution.
// Validation failures and transport errors both abort the submission;
// the contribution is never sent partially or unvalidated.
func (c *Client) SubmitContribution(ctx context.Context, contribution *ModelContribution) (SubmitStatus, error) {
	noised := *contribution
	noised.Parameters = applyLocalNoise(contribution.Parameters)

	if err := c.gate.Validate(&noised); err != nil {
		return SubmitStatus{}, err
	}

	if noised.Timestamp.IsZero() {
		noised.Timestamp = time.Now()
	}
	if noised.AlgorithmVersion == "" {
		noised.AlgorithmVersion = c.config.AlgorithmVersion
	}

	var resp submitResponse
	if err := c.post(ctx, "/federated/submit-model", &noised, &resp); err != nil {
		return SubmitStatus{}, err
	}
	return resp.Pool, nil
}

// SubmitMetrics validates and transmits a metrics contribution. The
// returned status identifies the submission and reports the segment's
// running contribution count.
func (c *Client) SubmitMetrics(ctx context.Context, metrics *MetricsContribution) (MetricsStatus, error) {
	if err := c.gate.ValidateMetrics(metrics); err != nil {
		return MetricsStatus{}, err
	}
	if metrics.Timestamp.IsZero() {
		metrics.Timestamp = time.Now()
	}

	var resp metricsResponse
	if err := c.post(ctx, "/federated/submit-metrics", metrics, &resp); err != nil {
		return MetricsStatus{}, err
	}
	return resp.Metrics, nil
}

// Aggregated fetches the current released aggregate for a model type.
// ErrNotFound means the pool has not reached quorum for the type.
func (c *Client) Aggregated(ctx context.Context, typ ModelType) (*AggregatedModel, error) {
	url := c.config.BaseURL + "/federated/aggregated/" + string(typ)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{URL: url, Cause: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{URL: url, StatusCode: resp.StatusCode}
	}

	var model AggregatedModel
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&model); err != nil {
		return nil, &TransportError{URL: url, Cause: err}
	}
	return &model, nil
}

// ContributeRegression runs a full round for a regression model type:
// train locally, extract parameters, build the contribution, and
// submit it. samples stay local; only parameters and metrics travel.
func (c *Client) ContributeRegression(ctx context.Context, typ ModelType, sector string,
	samples []TrainingSample, trainConfig TrainConfig) (SubmitStatus, error) {

	trainer := NewLocalTrainer(trainConfig)
	trainer.AddSamples(samples...)

	model, err := trainer.TrainRegression()
	if err != nil {
		return SubmitStatus{}, fmt.Errorf("local training failed: %w", err)
	}

	params, err := ParameterExtractor{}.FromRegression(model)
	if err != nil {
		return SubmitStatus{}, err
	}

	return c.submitTrained(ctx, typ, sector, params, model.Metrics, model.SampleCount)
}

// ContributeClassifier runs a full round for a classification model
// type.
func (c *Client) ContributeClassifier(ctx context.Context, typ ModelType, sector string,
	samples []TrainingSample, trainConfig TrainConfig) (SubmitStatus, error) {

	trainer := NewLocalTrainer(trainConfig)
	trainer.AddSamples(samples...)

	model, err := trainer.TrainClassifier()
	if err != nil {
		return SubmitStatus{}, fmt.Errorf("local training failed: %w", err)
	}

	params, err := ParameterExtractor{}.FromClassifier(model)
	if err != nil {
		return SubmitStatus{}, err
	}

	return c.submitTrained(ctx, typ, sector, params, model.Metrics, model.SampleCount)
}

func (c *Client) submitTrained(ctx context.Context, typ ModelType, sector string,
	params ParamMap, metrics map[string]float64, sampleCount int) (SubmitStatus, error) {

	hash, err := NewSegmentHash(sector, c.config.OrgID)
	if err != nil {
		return SubmitStatus{}, fmt.Errorf("failed to derive segment hash: %w", err)
	}

	contribution := BuildContribution(typ, hash, params, metrics, sampleCount, c.config.AlgorithmVersion)
	return c.SubmitContribution(ctx, contribution)
}

// post sends a JSON body and decodes the response into out when it is
// non-nil. Non-2xx statuses are transport errors; the response body is
// read for the server's error message when present.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	url := c.config.BaseURL + path

	payload, err := json.Marshal(body)
	if err != nil {
		return &TransportError{URL: url, Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &TransportError{URL: url, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{URL: url, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		cause := error(nil)
		if len(msg) > 0 {
			cause = fmt.Errorf("%s", strings.TrimSpace(string(msg)))
		}
		return &TransportError{URL: url, StatusCode: resp.StatusCode, Cause: cause}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return &TransportError{URL: url, Cause: err}
	}
	return nil
}
