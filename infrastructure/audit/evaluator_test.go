package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-warden/infrastructure/parser"
	"github.com/ahrav/go-warden/internal/domain"
	"github.com/ahrav/go-warden/internal/ports"
	"github.com/ahrav/go-warden/internal/testutils"
)

const compliantReply = `{"compliance_status": "COMPLIANT", "flags": [], "Brief_report": "Policy present.", "full_report": "The policy is signed.", "needs_human_review": false}`

const nonCompliantReply = "```json\n{\"compliance_status\": \"NON-COMPLIANT\", \"flags\": [\"missing signature\"], \"Brief_report\": \"Unsigned.\", \"full_report\": \"The approval page\nis blank.\", \"needs_human_review\": false}\n```"

type recordingCollector struct {
	mu       sync.Mutex
	counters map[string]float64
}

func (c *recordingCollector) RecordLatency(string, time.Duration, map[string]string) {}
func (c *recordingCollector) RecordGauge(string, float64, map[string]string)          {}
func (c *recordingCollector) RecordHistogram(string, float64, map[string]string)      {}
func (c *recordingCollector) RecordCounter(metric string, value float64, _ map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counters == nil {
		c.counters = make(map[string]float64)
	}
	c.counters[metric] += value
}

func evidence(name string) ports.Attachment {
	return ports.Attachment{Name: name, MIMEType: "image/png", Data: []byte{0x89, 0x50}}
}

func newTestEvaluator(t *testing.T, client ports.LLMClient, metrics ports.MetricsCollector) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(client, DefaultEvaluatorConfig(), metrics, nil)
	require.NoError(t, err)
	return e
}

func TestEvaluator_Evaluate(t *testing.T) {
	client := testutils.NewMockLLMClient("gpt-4o", compliantReply).
		AddResponse(testutils.MockResponse{Pattern: "unsigned", Response: nonCompliantReply}).
		AddResponse(testutils.MockResponse{Pattern: "garbage", Response: "the image shows a cat"})
	e := newTestEvaluator(t, client, nil)

	tests := []struct {
		name       string
		image      string
		want       domain.Compliance
		wantFlags  []string
		wantReview bool
	}{
		{name: "compliant", image: "policy.png", want: domain.Compliant, wantFlags: []string{}},
		{name: "fenced reply with raw newline", image: "unsigned.png", want: domain.NonCompliant, wantFlags: []string{"missing signature"}},
		{name: "unparseable reply", image: "garbage.png", want: domain.Indecisive, wantFlags: []string{parser.FlagUnparseable}, wantReview: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := e.Evaluate(context.Background(), evidence(tt.image), "prompt", 0)
			assert.Equal(t, tt.image, v.ImageID)
			assert.Equal(t, tt.want, v.Compliance)
			assert.Equal(t, tt.wantFlags, v.Flags)
			assert.Equal(t, tt.wantReview, v.NeedsHumanReview)
		})
	}

	call, ok := client.LastCall()
	require.True(t, ok)
	require.Len(t, call.Attachments, 1, "exactly one image per call")
	assert.Equal(t, DefaultEvaluationMaxTokens, call.Options["max_tokens"])
}

func TestEvaluator_EvaluateMaxTokensOverride(t *testing.T) {
	client := testutils.NewMockLLMClient("m", compliantReply)
	e := newTestEvaluator(t, client, nil)

	e.Evaluate(context.Background(), evidence("a.png"), "prompt", 77)
	call, _ := client.LastCall()
	assert.Equal(t, 77, call.Options["max_tokens"])
}

func TestEvaluator_EvaluateGatewayFailure(t *testing.T) {
	remote := ports.NewRemoteError("remote", 500, "CUDA out of memory", nil)
	client := testutils.NewMockLLMClient("m", compliantReply).
		AddResponse(testutils.MockResponse{Pattern: "broken", Err: remote})
	metrics := &recordingCollector{}
	e := newTestEvaluator(t, client, metrics)

	v := e.Evaluate(context.Background(), evidence("broken.png"), "prompt", 0)
	assert.Equal(t, domain.Indecisive, v.Compliance)
	assert.True(t, v.NeedsHumanReview)
	assert.Equal(t, []string{FlagEvaluationFailed}, v.Flags)
	assert.Contains(t, v.FullReport, "CUDA out of memory")
	assert.Equal(t, float64(1), metrics.counters["audit_image_failures_total"])
}

func TestEvaluator_EvaluateAll(t *testing.T) {
	// The second image times out; its siblings must still be judged.
	client := testutils.NewMockLLMClient("m", compliantReply).
		AddResponse(testutils.MockResponse{Pattern: "img-2", Delay: time.Second}).
		AddResponse(testutils.MockResponse{Pattern: "img-3", Response: nonCompliantReply})

	cfg := DefaultEvaluatorConfig()
	cfg.MaxConcurrency = 3
	e, err := NewEvaluator(client, cfg, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	images := []ports.Attachment{evidence("img-1.png"), evidence("img-2.png"), evidence("img-3.png")}
	results := e.EvaluateAll(ctx, images, "prompt")
	require.Len(t, results, 3)

	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, images[i].Name, r.Verdict.ImageID)
	}

	assert.False(t, results[0].Failed())
	assert.Equal(t, domain.Compliant, results[0].Verdict.Compliance)

	require.True(t, results[1].Failed())
	var transport *ports.TransportError
	require.ErrorAs(t, results[1].Err, &transport)
	assert.True(t, transport.Timeout())
	assert.Equal(t, domain.Indecisive, results[1].Verdict.Compliance)
	assert.True(t, results[1].Verdict.NeedsHumanReview)

	assert.False(t, results[2].Failed())
	assert.Equal(t, domain.NonCompliant, results[2].Verdict.Compliance)

	agg, err := NewPrecedenceAggregator().Aggregate(Verdicts(results))
	require.NoError(t, err)
	assert.Equal(t, domain.NonCompliant, agg.Compliance)
	assert.True(t, agg.NeedsHumanReview)
}

func TestEvaluator_EvaluateAllEmpty(t *testing.T) {
	e := newTestEvaluator(t, testutils.NewMockLLMClient("m", compliantReply), nil)
	assert.Empty(t, e.EvaluateAll(context.Background(), nil, "prompt"))
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ports.NewTransportError("x", context.DeadlineExceeded), "timeout"},
		{ports.NewTransportError("x", assert.AnError), "transport"},
		{ports.NewRemoteError("x", 429, "", nil), "remote_rate_limit"},
		{fmt.Errorf("remote: %w", ports.ErrInvalidResponse), "invalid_response"},
		{context.Canceled, "canceled"},
		{assert.AnError, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, failureReason(tt.err), tt.err.Error())
	}
}
