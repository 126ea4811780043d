package application

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-warden/internal/domain"
	"github.com/ahrav/go-warden/internal/ports"
	"github.com/ahrav/go-warden/internal/testutils"
)

func TestPipeline_EvaluateControl(t *testing.T) {
	client := testutils.NewMockLLMClient("gpt-4o", compliantReply).
		AddResponse(testutils.MockResponse{Pattern: "unsigned", Response: nonCompliantReply}).
		AddResponse(testutils.MockResponse{Pattern: "broken", Err: ports.NewRemoteError("remote", 500, "boom", nil)})
	h := newHarness(t, client)
	h.pipeline.newRunID = func() string { return "run-1" }
	ctx := context.Background()

	_, err := h.instructions.Save(ctx, "C-1", "Encryption", encryptionInstruction)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/unsigned.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	uploads := []ports.Attachment{image("policy.png"), image("broken.png")}
	urls := []string{srv.URL + "/unsigned.png", srv.URL + "/gone.png"}

	report, err := h.pipeline.EvaluateControl(ctx, "C-1", uploads, urls)
	require.NoError(t, err)

	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, "C-1", report.Verdict.ControlID)
	assert.Equal(t, domain.NonCompliant, report.Verdict.Compliance)
	assert.True(t, report.Verdict.NeedsHumanReview, "failed image forces review")
	assert.Equal(t, 3, report.Verdict.ImageCount)
	assert.Equal(t, []string{"broken.png"}, report.Failed)
	require.Len(t, report.Downloads, 1)
	assert.Equal(t, srv.URL+"/gone.png", report.Downloads[0].URL)

	// Uploads come first, downloads after, in request order.
	ids := make([]string, 0, len(report.Verdict.Images))
	for _, v := range report.Verdict.Images {
		ids = append(ids, v.ImageID)
	}
	assert.Equal(t, []string{"policy.png", "broken.png", srv.URL + "/unsigned.png"}, ids)

	for _, call := range client.Calls() {
		require.Len(t, call.Attachments, 1)
		assert.Contains(t, call.Prompt, encryptionInstruction.DescriptionControl)
	}

	assert.Equal(t, 1.0, h.metrics.count("audit_verdicts_total"))
	assert.Equal(t, map[string]string{"compliance": "NON-COMPLIANT", "needs_human_review": "true"},
		h.metrics.lastLabels("audit_verdicts_total"))

	assert.Equal(t, "reports/C-1/run-1.json", report.ReportKey)
	stored, err := h.pipeline.LoadReport(ctx, "C-1", "run-1")
	require.NoError(t, err)
	assert.Equal(t, report.Verdict.Compliance, stored.Verdict.Compliance)
	assert.Equal(t, report.Failed, stored.Failed)

	rc, err := h.blobs.Get(ctx, "evidence/C-1/run-1/000-policy.png")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, image("policy.png").Data, data)
}

func TestPipeline_EvaluateControlErrors(t *testing.T) {
	h := newHarness(t, testutils.NewMockLLMClient("gpt-4o", compliantReply))
	ctx := context.Background()

	_, err := h.pipeline.EvaluateControl(ctx, "unknown", []ports.Attachment{image("a.png")}, nil)
	assert.ErrorIs(t, err, ports.ErrNotFound)

	_, err = h.instructions.Save(ctx, "C-1", "", encryptionInstruction)
	require.NoError(t, err)

	report, err := h.pipeline.EvaluateControl(ctx, "C-1", nil, []string{"ftp://nowhere/x.png"})
	assert.ErrorIs(t, err, domain.ErrEmptyEvidence)
	assert.Len(t, report.Downloads, 1)
	assert.Zero(t, h.client.CallCount())
}

func TestPipeline_LoadReportMissing(t *testing.T) {
	h := newHarness(t, testutils.NewMockLLMClient("m", ""))
	_, err := h.pipeline.LoadReport(context.Background(), "C-1", "nope")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestReportKey(t *testing.T) {
	assert.Equal(t, "reports/Article_5/r.json", ReportKey("Article 5", "r"))
	assert.Equal(t, "reports/x/r.json", ReportKey("a/../x", "r"))
}
