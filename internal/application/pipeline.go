package application

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-warden/infrastructure/audit"
	"github.com/ahrav/go-warden/infrastructure/storage"
	"github.com/ahrav/go-warden/internal/domain"
	"github.com/ahrav/go-warden/internal/ports"
)

// EvaluationReport is the result of one evaluation run for a control.
type EvaluationReport struct {
	RunID     string                   `json:"run_id"`
	ControlID string                   `json:"control_id"`
	Verdict   domain.AggregatedVerdict `json:"verdict"`
	// Failed lists the images whose evaluation call failed; their degraded
	// verdicts are still part of Verdict.
	Failed []string `json:"failed_images,omitempty"`
	// Downloads lists evidence URLs that were never evaluated.
	Downloads []DownloadFailure `json:"download_failures,omitempty"`
	// ReportKey is the blob key the report was persisted under, empty when
	// persisting failed.
	ReportKey string `json:"report_key,omitempty"`
}

// Pipeline evaluates evidence for a stored control: gather images, judge
// each one, aggregate and persist the report.
type Pipeline struct {
	instructions *InstructionService
	downloader   *Downloader
	evaluator    *audit.Evaluator
	aggregator   domain.VerdictAggregator
	blobs        ports.BlobStore
	metrics      ports.MetricsCollector
	logger       *slog.Logger
	newRunID     func() string
}

// NewPipeline assembles a pipeline. metrics and logger may be nil.
func NewPipeline(
	instructions *InstructionService,
	downloader *Downloader,
	evaluator *audit.Evaluator,
	aggregator domain.VerdictAggregator,
	blobs ports.BlobStore,
	metrics ports.MetricsCollector,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		instructions: instructions,
		downloader:   downloader,
		evaluator:    evaluator,
		aggregator:   aggregator,
		blobs:        blobs,
		metrics:      metrics,
		logger:       logger.With("component", "pipeline"),
		newRunID:     uuid.NewString,
	}
}

// EvaluateControl judges uploads plus the images behind urls against the
// stored instruction for controlID. It fails only when the control is
// unknown or no image could be gathered; individual image failures are
// reported inside the result.
func (p *Pipeline) EvaluateControl(
	ctx context.Context,
	controlID string,
	uploads []ports.Attachment,
	urls []string,
) (EvaluationReport, error) {
	start := time.Now()

	rec, err := p.instructions.Get(ctx, controlID)
	if err != nil {
		return EvaluationReport{}, err
	}

	images := append([]ports.Attachment{}, uploads...)
	var downloadFailures []DownloadFailure
	if len(urls) > 0 {
		fetched, failures := p.downloader.Fetch(ctx, urls)
		images = append(images, fetched...)
		downloadFailures = failures
	}
	if len(images) == 0 {
		return EvaluationReport{Downloads: downloadFailures},
			fmt.Errorf("control %q: %w", rec.ControlID, domain.ErrEmptyEvidence)
	}

	runID := p.newRunID()
	logger := p.logger.With("control_id", rec.ControlID, "run_id", runID)
	logger.InfoContext(ctx, "evaluating evidence", "images", len(images), "download_failures", len(downloadFailures))

	p.storeEvidence(ctx, logger, rec.ControlID, runID, images)

	results := p.evaluator.EvaluateAll(ctx, images, rec.EvaluationPrompt)
	var failed []string
	for _, r := range results {
		if r.Failed() {
			failed = append(failed, r.Verdict.ImageID)
		}
	}

	verdict, err := p.aggregator.Aggregate(audit.Verdicts(results))
	if err != nil {
		return EvaluationReport{}, fmt.Errorf("control %q: %w", rec.ControlID, err)
	}
	verdict.ControlID = rec.ControlID

	report := EvaluationReport{
		RunID:     runID,
		ControlID: rec.ControlID,
		Verdict:   verdict,
		Failed:    failed,
		Downloads: downloadFailures,
	}
	report.ReportKey = p.storeReport(ctx, logger, report)

	if p.metrics != nil {
		p.metrics.RecordCounter("audit_verdicts_total", 1, map[string]string{
			"compliance":         string(verdict.Compliance),
			"needs_human_review": strconv.FormatBool(verdict.NeedsHumanReview),
		})
		p.metrics.RecordLatency("evaluate_control", time.Since(start), nil)
	}

	logger.InfoContext(ctx, "control evaluated",
		"compliance", verdict.Compliance,
		"needs_human_review", verdict.NeedsHumanReview,
		"failed_images", len(failed),
		"duration", time.Since(start))
	return report, nil
}

// LoadReport reads a persisted evaluation report.
func (p *Pipeline) LoadReport(ctx context.Context, controlID, runID string) (EvaluationReport, error) {
	key := ReportKey(controlID, runID)
	rc, err := p.blobs.Get(ctx, key)
	if err != nil {
		return EvaluationReport{}, fmt.Errorf("report %s: %w", key, err)
	}
	defer rc.Close()

	var report EvaluationReport
	if err := json.NewDecoder(rc).Decode(&report); err != nil {
		return EvaluationReport{}, fmt.Errorf("decode report %s: %w", key, err)
	}
	return report, nil
}

// ReportKey is the blob key of a run's report.
func ReportKey(controlID, runID string) string {
	return path.Join("reports", storage.SanitizeName(controlID), storage.SanitizeName(runID)+".json")
}

func evidenceKey(controlID, runID string, index int, name string) string {
	return path.Join("evidence", storage.SanitizeName(controlID), runID,
		fmt.Sprintf("%03d-%s", index, storage.SanitizeName(name)))
}

// storeEvidence keeps a copy of every evaluated image. Failures are logged
// and never block the evaluation.
func (p *Pipeline) storeEvidence(ctx context.Context, logger *slog.Logger, controlID, runID string, images []ports.Attachment) {
	for i, img := range images {
		key := evidenceKey(controlID, runID, i, img.Name)
		if err := p.blobs.Put(ctx, key, img.MIMEType, bytes.NewReader(img.Data)); err != nil {
			logger.WarnContext(ctx, "failed to store evidence", "image_id", img.Name, "error", err)
		}
	}
}

func (p *Pipeline) storeReport(ctx context.Context, logger *slog.Logger, report EvaluationReport) string {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logger.ErrorContext(ctx, "failed to encode report", "error", err)
		return ""
	}
	key := ReportKey(report.ControlID, report.RunID)
	if err := p.blobs.Put(ctx, key, "application/json", bytes.NewReader(body)); err != nil {
		logger.ErrorContext(ctx, "failed to store report", "key", key, "error", err)
		return ""
	}
	return key
}
