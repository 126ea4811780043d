package application

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-warden/infrastructure/audit"
	"github.com/ahrav/go-warden/infrastructure/chat"
	"github.com/ahrav/go-warden/infrastructure/storage"
	"github.com/ahrav/go-warden/internal/domain"
	"github.com/ahrav/go-warden/internal/ports"
	"github.com/ahrav/go-warden/internal/testutils"
)

const encryptionInstructionReply = `{
  "description_control": "The provider must encrypt customer data at rest.",
  "requirements_control": {
    "Audit_Instructions": [
      "Step 1: Confirm an encryption policy is present.",
      "Step 2: Confirm the policy covers data at rest."
    ]
  }
}`

const compliantReply = `{"compliance_status": "COMPLIANT", "flags": [], "Brief_report": "Policy present.", "full_report": "The policy is signed.", "needs_human_review": false}`

const nonCompliantReply = `{"compliance_status": "NON-COMPLIANT", "flags": ["unsigned"], "Brief_report": "Unsigned.", "full_report": "The approval page is blank.", "needs_human_review": false}`

var encryptionInstruction = domain.ControlInstruction{
	DescriptionControl: "The provider must encrypt customer data at rest.",
	AuditInstructions: []string{
		"Step 1: Confirm an encryption policy is present.",
		"Step 2: Confirm the policy covers data at rest.",
	},
}

// harness wires the application services over temporary stores and one
// scripted model client.
type harness struct {
	client       *testutils.MockLLMClient
	store        *storage.InstructionStore
	blobs        *storage.LocalStore
	instructions *InstructionService
	pipeline     *Pipeline
	chat         *ChatService
	metrics      *countingCollector
}

func newHarness(t *testing.T, client *testutils.MockLLMClient) *harness {
	t.Helper()

	store, err := storage.NewInstructionStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	blobs, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	metrics := &countingCollector{}

	compiler, err := audit.NewCompiler(client, audit.DefaultCompilerConfig(), nil)
	require.NoError(t, err)
	evaluator, err := audit.NewEvaluator(client, audit.DefaultEvaluatorConfig(), metrics, nil)
	require.NoError(t, err)
	assistant, err := chat.NewAssistant(client, chat.DefaultConfig(), metrics, nil)
	require.NoError(t, err)

	instructions := NewInstructionService(compiler, store, nil)
	downloader := NewDownloader(DefaultConfig().Download, nil, nil)
	pipeline := NewPipeline(instructions, downloader, evaluator, audit.NewPrecedenceAggregator(), blobs, metrics, nil)
	sessions := chat.NewStore(chat.DefaultSessionTTL, nil)

	return &harness{
		client:       client,
		store:        store,
		blobs:        blobs,
		instructions: instructions,
		pipeline:     pipeline,
		chat:         NewChatService(assistant, sessions, instructions, pipeline, nil),
		metrics:      metrics,
	}
}

func image(name string) ports.Attachment {
	return ports.Attachment{Name: name, MIMEType: "image/png", Data: []byte("\x89PNG\r\n\x1a\n")}
}

type countingCollector struct {
	mu       sync.Mutex
	counters map[string]float64
	labels   map[string][]map[string]string
}

func (c *countingCollector) RecordLatency(string, time.Duration, map[string]string) {}
func (c *countingCollector) RecordGauge(string, float64, map[string]string)          {}
func (c *countingCollector) RecordHistogram(string, float64, map[string]string)      {}
func (c *countingCollector) RecordCounter(metric string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counters == nil {
		c.counters = make(map[string]float64)
		c.labels = make(map[string][]map[string]string)
	}
	c.counters[metric] += value
	c.labels[metric] = append(c.labels[metric], labels)
}

func (c *countingCollector) count(metric string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[metric]
}

func (c *countingCollector) lastLabels(metric string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.labels[metric]
	if len(l) == 0 {
		return nil
	}
	return l[len(l)-1]
}
