// Package collector observes training Jobs running in Kubernetes, turns
// their step logs into efficiency metrics and persists the results.
package collector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/accelbench/trainmetrics/internal/database"
	"github.com/accelbench/trainmetrics/internal/metrics"
	"github.com/accelbench/trainmetrics/internal/reference"
	"github.com/accelbench/trainmetrics/internal/telemetry"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
)

const (
	defaultJobTimeout = 24 * time.Hour
	defaultJobPoll    = 30 * time.Second
)

// Config tunes collection.
type Config struct {
	// PricingRegion selects the pricing rows used for cost per sample.
	PricingRegion string
	// DCGMExporterURL enables tensor-core activity scraping when set.
	DCGMExporterURL string
	JobTimeout      time.Duration
	JobPoll         time.Duration
}

// RunConfig holds everything needed to collect one training run.
type RunConfig struct {
	Run          *database.TrainingRun
	InstanceType *database.InstanceType // optional, enables cost
}

// Collector manages the collection lifecycle of training runs.
type Collector struct {
	client   kubernetes.Interface
	repo     database.Repo
	ref      metrics.Reference
	recorder *telemetry.Recorder
	cfg      Config

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // runID → cancel
}

// New creates a new Collector. recorder may be nil.
func New(client kubernetes.Interface, repo database.Repo, ref metrics.Reference, recorder *telemetry.Recorder, cfg Config) *Collector {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.JobPoll <= 0 {
		cfg.JobPoll = defaultJobPoll
	}
	return &Collector{
		client:   client,
		repo:     repo,
		ref:      ref,
		recorder: recorder,
		cfg:      cfg,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// CancelRun cancels collection of a run by its ID. Returns true if
// a cancel function was found and invoked.
func (c *Collector) CancelRun(runID string) bool {
	c.mu.Lock()
	cancel, ok := c.cancels[runID]
	c.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Execute runs the full collection lifecycle: wait for the Job, read its
// logs, compute efficiency and persist. Any failure marks the run failed.
func (c *Collector) Execute(ctx context.Context, cfg RunConfig) error {
	run := cfg.Run
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Register the cancel function so CancelRun can stop this goroutine.
	c.mu.Lock()
	c.cancels[run.ID] = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.cancels, run.ID)
		c.mu.Unlock()
	}()

	started := time.Now()
	logger := klog.LoggerWithValues(klog.FromContext(ctx), "run", shortID(run.ID), "job", klog.KRef(run.Namespace, run.JobName))

	if err := c.repo.UpdateRunStatus(ctx, run.ID, database.StatusRunning); err != nil {
		return fmt.Errorf("update status to running: %w", err)
	}

	var scraper *DCGMScraper
	if c.cfg.DCGMExporterURL != "" {
		scraper = NewDCGMScraper(c.cfg.DCGMExporterURL, run.Namespace, run.JobName)
		scraper.Start(ctx)
		logger.Info("started DCGM scraper", "url", c.cfg.DCGMExporterURL)
	}

	logger.Info("waiting for training job completion")
	logData, err := c.waitAndCollect(ctx, run.Namespace, run.JobName, run.Container)

	var dcgm *DCGMMetrics
	if scraper != nil {
		dcgm = scraper.Stop()
		if dcgm != nil {
			logger.Info("DCGM metrics collected", "samples", dcgm.Samples)
		} else {
			logger.Info("DCGM scraper collected no samples")
		}
	}

	if err != nil {
		c.markFailed(ctx, run.ID, started)
		return fmt.Errorf("collect logs: %w", err)
	}

	logger.Info("collected training logs", "bytes", len(logData))
	em, err := c.process(ctx, cfg, logData, dcgm)
	if err != nil {
		logger.Error(err, "processing failed", "logSnippet", snippet(logData))
		c.markFailed(ctx, run.ID, started)
		return err
	}

	if c.recorder != nil {
		c.recorder.ObserveEfficiency(run.ModelName, run.AcceleratorName, run.Precision, em.MFU, em.TFLOPSPerAccelerator)
		c.recorder.RunFinished(database.StatusCompleted, time.Since(started).Seconds())
	}
	logger.Info("collection completed", "mfu", em.MFU, "tflopsPerAccelerator", em.TFLOPSPerAccelerator)
	return nil
}

// process parses step logs, computes efficiency, attaches accelerator
// activity and cost, and persists the result.
func (c *Collector) process(ctx context.Context, cfg RunConfig, logData []byte, dcgm *DCGMMetrics) (*database.EfficiencyMetrics, error) {
	run := cfg.Run

	steps, err := metrics.ParseStepLog(logData)
	if err != nil {
		return nil, err
	}

	var override float64
	if run.ModelFLOPsPerSampleOverride != nil {
		override = *run.ModelFLOPsPerSampleOverride
	}
	em, err := metrics.ComputeEfficiency(c.ref, metrics.EfficiencyInput{
		ModelName:                   run.ModelName,
		AcceleratorName:             run.AcceleratorName,
		Precision:                   reference.Precision(run.Precision),
		NumAccelerators:             run.NumAccelerators,
		GlobalBatchSize:             run.GlobalBatchSize,
		WarmupSteps:                 run.WarmupSteps,
		Steps:                       steps,
		ModelFLOPsPerSampleOverride: override,
	})
	if err != nil {
		return nil, fmt.Errorf("compute efficiency: %w", err)
	}

	if dcgm != nil {
		em.TensorActivePct = dcgm.TensorActiveAvgPct
		em.AcceleratorUtilizationPct = dcgm.UtilizationAvgPct
	}

	if cfg.InstanceType != nil && run.InstanceCount > 0 && c.cfg.PricingRegion != "" {
		p, err := c.repo.GetLatestPricing(ctx, cfg.InstanceType.ID, c.cfg.PricingRegion)
		if err != nil {
			// Cost is optional; the run still completes without it.
			klog.ErrorS(err, "pricing lookup failed", "run", shortID(run.ID), "instanceType", cfg.InstanceType.Name)
		} else if p != nil {
			em.CostPerMillionSamplesUSD = metrics.CostPerMillionSamples(p.OnDemandHourlyUSD, run.InstanceCount, em.SamplesPerSecond)
		}
	}

	if err := c.repo.PersistEfficiency(ctx, run.ID, em); err != nil {
		return nil, fmt.Errorf("persist efficiency: %w", err)
	}
	return em, nil
}

func (c *Collector) waitAndCollect(ctx context.Context, ns, jobName, container string) ([]byte, error) {
	deadline := time.Now().Add(c.cfg.JobTimeout)
	for time.Now().Before(deadline) {
		job, err := c.client.BatchV1().Jobs(ns).Get(ctx, jobName, metav1.GetOptions{})
		if err != nil {
			return nil, err
		}
		for _, cond := range job.Status.Conditions {
			if cond.Type == batchv1.JobComplete && cond.Status == corev1.ConditionTrue {
				return c.readJobLogs(ctx, ns, jobName, container)
			}
			if cond.Type == batchv1.JobFailed && cond.Status == corev1.ConditionTrue {
				return nil, fmt.Errorf("training job failed: %s", cond.Message)
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.JobPoll):
		}
	}
	return nil, fmt.Errorf("training job %s timed out after %v", jobName, c.cfg.JobTimeout)
}

func (c *Collector) readJobLogs(ctx context.Context, ns, jobName, container string) ([]byte, error) {
	pods, err := c.client.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("job-name=%s", jobName),
	})
	if err != nil {
		return nil, fmt.Errorf("list job pods: %w", err)
	}
	if len(pods.Items) == 0 {
		return nil, fmt.Errorf("no pods found for job %s", jobName)
	}

	req := c.client.CoreV1().Pods(ns).GetLogs(pods.Items[0].Name, &corev1.PodLogOptions{
		Container: container,
	})
	stream, err := req.Stream(ctx)
	if err != nil {
		return nil, fmt.Errorf("stream pod logs: %w", err)
	}
	defer stream.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, stream); err != nil {
		return nil, fmt.Errorf("read pod logs: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Collector) markFailed(ctx context.Context, runID string, started time.Time) {
	// The run context may already be cancelled by CancelRun.
	ctx = context.WithoutCancel(ctx)
	if err := c.repo.UpdateRunStatus(ctx, runID, database.StatusFailed); err != nil {
		klog.ErrorS(err, "failed to mark run as failed", "run", runID)
	}
	if c.recorder != nil {
		c.recorder.RunFinished(database.StatusFailed, time.Since(started).Seconds())
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// snippet keeps the head and tail of large logs for debugging.
func snippet(data []byte) string {
	if len(data) <= 500 {
		return string(data)
	}
	return string(data[:250]) + "\n...[truncated]...\n" + string(data[len(data)-250:])
}
