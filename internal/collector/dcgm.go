package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"k8s.io/klog/v2"
)

const (
	scrapeInterval = 15 * time.Second
	scrapeTimeout  = 5 * time.Second

	metricTensorActive = "DCGM_FI_PROF_PIPE_TENSOR_ACTIVE"
	metricGPUUtil      = "DCGM_FI_DEV_GPU_UTIL"
)

// DCGMMetrics holds accelerator activity averaged over a training run.
type DCGMMetrics struct {
	// Average fraction of cycles the tensor pipes were active, as a percentage (0-100).
	TensorActiveAvgPct *float64
	// Average GPU utilization percentage (0-100).
	UtilizationAvgPct *float64
	Samples           int
}

// DCGMScraper periodically polls a DCGM exporter endpoint and collects
// tensor-core activity and GPU utilization for the pods of one Job.
type DCGMScraper struct {
	metricsURL string
	namespace  string
	podPrefix  string
	interval   time.Duration
	client     *http.Client

	mu            sync.Mutex
	tensorSamples []float64
	utilSamples   []float64
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewDCGMScraper creates a scraper for the given exporter URL. Series
// carrying pod/namespace labels are limited to pods of the named Job;
// series without those labels are all counted.
func NewDCGMScraper(metricsURL, namespace, jobName string) *DCGMScraper {
	return &DCGMScraper{
		metricsURL: metricsURL,
		namespace:  namespace,
		podPrefix:  jobName + "-",
		interval:   scrapeInterval,
		client:     &http.Client{Timeout: scrapeTimeout},
		done:       make(chan struct{}),
	}
}

// Start begins scraping in a background goroutine. It is safe to call
// Start only once.
func (s *DCGMScraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the scraper and returns the averaged metrics, or nil if no
// samples were collected.
func (s *DCGMScraper) Stop() *DCGMMetrics {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.tensorSamples) == 0 && len(s.utilSamples) == 0 {
		return nil
	}
	out := &DCGMMetrics{Samples: max(len(s.tensorSamples), len(s.utilSamples))}
	if len(s.tensorSamples) > 0 {
		v := average(s.tensorSamples) * 100
		out.TensorActiveAvgPct = &v
	}
	if len(s.utilSamples) > 0 {
		v := average(s.utilSamples)
		out.UtilizationAvgPct = &v
	}
	return out
}

func (s *DCGMScraper) sampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tensorSamples) + len(s.utilSamples)
}

func (s *DCGMScraper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Scrape immediately on start.
	s.scrape(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scrape(ctx)
		}
	}
}

func (s *DCGMScraper) scrape(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.metricsURL, nil)
	if err != nil {
		return
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			klog.V(2).InfoS("DCGM scrape failed", "url", s.metricsURL, "err", err)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return
	}

	tensor, util, err := s.parse(resp.Body)
	if err != nil {
		klog.V(2).InfoS("DCGM exposition parse failed", "url", s.metricsURL, "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tensor >= 0 {
		s.tensorSamples = append(s.tensorSamples, tensor)
	}
	if util >= 0 {
		s.utilSamples = append(s.utilSamples, util)
	}
}

// parse reads Prometheus text exposition and returns the mean tensor-active
// ratio and GPU utilization across the matching GPUs. Returns -1 for
// values not found.
func (s *DCGMScraper) parse(r io.Reader) (tensorActive, utilization float64, err error) {
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return -1, -1, fmt.Errorf("parse exposition: %w", err)
	}
	return s.familyMean(families[metricTensorActive]), s.familyMean(families[metricGPUUtil]), nil
}

func (s *DCGMScraper) familyMean(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return -1
	}
	var vals []float64
	for _, m := range mf.GetMetric() {
		if !s.matches(m) {
			continue
		}
		switch {
		case m.GetGauge() != nil:
			vals = append(vals, m.GetGauge().GetValue())
		case m.GetUntyped() != nil:
			vals = append(vals, m.GetUntyped().GetValue())
		case m.GetCounter() != nil:
			vals = append(vals, m.GetCounter().GetValue())
		}
	}
	if len(vals) == 0 {
		return -1
	}
	return average(vals)
}

func (s *DCGMScraper) matches(m *dto.Metric) bool {
	for _, lp := range m.GetLabel() {
		switch lp.GetName() {
		case "namespace", "exported_namespace":
			if lp.GetValue() != "" && lp.GetValue() != s.namespace {
				return false
			}
		case "pod", "exported_pod":
			if lp.GetValue() != "" && !strings.HasPrefix(lp.GetValue(), s.podPrefix) {
				return false
			}
		}
	}
	return true
}

func average(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
