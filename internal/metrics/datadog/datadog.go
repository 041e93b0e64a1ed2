// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Events are aggregated in memory per (metric, tags) and submitted on a
// ticker and once more on Close. Counters are sent as COUNT series;
// histograms are summarized into gauges (see quantiles). A process killed
// with SIGKILL loses whatever was buffered since the last flush.
package datadog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"csvload/internal/metrics"
)

const (
	defaultJob = "csvload"
	tagSep     = "\x00"
)

// quantiles are the gauges emitted per histogram, suffixed to its name.
var quantiles = []struct {
	suffix string
	q      float64
}{
	{".p50", 0.50},
	{".p90", 0.90},
	{".p99", 0.99},
	{".max", 1},
}

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "csvload".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "team:data"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to one minute.
	FlushEvery time.Duration

	// Test seams; nil in production.
	now       func() time.Time
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend calls.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// seriesKey identifies one aggregated series. tags is the sorted label set
// joined by tagSep.
type seriesKey struct {
	name string
	tags string
}

type buffer struct {
	counts  map[seriesKey]float64
	samples map[seriesKey][]float64
}

func newBuffer() buffer {
	return buffer{counts: map[seriesKey]float64{}, samples: map[seriesKey][]float64{}}
}

// Backend implements metrics.Backend and metrics.Flusher for Datadog.
type Backend struct {
	api      metricsSubmitter
	ctx      context.Context
	baseTags []string
	now      func() time.Time

	stop      context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	mu  sync.Mutex
	buf buffer
}

// NewBackend starts a backend that flushes every opts.FlushEvery.
//
// The official client reads DD_API_KEY (and optionally DD_SITE) from the
// environment; a missing key fails here rather than on the first Flush.
// The env tag comes from ENV, then DD_ENV, else "env:unknown".
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := cmp.Or(opts.JobName, defaultJob)
	every := opts.FlushEvery
	if every <= 0 {
		every = time.Minute
	}

	api := opts.submitter
	if api == nil {
		if strings.TrimSpace(os.Getenv("DD_API_KEY")) == "" {
			return nil, wrapInitErr(errors.New("DD_API_KEY is not set"))
		}
		api = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	now := opts.now
	if now == nil {
		now = time.Now
	}

	loopCtx, stop := context.WithCancel(parent)
	b := &Backend{
		api:      api,
		ctx:      dd.NewDefaultContext(context.WithoutCancel(parent)),
		baseTags: append([]string{envTag(), "job:" + job}, opts.Tags...),
		now:      now,
		stop:     stop,
		done:     make(chan struct{}),
		buf:      newBuffer(),
	}
	go b.loop(loopCtx, every)
	return b, nil
}

func envTag() string {
	for _, k := range []string{"ENV", "DD_ENV"} {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return "env:" + v
		}
	}
	return "env:unknown"
}

func (b *Backend) loop(ctx context.Context, every time.Duration) {
	defer close(b.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the flush loop and flushes what is left. Later calls return
// the first result.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		b.stop()
		<-b.done
		b.closeErr = b.Flush()
	})
	return b.closeErr
}

// IncCounter implements metrics.Backend. Non-positive deltas are dropped.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 || name == "" {
		return
	}
	k := seriesKey{name: name, tags: joinLabels(labels)}
	b.mu.Lock()
	b.buf.counts[k] += delta
	b.mu.Unlock()
}

// ObserveHistogram implements metrics.Backend. Negative and NaN values are
// dropped.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name == "" || value < 0 || math.IsNaN(value) {
		return
	}
	k := seriesKey{name: name, tags: joinLabels(labels)}
	b.mu.Lock()
	b.buf.samples[k] = append(b.buf.samples[k], value)
	b.mu.Unlock()
}

// Flush submits everything buffered so far. Nothing is sent when the buffer
// is empty. The buffer is swapped out before submitting, so a failed
// submission drops that window.
func (b *Backend) Flush() error {
	b.mu.Lock()
	buf := b.buf
	b.buf = newBuffer()
	b.mu.Unlock()

	if len(buf.counts) == 0 && len(buf.samples) == 0 {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.series(buf, b.now().Unix())}
	if _, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters()); err != nil {
		return fmt.Errorf("datadog submit: %w", err)
	}
	return nil
}

// series renders buf in a stable order: by metric name, then tags.
func (b *Backend) series(buf buffer, ts int64) []datadogV2.MetricSeries {
	out := make([]datadogV2.MetricSeries, 0, len(buf.counts)+len(buf.samples)*(len(quantiles)+1))
	for k, v := range buf.counts {
		out = append(out, point(metricName(k.name), datadogV2.METRICINTAKETYPE_COUNT, v, b.tags(k), ts))
	}
	for k, s := range buf.samples {
		if len(s) == 0 {
			continue
		}
		slices.Sort(s)
		name, tags := metricName(k.name), b.tags(k)
		for _, q := range quantiles {
			out = append(out, point(name+q.suffix, datadogV2.METRICINTAKETYPE_GAUGE, nearestRank(s, q.q), tags, ts))
		}
		out = append(out, point(name+".count", datadogV2.METRICINTAKETYPE_COUNT, float64(len(s)), tags, ts))
	}
	slices.SortFunc(out, func(x, y datadogV2.MetricSeries) int {
		return cmp.Or(
			cmp.Compare(x.Metric, y.Metric),
			cmp.Compare(strings.Join(x.Tags, ","), strings.Join(y.Tags, ",")),
		)
	})
	return out
}

func (b *Backend) tags(k seriesKey) []string {
	out := slices.Clone(b.baseTags)
	if k.tags != "" {
		out = append(out, strings.Split(k.tags, tagSep)...)
	}
	return out
}

func point(metric string, typ datadogV2.MetricIntakeType, v float64, tags []string, ts int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{{Timestamp: dd.PtrInt64(ts), Value: dd.PtrFloat64(v)}},
		Tags:   tags,
	}
}

// metricName maps the package metric names to Datadog's dotted style: the
// first two underscores become dots, so csvload_step_duration_seconds is
// sent as csvload.step.duration_seconds.
func metricName(name string) string {
	return strings.Replace(name, "_", ".", 2)
}

// joinLabels renders labels as sorted "k:v" pairs. Empty values are skipped.
func joinLabels(labels metrics.Labels) string {
	if len(labels) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		if v == "" {
			continue
		}
		pairs = append(pairs, k+":"+v)
	}
	slices.Sort(pairs)
	return strings.Join(pairs, tagSep)
}

// nearestRank returns the q-quantile of sorted s (q in [0,1]).
func nearestRank(s []float64, q float64) float64 {
	if len(s) == 0 {
		return 0
	}
	rank := int(math.Ceil(q * float64(len(s))))
	return s[min(max(rank, 1), len(s))-1]
}

var (
	_ metrics.Backend = (*Backend)(nil)
	_ metrics.Flusher = (*Backend)(nil)
)

// ParseTagsCSV parses comma-separated tags like "env:prod,team:data".
func ParseTagsCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wrapInitErr(err error) error {
	return fmt.Errorf("datadog metrics init: %w", err)
}
