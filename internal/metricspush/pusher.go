// Package metricspush ships a prometheus registry from processes that exit
// before they can be scraped.
package metricspush

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/consultly/internal/config"
	obstracing "github.com/smallbiznis/consultly/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	ExporterRemoteWrite = "remote_write"
	ExporterPushgateway = "pushgateway"
	defaultPushTimeout  = 5 * time.Second
)

var Module = fx.Module("metrics.push",
	fx.Provide(NewPusher),
)

// Pusher sends one snapshot of a registry.
type Pusher interface {
	Push(ctx context.Context, registry *prometheus.Registry) error
}

// NewPusher builds a pusher from config. It returns nil when pushing is not
// configured or the configuration is unusable; the caller then skips the push.
func NewPusher(cfg config.Config, logger *zap.Logger) Pusher {
	if logger == nil {
		logger = zap.NewNop()
	}

	exporter := strings.ToLower(strings.TrimSpace(cfg.Metrics.Exporter))
	endpoint := strings.TrimSpace(cfg.Metrics.Endpoint)
	if exporter == "" {
		return nil
	}
	if endpoint == "" {
		logger.Warn("metrics.push.disabled", zap.Error(errors.New("METRICS_PUSH_ENDPOINT is required")))
		return nil
	}

	switch exporter {
	case ExporterRemoteWrite, "prometheus_remote_write":
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			logger.Warn("metrics.push.disabled", zap.Error(fmt.Errorf("invalid METRICS_PUSH_ENDPOINT: %w", err)))
			return nil
		}
		return NewRemoteWritePusher(endpoint, cfg.Metrics.AuthToken)
	case ExporterPushgateway, "prometheus_pushgateway":
		return NewPushgatewayPusher(endpoint, "settlement-sweeper", map[string]string{
			"environment": strings.TrimSpace(cfg.Environment),
		})
	default:
		logger.Warn("metrics.push.disabled", zap.String("exporter", exporter))
		return nil
	}
}

// RemoteWritePusher sends metrics to a Prometheus remote_write endpoint.
type RemoteWritePusher struct {
	endpoint   string
	authToken  string
	httpClient *http.Client
	now        func() time.Time
}

func NewRemoteWritePusher(endpoint, authToken string) *RemoteWritePusher {
	return &RemoteWritePusher{
		endpoint:  endpoint,
		authToken: strings.TrimSpace(authToken),
		httpClient: obstracing.WrapHTTPClient(&http.Client{
			Timeout: defaultPushTimeout,
		}),
		now: time.Now,
	}
}

func (p *RemoteWritePusher) Push(ctx context.Context, registry *prometheus.Registry) error {
	if p == nil || registry == nil {
		return nil
	}

	families, err := registry.Gather()
	if err != nil {
		return err
	}
	series := buildRemoteWriteSeries(families, p.now().UnixMilli())
	if len(series) == 0 {
		return nil
	}

	req := &prompb.WriteRequest{Timeseries: series}
	payload, err := req.Marshal()
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(snappy.Encode(nil, payload)))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if p.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.authToken)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("remote write returned %s", resp.Status)
	}
	return nil
}

// PushgatewayPusher replaces the job's group on a Prometheus Pushgateway.
type PushgatewayPusher struct {
	endpoint string
	job      string
	grouping map[string]string
}

func NewPushgatewayPusher(endpoint, job string, grouping map[string]string) *PushgatewayPusher {
	return &PushgatewayPusher{
		endpoint: endpoint,
		job:      strings.TrimSpace(job),
		grouping: grouping,
	}
}

func (p *PushgatewayPusher) Push(ctx context.Context, registry *prometheus.Registry) error {
	if p == nil || registry == nil {
		return nil
	}
	if strings.TrimSpace(p.endpoint) == "" {
		return errors.New("pushgateway endpoint is required")
	}
	if p.job == "" {
		return errors.New("pushgateway job is required")
	}

	pusher := push.New(p.endpoint, p.job).Gatherer(registry)
	keys := make([]string, 0, len(p.grouping))
	for key := range p.grouping {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := strings.TrimSpace(p.grouping[key])
		key = strings.TrimSpace(key)
		if key == "" || value == "" {
			continue
		}
		pusher = pusher.Grouping(key, value)
	}
	return pusher.PushContext(ctx)
}

// buildRemoteWriteSeries flattens gathered families into samples. Histograms
// are expanded into _bucket, _sum and _count series.
func buildRemoteWriteSeries(families []*dto.MetricFamily, timestampMs int64) []prompb.TimeSeries {
	var series []prompb.TimeSeries
	for _, family := range families {
		if family == nil {
			continue
		}
		name := family.GetName()
		for _, metric := range family.GetMetric() {
			if metric == nil {
				continue
			}
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				if metric.GetCounter() != nil {
					series = append(series, sample(name, metric, nil, metric.GetCounter().GetValue(), timestampMs))
				}
			case dto.MetricType_GAUGE:
				if metric.GetGauge() != nil {
					series = append(series, sample(name, metric, nil, metric.GetGauge().GetValue(), timestampMs))
				}
			case dto.MetricType_HISTOGRAM:
				histogram := metric.GetHistogram()
				if histogram == nil {
					continue
				}
				for _, bucket := range histogram.GetBucket() {
					le := prompb.Label{Name: "le", Value: strconv.FormatFloat(bucket.GetUpperBound(), 'g', -1, 64)}
					series = append(series, sample(name+"_bucket", metric, &le, float64(bucket.GetCumulativeCount()), timestampMs))
				}
				inf := prompb.Label{Name: "le", Value: strconv.FormatFloat(math.Inf(1), 'g', -1, 64)}
				series = append(series,
					sample(name+"_bucket", metric, &inf, float64(histogram.GetSampleCount()), timestampMs),
					sample(name+"_sum", metric, nil, histogram.GetSampleSum(), timestampMs),
					sample(name+"_count", metric, nil, float64(histogram.GetSampleCount()), timestampMs),
				)
			}
		}
	}
	return series
}

func sample(name string, metric *dto.Metric, extra *prompb.Label, value float64, timestampMs int64) prompb.TimeSeries {
	labels := make([]prompb.Label, 0, len(metric.GetLabel())+2)
	labels = append(labels, prompb.Label{Name: "__name__", Value: name})
	for _, label := range metric.GetLabel() {
		labels = append(labels, prompb.Label{Name: label.GetName(), Value: label.GetValue()})
	}
	if extra != nil {
		labels = append(labels, *extra)
	}
	sort.Slice(labels, func(i, j int) bool {
		return labels[i].Name < labels[j].Name
	})
	return prompb.TimeSeries{
		Labels:  labels,
		Samples: []prompb.Sample{{Value: value, Timestamp: timestampMs}},
	}
}
