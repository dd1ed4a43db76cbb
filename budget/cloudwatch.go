package budget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/nanzhong/marketdata/logger"
	"github.com/shopspring/decimal"
)

const (
	DefaultFreeTierLimit     = 1000000
	DefaultWarningThreshold  = 0.85
	DefaultCriticalThreshold = 0.95

	unknownMessage = "WARNING: Unable to determine current budget usage."
)

// MetricsAPI is the part of the CloudWatch client the checker needs.
type MetricsAPI interface {
	GetMetricStatistics(ctx context.Context, params *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error)
}

type Options struct {
	FunctionName      string
	FreeTierLimit     float64
	WarningThreshold  float64
	CriticalThreshold float64
	CacheTTL          time.Duration
}

// Status is a point-in-time budget reading.
type Status struct {
	Invocations float64
	Ratio       float64
	Critical    bool
	Warning     bool
	Err         error
	CheckedAt   time.Time
}

// Message renders the caller-facing banner for the status.
func (s Status) Message() string {
	if s.Err != nil {
		return unknownMessage
	}
	percent := decimal.NewFromFloat(s.Ratio * 100).StringFixed(1)
	switch {
	case s.Critical:
		return fmt.Sprintf("CRITICAL: Free tier usage at %s%%. Cache refresh disabled.", percent)
	case s.Warning:
		return fmt.Sprintf("WARNING: Free tier usage at %s%%. Consider reducing refresh rate.", percent)
	}
	return ""
}

// CloudWatchChecker sums this month's Lambda invocations and compares them to
// the free tier. Readings are memoised for CacheTTL. A failed reading is never
// critical.
type CloudWatchChecker struct {
	api  MetricsAPI
	opts Options
	log  *logger.Entry
	now  func() time.Time

	mu     sync.Mutex
	status *Status
}

func NewCloudWatchChecker(api MetricsAPI, opts Options, log *logger.Log) *CloudWatchChecker {
	if opts.FreeTierLimit <= 0 {
		opts.FreeTierLimit = DefaultFreeTierLimit
	}
	if opts.WarningThreshold <= 0 {
		opts.WarningThreshold = DefaultWarningThreshold
	}
	if opts.CriticalThreshold <= 0 {
		opts.CriticalThreshold = DefaultCriticalThreshold
	}
	return &CloudWatchChecker{
		api:  api,
		opts: opts,
		log:  log.WithComponent("budget"),
		now:  time.Now,
	}
}

func (c *CloudWatchChecker) IsCritical(ctx context.Context) bool {
	return c.Status(ctx).Critical
}

func (c *CloudWatchChecker) WarningMessage(ctx context.Context) string {
	return c.Status(ctx).Message()
}

// Status returns the memoised reading, refreshing it when expired.
func (c *CloudWatchChecker) Status(ctx context.Context) Status {
	c.mu.Lock()
	if c.status != nil && c.now().Sub(c.status.CheckedAt) < c.opts.CacheTTL {
		s := *c.status
		c.mu.Unlock()
		return s
	}
	c.mu.Unlock()

	s := c.read(ctx)

	c.mu.Lock()
	c.status = &s
	c.mu.Unlock()
	return s
}

func (c *CloudWatchChecker) read(ctx context.Context) Status {
	now := c.now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	out, err := c.api.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String("AWS/Lambda"),
		MetricName: aws.String("Invocations"),
		Dimensions: []cwtypes.Dimension{{
			Name:  aws.String("FunctionName"),
			Value: aws.String(c.opts.FunctionName),
		}},
		StartTime:  aws.Time(start),
		EndTime:    aws.Time(now),
		Period:     aws.Int32(86400),
		Statistics: []cwtypes.Statistic{cwtypes.StatisticSum},
	})
	if err == nil && out == nil {
		err = errors.New("empty metric statistics response")
	}
	if err != nil {
		c.log.WithError(err).Warn("failed to read budget usage")
		return Status{Err: err, CheckedAt: c.now()}
	}

	var total float64
	for _, dp := range out.Datapoints {
		total += aws.ToFloat64(dp.Sum)
	}
	ratio := total / c.opts.FreeTierLimit

	s := Status{
		Invocations: total,
		Ratio:       ratio,
		Critical:    ratio >= c.opts.CriticalThreshold,
		Warning:     ratio >= c.opts.WarningThreshold,
		CheckedAt:   c.now(),
	}
	if s.Warning {
		c.log.WithFields(logger.Fields{"invocations": total, "ratio": ratio}).Warn("budget usage high")
	}
	return s
}
