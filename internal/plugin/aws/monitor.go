package aws

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/yairfalse/cirrus/internal/monitor"
)

// CloudWatch answers metric queries from GetMetricStatistics.
type CloudWatch struct {
	client CloudWatchAPI
	now    func() time.Time
}

// Datapoint returns the newest datapoint of the requested statistic.
func (c *CloudWatch) Datapoint(ctx context.Context, q monitor.Query) (float64, bool, error) {
	end := c.now()
	dims := make([]cwtypes.Dimension, 0, len(q.Dimensions))
	for name, value := range q.Dimensions {
		dims = append(dims, cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)})
	}
	sort.Slice(dims, func(i, j int) bool { return aws.ToString(dims[i].Name) < aws.ToString(dims[j].Name) })

	stat := cwtypes.Statistic(q.Stat)
	if stat == "" {
		stat = cwtypes.StatisticAverage
	}

	output, err := c.client.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String(q.Namespace),
		MetricName: aws.String(q.Metric),
		Dimensions: dims,
		StartTime:  aws.Time(end.Add(-q.Window)),
		EndTime:    aws.Time(end),
		Period:     aws.Int32(int32(q.Period / time.Second)),
		Statistics: []cwtypes.Statistic{stat},
	})
	if err != nil {
		return 0, false, fmt.Errorf("get metric statistics %s/%s: %w", q.Namespace, q.Metric, err)
	}

	var newest *cwtypes.Datapoint
	for i := range output.Datapoints {
		dp := &output.Datapoints[i]
		if newest == nil || aws.ToTime(dp.Timestamp).After(aws.ToTime(newest.Timestamp)) {
			newest = dp
		}
	}
	if newest == nil {
		return 0, false, nil
	}

	v, ok := statValue(*newest, stat)
	return v, ok, nil
}

func statValue(dp cwtypes.Datapoint, stat cwtypes.Statistic) (float64, bool) {
	var v *float64
	switch stat {
	case cwtypes.StatisticMaximum:
		v = dp.Maximum
	case cwtypes.StatisticMinimum:
		v = dp.Minimum
	case cwtypes.StatisticSum:
		v = dp.Sum
	case cwtypes.StatisticSampleCount:
		v = dp.SampleCount
	default:
		v = dp.Average
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}
