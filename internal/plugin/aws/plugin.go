// Package aws implements discovery adapters, action handlers and the
// metrics backend for AWS.
package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/yairfalse/cirrus/executor"
	"github.com/yairfalse/cirrus/internal/plugin"
	"github.com/yairfalse/cirrus/internal/status"
	"github.com/yairfalse/cirrus/pkg/resource"
)

// GlobalRegion is the region reported for resources without one.
const GlobalRegion = "global"

// Plugin holds one set of AWS clients for a region.
type Plugin struct {
	region string
	now    func() time.Time

	// AWS clients (interfaces for testability)
	ecsClient         ECSAPI
	rdsClient         RDSAPI
	elasticacheClient ElastiCacheAPI
	ec2Client         EC2API
	s3Client          S3API
	elbClient         ELBAPI
	cloudfrontClient  CloudFrontAPI
	cloudwatchClient  CloudWatchAPI
}

// Config holds AWS plugin configuration.
type Config struct {
	Region  string
	Profile string
}

// New creates a plugin from the default credential chain.
func New(ctx context.Context, cfg Config) (*Plugin, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Plugin{
		region:            awsCfg.Region,
		now:               time.Now,
		ecsClient:         ecs.NewFromConfig(awsCfg),
		rdsClient:         rds.NewFromConfig(awsCfg),
		elasticacheClient: elasticache.NewFromConfig(awsCfg),
		ec2Client:         ec2.NewFromConfig(awsCfg),
		s3Client:          s3.NewFromConfig(awsCfg),
		elbClient:         elasticloadbalancingv2.NewFromConfig(awsCfg),
		cloudfrontClient:  cloudfront.NewFromConfig(awsCfg),
		cloudwatchClient:  cloudwatch.NewFromConfig(awsCfg),
	}, nil
}

// Region returns the region the clients are bound to.
func (p *Plugin) Region() string {
	return p.region
}

type scanner struct {
	family resource.Family
	fn     func(context.Context) ([]resource.Resource, error)
}

func (s scanner) Family() resource.Family { return s.family }

func (s scanner) Discover(ctx context.Context) ([]resource.Resource, error) { return s.fn(ctx) }

func (p *Plugin) scanners() []scanner {
	return []scanner{
		{resource.FamilyService, p.scanServices},
		{resource.FamilyDatabase, p.scanDatabases},
		{resource.FamilyCache, p.scanCaches},
		{resource.FamilyInstance, p.scanInstances},
		{resource.FamilyBucket, p.scanBuckets},
		{resource.FamilyLoadBalancer, p.scanLoadBalancers},
		{resource.FamilyDistribution, p.scanDistributions},
		{resource.FamilyNetwork, p.scanNetworks},
	}
}

// Adapters returns one discovery adapter per family.
func (p *Plugin) Adapters() []plugin.Adapter {
	scanners := p.scanners()
	adapters := make([]plugin.Adapter, 0, len(scanners))
	for _, s := range scanners {
		adapters = append(adapters, s)
	}
	return adapters
}

// Handlers returns the action handlers for families with lifecycle actions.
func (p *Plugin) Handlers() []executor.Handler {
	return []executor.Handler{
		&serviceHandler{client: p.ecsClient},
		&databaseHandler{client: p.rdsClient, now: p.timeNow},
		&cacheHandler{client: p.elasticacheClient, now: p.timeNow},
		&instanceHandler{client: p.ec2Client},
		&distributionHandler{client: p.cloudfrontClient},
	}
}

// Monitor returns the CloudWatch metrics backend.
func (p *Plugin) Monitor() *CloudWatch {
	return &CloudWatch{client: p.cloudwatchClient, now: p.timeNow}
}

// helper to create resource with common fields
func (p *Plugin) newResource(family resource.Family, id, native, name string) resource.Resource {
	return resource.Resource{
		Family:       family,
		ID:           id,
		Name:         name,
		Region:       p.region,
		Status:       status.Map(family, native),
		NativeStatus: native,
		Labels:       make(map[string]string),
		ScannedAt:    p.timeNow(),
	}
}

func (p *Plugin) timeNow() time.Time {
	if p.now == nil {
		return time.Now()
	}
	return p.now()
}
