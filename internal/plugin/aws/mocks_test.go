package aws

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var errNotMocked = errors.New("not mocked")

// ══════════════════════════════════════════════════════════════════════════════
// ECS
// ══════════════════════════════════════════════════════════════════════════════

type mockECSClient struct {
	ListClustersFunc     func(ctx context.Context, params *ecs.ListClustersInput, optFns ...func(*ecs.Options)) (*ecs.ListClustersOutput, error)
	ListServicesFunc     func(ctx context.Context, params *ecs.ListServicesInput, optFns ...func(*ecs.Options)) (*ecs.ListServicesOutput, error)
	DescribeServicesFunc func(ctx context.Context, params *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
	UpdateServiceFunc    func(ctx context.Context, params *ecs.UpdateServiceInput, optFns ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error)
}

func (m *mockECSClient) ListClusters(ctx context.Context, params *ecs.ListClustersInput, optFns ...func(*ecs.Options)) (*ecs.ListClustersOutput, error) {
	if m.ListClustersFunc == nil {
		return nil, errNotMocked
	}
	return m.ListClustersFunc(ctx, params, optFns...)
}

func (m *mockECSClient) ListServices(ctx context.Context, params *ecs.ListServicesInput, optFns ...func(*ecs.Options)) (*ecs.ListServicesOutput, error) {
	if m.ListServicesFunc == nil {
		return nil, errNotMocked
	}
	return m.ListServicesFunc(ctx, params, optFns...)
}

func (m *mockECSClient) DescribeServices(ctx context.Context, params *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error) {
	if m.DescribeServicesFunc == nil {
		return nil, errNotMocked
	}
	return m.DescribeServicesFunc(ctx, params, optFns...)
}

func (m *mockECSClient) UpdateService(ctx context.Context, params *ecs.UpdateServiceInput, optFns ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error) {
	if m.UpdateServiceFunc == nil {
		return nil, errNotMocked
	}
	return m.UpdateServiceFunc(ctx, params, optFns...)
}

// ══════════════════════════════════════════════════════════════════════════════
// RDS
// ══════════════════════════════════════════════════════════════════════════════

type mockRDSClient struct {
	DescribeDBInstancesFunc func(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
	StartDBInstanceFunc     func(ctx context.Context, params *rds.StartDBInstanceInput, optFns ...func(*rds.Options)) (*rds.StartDBInstanceOutput, error)
	StopDBInstanceFunc      func(ctx context.Context, params *rds.StopDBInstanceInput, optFns ...func(*rds.Options)) (*rds.StopDBInstanceOutput, error)
	RebootDBInstanceFunc    func(ctx context.Context, params *rds.RebootDBInstanceInput, optFns ...func(*rds.Options)) (*rds.RebootDBInstanceOutput, error)
	ModifyDBInstanceFunc    func(ctx context.Context, params *rds.ModifyDBInstanceInput, optFns ...func(*rds.Options)) (*rds.ModifyDBInstanceOutput, error)
	CreateDBSnapshotFunc    func(ctx context.Context, params *rds.CreateDBSnapshotInput, optFns ...func(*rds.Options)) (*rds.CreateDBSnapshotOutput, error)
}

func (m *mockRDSClient) DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
	if m.DescribeDBInstancesFunc == nil {
		return nil, errNotMocked
	}
	return m.DescribeDBInstancesFunc(ctx, params, optFns...)
}

func (m *mockRDSClient) StartDBInstance(ctx context.Context, params *rds.StartDBInstanceInput, optFns ...func(*rds.Options)) (*rds.StartDBInstanceOutput, error) {
	if m.StartDBInstanceFunc == nil {
		return nil, errNotMocked
	}
	return m.StartDBInstanceFunc(ctx, params, optFns...)
}

func (m *mockRDSClient) StopDBInstance(ctx context.Context, params *rds.StopDBInstanceInput, optFns ...func(*rds.Options)) (*rds.StopDBInstanceOutput, error) {
	if m.StopDBInstanceFunc == nil {
		return nil, errNotMocked
	}
	return m.StopDBInstanceFunc(ctx, params, optFns...)
}

func (m *mockRDSClient) RebootDBInstance(ctx context.Context, params *rds.RebootDBInstanceInput, optFns ...func(*rds.Options)) (*rds.RebootDBInstanceOutput, error) {
	if m.RebootDBInstanceFunc == nil {
		return nil, errNotMocked
	}
	return m.RebootDBInstanceFunc(ctx, params, optFns...)
}

func (m *mockRDSClient) ModifyDBInstance(ctx context.Context, params *rds.ModifyDBInstanceInput, optFns ...func(*rds.Options)) (*rds.ModifyDBInstanceOutput, error) {
	if m.ModifyDBInstanceFunc == nil {
		return nil, errNotMocked
	}
	return m.ModifyDBInstanceFunc(ctx, params, optFns...)
}

func (m *mockRDSClient) CreateDBSnapshot(ctx context.Context, params *rds.CreateDBSnapshotInput, optFns ...func(*rds.Options)) (*rds.CreateDBSnapshotOutput, error) {
	if m.CreateDBSnapshotFunc == nil {
		return nil, errNotMocked
	}
	return m.CreateDBSnapshotFunc(ctx, params, optFns...)
}

// ══════════════════════════════════════════════════════════════════════════════
// ElastiCache
// ══════════════════════════════════════════════════════════════════════════════

type mockElastiCacheClient struct {
	DescribeCacheClustersFunc func(ctx context.Context, params *elasticache.DescribeCacheClustersInput, optFns ...func(*elasticache.Options)) (*elasticache.DescribeCacheClustersOutput, error)
	RebootCacheClusterFunc    func(ctx context.Context, params *elasticache.RebootCacheClusterInput, optFns ...func(*elasticache.Options)) (*elasticache.RebootCacheClusterOutput, error)
	ModifyCacheClusterFunc    func(ctx context.Context, params *elasticache.ModifyCacheClusterInput, optFns ...func(*elasticache.Options)) (*elasticache.ModifyCacheClusterOutput, error)
	CreateSnapshotFunc        func(ctx context.Context, params *elasticache.CreateSnapshotInput, optFns ...func(*elasticache.Options)) (*elasticache.CreateSnapshotOutput, error)
}

func (m *mockElastiCacheClient) DescribeCacheClusters(ctx context.Context, params *elasticache.DescribeCacheClustersInput, optFns ...func(*elasticache.Options)) (*elasticache.DescribeCacheClustersOutput, error) {
	if m.DescribeCacheClustersFunc == nil {
		return nil, errNotMocked
	}
	return m.DescribeCacheClustersFunc(ctx, params, optFns...)
}

func (m *mockElastiCacheClient) RebootCacheCluster(ctx context.Context, params *elasticache.RebootCacheClusterInput, optFns ...func(*elasticache.Options)) (*elasticache.RebootCacheClusterOutput, error) {
	if m.RebootCacheClusterFunc == nil {
		return nil, errNotMocked
	}
	return m.RebootCacheClusterFunc(ctx, params, optFns...)
}

func (m *mockElastiCacheClient) ModifyCacheCluster(ctx context.Context, params *elasticache.ModifyCacheClusterInput, optFns ...func(*elasticache.Options)) (*elasticache.ModifyCacheClusterOutput, error) {
	if m.ModifyCacheClusterFunc == nil {
		return nil, errNotMocked
	}
	return m.ModifyCacheClusterFunc(ctx, params, optFns...)
}

func (m *mockElastiCacheClient) CreateSnapshot(ctx context.Context, params *elasticache.CreateSnapshotInput, optFns ...func(*elasticache.Options)) (*elasticache.CreateSnapshotOutput, error) {
	if m.CreateSnapshotFunc == nil {
		return nil, errNotMocked
	}
	return m.CreateSnapshotFunc(ctx, params, optFns...)
}

// ══════════════════════════════════════════════════════════════════════════════
// EC2
// ══════════════════════════════════════════════════════════════════════════════

type mockEC2Client struct {
	DescribeInstancesFunc       func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeVpcsFunc            func(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	StartInstancesFunc          func(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	StopInstancesFunc           func(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	RebootInstancesFunc         func(ctx context.Context, params *ec2.RebootInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RebootInstancesOutput, error)
	ModifyInstanceAttributeFunc func(ctx context.Context, params *ec2.ModifyInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error)
}

func (m *mockEC2Client) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if m.DescribeInstancesFunc == nil {
		return nil, errNotMocked
	}
	return m.DescribeInstancesFunc(ctx, params, optFns...)
}

func (m *mockEC2Client) DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	if m.DescribeVpcsFunc == nil {
		return nil, errNotMocked
	}
	return m.DescribeVpcsFunc(ctx, params, optFns...)
}

func (m *mockEC2Client) StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error) {
	if m.StartInstancesFunc == nil {
		return nil, errNotMocked
	}
	return m.StartInstancesFunc(ctx, params, optFns...)
}

func (m *mockEC2Client) StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	if m.StopInstancesFunc == nil {
		return nil, errNotMocked
	}
	return m.StopInstancesFunc(ctx, params, optFns...)
}

func (m *mockEC2Client) RebootInstances(ctx context.Context, params *ec2.RebootInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RebootInstancesOutput, error) {
	if m.RebootInstancesFunc == nil {
		return nil, errNotMocked
	}
	return m.RebootInstancesFunc(ctx, params, optFns...)
}

func (m *mockEC2Client) ModifyInstanceAttribute(ctx context.Context, params *ec2.ModifyInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error) {
	if m.ModifyInstanceAttributeFunc == nil {
		return nil, errNotMocked
	}
	return m.ModifyInstanceAttributeFunc(ctx, params, optFns...)
}

// ══════════════════════════════════════════════════════════════════════════════
// S3, ELB, CloudFront, CloudWatch
// ══════════════════════════════════════════════════════════════════════════════

type mockS3Client struct {
	ListBucketsFunc       func(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	GetBucketLocationFunc func(ctx context.Context, params *s3.GetBucketLocationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error)
}

func (m *mockS3Client) ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	if m.ListBucketsFunc == nil {
		return nil, errNotMocked
	}
	return m.ListBucketsFunc(ctx, params, optFns...)
}

func (m *mockS3Client) GetBucketLocation(ctx context.Context, params *s3.GetBucketLocationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error) {
	if m.GetBucketLocationFunc == nil {
		return nil, errNotMocked
	}
	return m.GetBucketLocationFunc(ctx, params, optFns...)
}

type mockELBClient struct {
	DescribeLoadBalancersFunc func(ctx context.Context, params *elasticloadbalancingv2.DescribeLoadBalancersInput, optFns ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeLoadBalancersOutput, error)
}

func (m *mockELBClient) DescribeLoadBalancers(ctx context.Context, params *elasticloadbalancingv2.DescribeLoadBalancersInput, optFns ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeLoadBalancersOutput, error) {
	if m.DescribeLoadBalancersFunc == nil {
		return nil, errNotMocked
	}
	return m.DescribeLoadBalancersFunc(ctx, params, optFns...)
}

type mockCloudFrontClient struct {
	ListDistributionsFunc     func(ctx context.Context, params *cloudfront.ListDistributionsInput, optFns ...func(*cloudfront.Options)) (*cloudfront.ListDistributionsOutput, error)
	GetDistributionConfigFunc func(ctx context.Context, params *cloudfront.GetDistributionConfigInput, optFns ...func(*cloudfront.Options)) (*cloudfront.GetDistributionConfigOutput, error)
	UpdateDistributionFunc    func(ctx context.Context, params *cloudfront.UpdateDistributionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.UpdateDistributionOutput, error)
}

func (m *mockCloudFrontClient) ListDistributions(ctx context.Context, params *cloudfront.ListDistributionsInput, optFns ...func(*cloudfront.Options)) (*cloudfront.ListDistributionsOutput, error) {
	if m.ListDistributionsFunc == nil {
		return nil, errNotMocked
	}
	return m.ListDistributionsFunc(ctx, params, optFns...)
}

func (m *mockCloudFrontClient) GetDistributionConfig(ctx context.Context, params *cloudfront.GetDistributionConfigInput, optFns ...func(*cloudfront.Options)) (*cloudfront.GetDistributionConfigOutput, error) {
	if m.GetDistributionConfigFunc == nil {
		return nil, errNotMocked
	}
	return m.GetDistributionConfigFunc(ctx, params, optFns...)
}

func (m *mockCloudFrontClient) UpdateDistribution(ctx context.Context, params *cloudfront.UpdateDistributionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.UpdateDistributionOutput, error) {
	if m.UpdateDistributionFunc == nil {
		return nil, errNotMocked
	}
	return m.UpdateDistributionFunc(ctx, params, optFns...)
}

type mockCloudWatchClient struct {
	GetMetricStatisticsFunc func(ctx context.Context, params *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error)
}

func (m *mockCloudWatchClient) GetMetricStatistics(ctx context.Context, params *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error) {
	if m.GetMetricStatisticsFunc == nil {
		return nil, errNotMocked
	}
	return m.GetMetricStatisticsFunc(ctx, params, optFns...)
}
