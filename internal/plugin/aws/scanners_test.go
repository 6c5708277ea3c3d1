package aws

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	ectypes "github.com/aws/aws-sdk-go-v2/service/elasticache/types"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/cirrus/internal/plugin"
	"github.com/yairfalse/cirrus/pkg/resource"
)

var scanTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testPlugin() *Plugin {
	return &Plugin{region: "us-east-1", now: func() time.Time { return scanTime }}
}

// ══════════════════════════════════════════════════════════════════════════════
// ECS Tests
// ══════════════════════════════════════════════════════════════════════════════

func TestScanServices(t *testing.T) {
	mock := &mockECSClient{
		ListClustersFunc: func(_ context.Context, _ *ecs.ListClustersInput, _ ...func(*ecs.Options)) (*ecs.ListClustersOutput, error) {
			return &ecs.ListClustersOutput{ClusterArns: []string{"arn:aws:ecs:us-east-1:123:cluster/prod"}}, nil
		},
		ListServicesFunc: func(_ context.Context, _ *ecs.ListServicesInput, _ ...func(*ecs.Options)) (*ecs.ListServicesOutput, error) {
			return &ecs.ListServicesOutput{ServiceArns: []string{"arn:aws:ecs:us-east-1:123:service/prod/api"}}, nil
		},
		DescribeServicesFunc: func(_ context.Context, params *ecs.DescribeServicesInput, _ ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error) {
			assert.Equal(t, "arn:aws:ecs:us-east-1:123:cluster/prod", aws.ToString(params.Cluster))
			return &ecs.DescribeServicesOutput{
				Services: []ecstypes.Service{
					{
						ServiceName:    aws.String("api"),
						ClusterArn:     aws.String("arn:aws:ecs:us-east-1:123:cluster/prod"),
						Status:         aws.String("ACTIVE"),
						DesiredCount:   3,
						RunningCount:   2,
						PendingCount:   1,
						LaunchType:     ecstypes.LaunchTypeFargate,
						TaskDefinition: aws.String("api:7"),
						Tags:           []ecstypes.Tag{{Key: aws.String("team"), Value: aws.String("core")}},
					},
				},
			}, nil
		},
	}

	p := testPlugin()
	p.ecsClient = mock
	resources, err := p.scanServices(context.Background())

	require.NoError(t, err)
	require.Len(t, resources, 1)

	r := resources[0]
	assert.Equal(t, resource.FamilyService, r.Family)
	assert.Equal(t, "prod/api", r.ID)
	assert.Equal(t, "api", r.Name)
	assert.Equal(t, "prod", r.Group)
	assert.Equal(t, "compute-service/us-east-1/prod/api", r.Key().String())
	assert.Equal(t, resource.StatusRunning, r.Status)
	assert.Equal(t, "ACTIVE", r.NativeStatus)
	assert.Equal(t, "core", r.Labels["team"])
	assert.Equal(t, scanTime, r.ScannedAt)

	attrs, ok := r.Attrs.(resource.ServiceAttrs)
	require.True(t, ok)
	assert.Equal(t, int32(3), attrs.DesiredCount)
	assert.Equal(t, "FARGATE", attrs.LaunchType)
	assert.Equal(t, "api:7", attrs.TaskDefinition)
}

func TestScanServices_StatusMapping(t *testing.T) {
	statuses := map[string]resource.Status{
		"ACTIVE":   resource.StatusRunning,
		"DRAINING": resource.StatusPending,
		"INACTIVE": resource.StatusStopped,
	}
	var services []ecstypes.Service
	for native := range statuses {
		services = append(services, ecstypes.Service{ServiceName: aws.String(native), Status: aws.String(native)})
	}

	mock := &mockECSClient{
		ListClustersFunc: func(_ context.Context, _ *ecs.ListClustersInput, _ ...func(*ecs.Options)) (*ecs.ListClustersOutput, error) {
			return &ecs.ListClustersOutput{ClusterArns: []string{"arn:aws:ecs:us-east-1:123:cluster/prod"}}, nil
		},
		ListServicesFunc: func(_ context.Context, _ *ecs.ListServicesInput, _ ...func(*ecs.Options)) (*ecs.ListServicesOutput, error) {
			return &ecs.ListServicesOutput{ServiceArns: []string{"a", "b", "c"}}, nil
		},
		DescribeServicesFunc: func(_ context.Context, _ *ecs.DescribeServicesInput, _ ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error) {
			return &ecs.DescribeServicesOutput{Services: services}, nil
		},
	}

	p := testPlugin()
	p.ecsClient = mock
	resources, err := p.scanServices(context.Background())

	require.NoError(t, err)
	require.Len(t, resources, 3)
	for _, r := range resources {
		assert.Equal(t, statuses[r.NativeStatus], r.Status, r.NativeStatus)
		assert.Equal(t, "prod", r.Group)
	}
}

func TestScanServices_FailingClusterSkipped(t *testing.T) {
	mock := &mockECSClient{
		ListClustersFunc: func(_ context.Context, _ *ecs.ListClustersInput, _ ...func(*ecs.Options)) (*ecs.ListClustersOutput, error) {
			return &ecs.ListClustersOutput{ClusterArns: []string{"cluster/broken", "cluster/prod"}}, nil
		},
		ListServicesFunc: func(_ context.Context, params *ecs.ListServicesInput, _ ...func(*ecs.Options)) (*ecs.ListServicesOutput, error) {
			if aws.ToString(params.Cluster) == "cluster/broken" {
				return nil, errors.New("AccessDeniedException")
			}
			return &ecs.ListServicesOutput{ServiceArns: []string{"service/prod/api"}}, nil
		},
		DescribeServicesFunc: func(_ context.Context, _ *ecs.DescribeServicesInput, _ ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error) {
			return &ecs.DescribeServicesOutput{Services: []ecstypes.Service{{ServiceName: aws.String("api"), Status: aws.String("ACTIVE")}}}, nil
		},
	}

	p := testPlugin()
	p.ecsClient = mock
	resources, err := p.scanServices(context.Background())

	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "prod/api", resources[0].ID)
	assert.Equal(t, "prod", resources[0].Group)
}

func TestScanServices_SameNameInTwoClusters(t *testing.T) {
	mock := &mockECSClient{
		ListClustersFunc: func(_ context.Context, _ *ecs.ListClustersInput, _ ...func(*ecs.Options)) (*ecs.ListClustersOutput, error) {
			return &ecs.ListClustersOutput{ClusterArns: []string{
				"arn:aws:ecs:us-east-1:123:cluster/prod",
				"arn:aws:ecs:us-east-1:123:cluster/staging",
			}}, nil
		},
		ListServicesFunc: func(_ context.Context, params *ecs.ListServicesInput, _ ...func(*ecs.Options)) (*ecs.ListServicesOutput, error) {
			return &ecs.ListServicesOutput{ServiceArns: []string{aws.ToString(params.Cluster) + "/api"}}, nil
		},
		DescribeServicesFunc: func(_ context.Context, params *ecs.DescribeServicesInput, _ ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error) {
			return &ecs.DescribeServicesOutput{Services: []ecstypes.Service{{
				ServiceName: aws.String("api"),
				ClusterArn:  params.Cluster,
				Status:      aws.String("ACTIVE"),
			}}}, nil
		},
	}

	p := testPlugin()
	p.ecsClient = mock
	resources, err := p.scanServices(context.Background())

	require.NoError(t, err)
	require.Len(t, resources, 2)

	ids := map[string]string{}
	keys := map[string]bool{}
	for _, r := range resources {
		assert.Equal(t, "api", r.Name)
		ids[r.ID] = r.Group
		keys[r.Key().String()] = true
	}
	assert.Equal(t, map[string]string{"prod/api": "prod", "staging/api": "staging"}, ids)
	assert.Len(t, keys, 2)

	snap := plugin.Snapshot{Resources: map[resource.Family][]resource.Resource{resource.FamilyService: resources}}
	key, err := resource.ParseKey("compute-service/us-east-1/staging/api")
	require.NoError(t, err)
	found, err := snap.Lookup(key)
	require.NoError(t, err)
	assert.Equal(t, "staging", found.Group)
}

func TestScanServices_DescribeInBatchesOfTen(t *testing.T) {
	arns := make([]string, 23)
	for i := range arns {
		arns[i] = fmt.Sprintf("service/prod/svc-%02d", i)
	}

	var batches []int
	mock := &mockECSClient{
		ListClustersFunc: func(_ context.Context, _ *ecs.ListClustersInput, _ ...func(*ecs.Options)) (*ecs.ListClustersOutput, error) {
			return &ecs.ListClustersOutput{ClusterArns: []string{"cluster/prod"}}, nil
		},
		ListServicesFunc: func(_ context.Context, params *ecs.ListServicesInput, _ ...func(*ecs.Options)) (*ecs.ListServicesOutput, error) {
			if params.NextToken == nil {
				return &ecs.ListServicesOutput{ServiceArns: arns[:15], NextToken: aws.String("page2")}, nil
			}
			return &ecs.ListServicesOutput{ServiceArns: arns[15:]}, nil
		},
		DescribeServicesFunc: func(_ context.Context, params *ecs.DescribeServicesInput, _ ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error) {
			batches = append(batches, len(params.Services))
			var out []ecstypes.Service
			for _, arn := range params.Services {
				out = append(out, ecstypes.Service{ServiceName: aws.String(lastSegment(arn)), Status: aws.String("ACTIVE")})
			}
			return &ecs.DescribeServicesOutput{Services: out}, nil
		},
	}

	p := testPlugin()
	p.ecsClient = mock
	resources, err := p.scanServices(context.Background())

	require.NoError(t, err)
	assert.Len(t, resources, 23)
	assert.Equal(t, []int{10, 10, 3}, batches)
}

func TestScanServices_ListClustersError(t *testing.T) {
	mock := &mockECSClient{
		ListClustersFunc: func(_ context.Context, _ *ecs.ListClustersInput, _ ...func(*ecs.Options)) (*ecs.ListClustersOutput, error) {
			return nil, errors.New("throttled")
		},
	}

	p := testPlugin()
	p.ecsClient = mock
	_, err := p.scanServices(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "list clusters")
}

// ══════════════════════════════════════════════════════════════════════════════
// RDS Tests
// ══════════════════════════════════════════════════════════════════════════════

func TestScanDatabases(t *testing.T) {
	calls := 0
	mock := &mockRDSClient{
		DescribeDBInstancesFunc: func(_ context.Context, params *rds.DescribeDBInstancesInput, _ ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
			calls++
			if params.Marker == nil {
				return &rds.DescribeDBInstancesOutput{
					DBInstances: []rdstypes.DBInstance{
						{
							DBInstanceIdentifier: aws.String("orders"),
							DBInstanceStatus:     aws.String("available"),
							Engine:               aws.String("postgres"),
							EngineVersion:        aws.String("16.2"),
							DBInstanceClass:      aws.String("db.r6g.large"),
							AllocatedStorage:     aws.Int32(100),
							MultiAZ:              aws.Bool(true),
							Endpoint:             &rdstypes.Endpoint{Address: aws.String("orders.xyz.rds.amazonaws.com"), Port: aws.Int32(5432)},
						},
					},
					Marker: aws.String("next"),
				}, nil
			}
			return &rds.DescribeDBInstancesOutput{
				DBInstances: []rdstypes.DBInstance{
					{DBInstanceIdentifier: aws.String("legacy"), DBInstanceStatus: aws.String("stopped")},
				},
			}, nil
		},
	}

	p := testPlugin()
	p.rdsClient = mock
	resources, err := p.scanDatabases(context.Background())

	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, 2, calls)

	r := resources[0]
	assert.Equal(t, "orders", r.ID)
	assert.Equal(t, resource.StatusRunning, r.Status)
	attrs := r.Attrs.(resource.DatabaseAttrs)
	assert.Equal(t, "db.r6g.large", attrs.InstanceClass)
	assert.Equal(t, int32(100), attrs.AllocatedStorageGB)
	assert.True(t, attrs.MultiAZ)
	assert.Equal(t, "orders.xyz.rds.amazonaws.com:5432", attrs.Endpoint)

	assert.Equal(t, resource.StatusStopped, resources[1].Status)
}

func TestScanDatabases_Error(t *testing.T) {
	mock := &mockRDSClient{
		DescribeDBInstancesFunc: func(_ context.Context, _ *rds.DescribeDBInstancesInput, _ ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
			return nil, errors.New("access denied")
		},
	}

	p := testPlugin()
	p.rdsClient = mock
	_, err := p.scanDatabases(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

// ══════════════════════════════════════════════════════════════════════════════
// ElastiCache Tests
// ══════════════════════════════════════════════════════════════════════════════

func TestScanCaches(t *testing.T) {
	mock := &mockElastiCacheClient{
		DescribeCacheClustersFunc: func(_ context.Context, _ *elasticache.DescribeCacheClustersInput, _ ...func(*elasticache.Options)) (*elasticache.DescribeCacheClustersOutput, error) {
			return &elasticache.DescribeCacheClustersOutput{
				CacheClusters: []ectypes.CacheCluster{
					{
						CacheClusterId:     aws.String("sessions"),
						CacheClusterStatus: aws.String("available"),
						Engine:             aws.String("redis"),
						CacheNodeType:      aws.String("cache.t3.small"),
						NumCacheNodes:      aws.Int32(2),
					},
					{
						CacheClusterId:     aws.String("rebooting"),
						CacheClusterStatus: aws.String("rebooting cluster nodes"),
					},
				},
			}, nil
		},
	}

	p := testPlugin()
	p.elasticacheClient = mock
	resources, err := p.scanCaches(context.Background())

	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, resource.StatusRunning, resources[0].Status)
	assert.Equal(t, int32(2), resources[0].Attrs.(resource.CacheAttrs).NumNodes)
	assert.Equal(t, resource.StatusPending, resources[1].Status)
}

// ══════════════════════════════════════════════════════════════════════════════
// EC2 Tests
// ══════════════════════════════════════════════════════════════════════════════

func TestScanInstances(t *testing.T) {
	mock := &mockEC2Client{
		DescribeInstancesFunc: func(_ context.Context, _ *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			return &ec2.DescribeInstancesOutput{
				Reservations: []ec2types.Reservation{
					{
						Instances: []ec2types.Instance{
							{
								InstanceId:       aws.String("i-abc123"),
								InstanceType:     ec2types.InstanceTypeT3Micro,
								State:            &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
								Placement:        &ec2types.Placement{AvailabilityZone: aws.String("us-east-1a")},
								PrivateIpAddress: aws.String("10.0.1.10"),
								VpcId:            aws.String("vpc-123"),
								Tags:             []ec2types.Tag{{Key: aws.String("Name"), Value: aws.String("web-1")}},
							},
							{InstanceId: aws.String("i-nostate")},
						},
					},
				},
			}, nil
		},
	}

	p := testPlugin()
	p.ec2Client = mock
	resources, err := p.scanInstances(context.Background())

	require.NoError(t, err)
	require.Len(t, resources, 2)

	r := resources[0]
	assert.Equal(t, "i-abc123", r.ID)
	assert.Equal(t, "web-1", r.Name)
	assert.Equal(t, resource.StatusRunning, r.Status)
	attrs := r.Attrs.(resource.InstanceAttrs)
	assert.Equal(t, "t3.micro", attrs.InstanceType)
	assert.Equal(t, "us-east-1a", attrs.AvailabilityZone)

	assert.Equal(t, resource.StatusError, resources[1].Status)
	assert.Equal(t, "i-nostate", resources[1].DisplayName())
}

func TestScanNetworks(t *testing.T) {
	mock := &mockEC2Client{
		DescribeVpcsFunc: func(_ context.Context, _ *ec2.DescribeVpcsInput, _ ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
			return &ec2.DescribeVpcsOutput{
				Vpcs: []ec2types.Vpc{
					{VpcId: aws.String("vpc-123"), State: ec2types.VpcStateAvailable, CidrBlock: aws.String("10.0.0.0/16"), IsDefault: aws.Bool(true)},
				},
			}, nil
		},
	}

	p := testPlugin()
	p.ec2Client = mock
	resources, err := p.scanNetworks(context.Background())

	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, resource.StatusAvailable, resources[0].Status)
	assert.Equal(t, resource.NetworkAttrs{CIDR: "10.0.0.0/16", IsDefault: true}, resources[0].Attrs)
}

// ══════════════════════════════════════════════════════════════════════════════
// S3 Tests
// ══════════════════════════════════════════════════════════════════════════════

func TestScanBuckets(t *testing.T) {
	created := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	mock := &mockS3Client{
		ListBucketsFunc: func(_ context.Context, _ *s3.ListBucketsInput, _ ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
			return &s3.ListBucketsOutput{
				Buckets: []s3types.Bucket{
					{Name: aws.String("assets"), CreationDate: &created},
					{Name: aws.String("forbidden")},
					{Name: aws.String("eu-logs")},
				},
			}, nil
		},
		GetBucketLocationFunc: func(_ context.Context, params *s3.GetBucketLocationInput, _ ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error) {
			switch aws.ToString(params.Bucket) {
			case "forbidden":
				return nil, errors.New("AccessDenied")
			case "eu-logs":
				return &s3.GetBucketLocationOutput{LocationConstraint: s3types.BucketLocationConstraintEuCentral1}, nil
			}
			return &s3.GetBucketLocationOutput{}, nil
		},
	}

	p := testPlugin()
	p.s3Client = mock
	resources, err := p.scanBuckets(context.Background())

	require.NoError(t, err)
	require.Len(t, resources, 2, "bucket with unreadable location is skipped")

	assert.Equal(t, "assets", resources[0].ID)
	assert.Equal(t, "us-east-1", resources[0].Region)
	assert.Equal(t, resource.StatusAvailable, resources[0].Status)
	assert.Equal(t, created, resources[0].Attrs.(resource.BucketAttrs).CreatedAt)

	assert.Equal(t, "eu-central-1", resources[1].Region)
}

func TestBucketRegion(t *testing.T) {
	assert.Equal(t, "us-east-1", bucketRegion(""))
	assert.Equal(t, "eu-west-1", bucketRegion("EU"))
	assert.Equal(t, "ap-south-1", bucketRegion("ap-south-1"))
}

// ══════════════════════════════════════════════════════════════════════════════
// ELB Tests
// ══════════════════════════════════════════════════════════════════════════════

func TestScanLoadBalancers(t *testing.T) {
	mock := &mockELBClient{
		DescribeLoadBalancersFunc: func(_ context.Context, _ *elasticloadbalancingv2.DescribeLoadBalancersInput, _ ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeLoadBalancersOutput, error) {
			return &elasticloadbalancingv2.DescribeLoadBalancersOutput{
				LoadBalancers: []elbtypes.LoadBalancer{
					{
						LoadBalancerArn:  aws.String("arn:aws:elasticloadbalancing:us-east-1:123:loadbalancer/app/web/abc"),
						LoadBalancerName: aws.String("web"),
						State:            &elbtypes.LoadBalancerState{Code: elbtypes.LoadBalancerStateEnumActive},
						Type:             elbtypes.LoadBalancerTypeEnumApplication,
						Scheme:           elbtypes.LoadBalancerSchemeEnumInternetFacing,
						DNSName:          aws.String("web-123.us-east-1.elb.amazonaws.com"),
					},
				},
			}, nil
		},
	}

	p := testPlugin()
	p.elbClient = mock
	resources, err := p.scanLoadBalancers(context.Background())

	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "web", resources[0].ID)
	assert.Equal(t, resource.StatusRunning, resources[0].Status)
	assert.Equal(t, "application", resources[0].Attrs.(resource.LoadBalancerAttrs).Type)
}

// ══════════════════════════════════════════════════════════════════════════════
// CloudFront Tests
// ══════════════════════════════════════════════════════════════════════════════

func TestScanDistributions(t *testing.T) {
	calls := 0
	mock := &mockCloudFrontClient{
		ListDistributionsFunc: func(_ context.Context, params *cloudfront.ListDistributionsInput, _ ...func(*cloudfront.Options)) (*cloudfront.ListDistributionsOutput, error) {
			calls++
			if params.Marker == nil {
				return &cloudfront.ListDistributionsOutput{
					DistributionList: &cftypes.DistributionList{
						Items: []cftypes.DistributionSummary{
							{
								Id:         aws.String("E1"),
								Status:     aws.String("Deployed"),
								DomainName: aws.String("d1.cloudfront.net"),
								Enabled:    aws.Bool(true),
								Comment:    aws.String("marketing site"),
								Origins:    &cftypes.Origins{Items: []cftypes.Origin{{DomainName: aws.String("assets.s3.amazonaws.com")}}},
							},
						},
						IsTruncated: aws.Bool(true),
						NextMarker:  aws.String("E1"),
					},
				}, nil
			}
			return &cloudfront.ListDistributionsOutput{
				DistributionList: &cftypes.DistributionList{
					Items: []cftypes.DistributionSummary{
						{Id: aws.String("E2"), Status: aws.String("Deployed"), DomainName: aws.String("d2.cloudfront.net"), Enabled: aws.Bool(false)},
					},
					IsTruncated: aws.Bool(false),
				},
			}, nil
		},
	}

	p := testPlugin()
	p.cloudfrontClient = mock
	resources, err := p.scanDistributions(context.Background())

	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, 2, calls)

	assert.Equal(t, GlobalRegion, resources[0].Region)
	assert.Equal(t, "marketing site", resources[0].Name)
	assert.Equal(t, resource.StatusRunning, resources[0].Status)
	assert.Equal(t, "assets.s3.amazonaws.com", resources[0].Attrs.(resource.DistributionAttrs).Origin)

	assert.Equal(t, resource.StatusStopped, resources[1].Status)
	assert.Equal(t, "d2.cloudfront.net", resources[1].Name)
}
