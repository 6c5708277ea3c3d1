package aws

import (
	"context"
	"fmt"
	"strings"

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
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/cirrus/pkg/resource"
)

// describeServicesBatch is the DescribeServices per-call limit.
const describeServicesBatch = 10

// scanServices scans ECS services across all clusters. A failing cluster
// is skipped so its siblings are still reported.
func (p *Plugin) scanServices(ctx context.Context) ([]resource.Resource, error) {
	var clusterArns []string
	var nextToken *string

	for {
		output, err := p.ecsClient.ListClusters(ctx, &ecs.ListClustersInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("list clusters: %w", err)
		}
		clusterArns = append(clusterArns, output.ClusterArns...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	var resources []resource.Resource
	for _, clusterArn := range clusterArns {
		services, err := p.scanClusterServices(ctx, clusterArn)
		if err != nil {
			log.Warn().Err(err).Str("cluster", clusterArn).Msg("skipping cluster")
			continue
		}
		resources = append(resources, services...)
	}

	return resources, nil
}

func (p *Plugin) scanClusterServices(ctx context.Context, clusterArn string) ([]resource.Resource, error) {
	var serviceArns []string
	var nextToken *string

	for {
		output, err := p.ecsClient.ListServices(ctx, &ecs.ListServicesInput{
			Cluster:   aws.String(clusterArn),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("list services: %w", err)
		}
		serviceArns = append(serviceArns, output.ServiceArns...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	var resources []resource.Resource
	for i := 0; i < len(serviceArns); i += describeServicesBatch {
		end := min(i+describeServicesBatch, len(serviceArns))

		output, err := p.ecsClient.DescribeServices(ctx, &ecs.DescribeServicesInput{
			Cluster:  aws.String(clusterArn),
			Services: serviceArns[i:end],
			Include:  []ecstypes.ServiceField{ecstypes.ServiceFieldTags},
		})
		if err != nil {
			log.Warn().Err(err).Str("cluster", clusterArn).Int("offset", i).Msg("describe services batch failed")
			continue
		}

		for _, svc := range output.Services {
			resources = append(resources, p.convertService(clusterArn, svc))
		}
	}

	return resources, nil
}

func (p *Plugin) convertService(clusterArn string, svc ecstypes.Service) resource.Resource {
	cluster := lastSegment(clusterArn)
	if svc.ClusterArn != nil {
		cluster = lastSegment(aws.ToString(svc.ClusterArn))
	}

	name := aws.ToString(svc.ServiceName)
	r := p.newResource(resource.FamilyService, resource.QualifyID(cluster, name), aws.ToString(svc.Status), name)
	r.Group = cluster
	for _, tag := range svc.Tags {
		r.Labels[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	r.Attrs = resource.ServiceAttrs{
		Cluster:        cluster,
		DesiredCount:   svc.DesiredCount,
		RunningCount:   svc.RunningCount,
		PendingCount:   svc.PendingCount,
		LaunchType:     string(svc.LaunchType),
		TaskDefinition: aws.ToString(svc.TaskDefinition),
	}
	return r
}

// scanDatabases scans RDS instances.
func (p *Plugin) scanDatabases(ctx context.Context) ([]resource.Resource, error) {
	var resources []resource.Resource
	var marker *string

	for {
		output, err := p.rdsClient.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("describe db instances: %w", err)
		}

		for _, instance := range output.DBInstances {
			resources = append(resources, p.convertDatabase(instance))
		}

		if output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return resources, nil
}

func (p *Plugin) convertDatabase(instance rdstypes.DBInstance) resource.Resource {
	id := aws.ToString(instance.DBInstanceIdentifier)
	r := p.newResource(resource.FamilyDatabase, id, aws.ToString(instance.DBInstanceStatus), id)
	for _, tag := range instance.TagList {
		r.Labels[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	attrs := resource.DatabaseAttrs{
		Engine:             aws.ToString(instance.Engine),
		EngineVersion:      aws.ToString(instance.EngineVersion),
		InstanceClass:      aws.ToString(instance.DBInstanceClass),
		AllocatedStorageGB: aws.ToInt32(instance.AllocatedStorage),
		MultiAZ:            aws.ToBool(instance.MultiAZ),
	}
	if instance.Endpoint != nil {
		attrs.Endpoint = fmt.Sprintf("%s:%d", aws.ToString(instance.Endpoint.Address), aws.ToInt32(instance.Endpoint.Port))
	}
	r.Attrs = attrs
	return r
}

// scanCaches scans ElastiCache clusters.
func (p *Plugin) scanCaches(ctx context.Context) ([]resource.Resource, error) {
	var resources []resource.Resource
	var marker *string

	for {
		output, err := p.elasticacheClient.DescribeCacheClusters(ctx, &elasticache.DescribeCacheClustersInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("describe cache clusters: %w", err)
		}

		for _, cluster := range output.CacheClusters {
			resources = append(resources, p.convertCache(cluster))
		}

		if output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return resources, nil
}

func (p *Plugin) convertCache(cluster ectypes.CacheCluster) resource.Resource {
	id := aws.ToString(cluster.CacheClusterId)
	r := p.newResource(resource.FamilyCache, id, aws.ToString(cluster.CacheClusterStatus), id)
	r.Attrs = resource.CacheAttrs{
		Engine:        aws.ToString(cluster.Engine),
		EngineVersion: aws.ToString(cluster.EngineVersion),
		NodeType:      aws.ToString(cluster.CacheNodeType),
		NumNodes:      aws.ToInt32(cluster.NumCacheNodes),
	}
	return r
}

// scanInstances scans EC2 instances.
func (p *Plugin) scanInstances(ctx context.Context) ([]resource.Resource, error) {
	var resources []resource.Resource
	var nextToken *string

	for {
		output, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}

		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				resources = append(resources, p.convertInstance(instance))
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return resources, nil
}

func (p *Plugin) convertInstance(instance ec2types.Instance) resource.Resource {
	var native string
	if instance.State != nil {
		native = string(instance.State.Name)
	}

	r := p.newResource(resource.FamilyInstance, aws.ToString(instance.InstanceId), native, extractNameTag(instance.Tags))
	for _, tag := range instance.Tags {
		r.Labels[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	attrs := resource.InstanceAttrs{
		InstanceType: string(instance.InstanceType),
		PrivateIP:    aws.ToString(instance.PrivateIpAddress),
		PublicIP:     aws.ToString(instance.PublicIpAddress),
		VPCID:        aws.ToString(instance.VpcId),
	}
	if instance.Placement != nil {
		attrs.AvailabilityZone = aws.ToString(instance.Placement.AvailabilityZone)
	}
	r.Attrs = attrs
	return r
}

// scanBuckets scans S3 buckets. Buckets whose location cannot be read are
// skipped individually.
func (p *Plugin) scanBuckets(ctx context.Context) ([]resource.Resource, error) {
	output, err := p.s3Client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}

	var resources []resource.Resource
	for _, bucket := range output.Buckets {
		name := aws.ToString(bucket.Name)

		loc, err := p.s3Client.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: bucket.Name})
		if err != nil {
			log.Warn().Err(err).Str("bucket", name).Msg("skipping bucket")
			continue
		}

		r := p.newResource(resource.FamilyBucket, name, "available", name)
		r.Region = bucketRegion(string(loc.LocationConstraint))
		attrs := resource.BucketAttrs{}
		if bucket.CreationDate != nil {
			attrs.CreatedAt = *bucket.CreationDate
		}
		r.Attrs = attrs
		resources = append(resources, r)
	}

	return resources, nil
}

// bucketRegion normalizes a LocationConstraint. Empty means us-east-1 and
// the legacy "EU" means eu-west-1.
func bucketRegion(constraint string) string {
	switch constraint {
	case "":
		return "us-east-1"
	case "EU":
		return "eu-west-1"
	default:
		return constraint
	}
}

// scanLoadBalancers scans ELBv2 load balancers.
func (p *Plugin) scanLoadBalancers(ctx context.Context) ([]resource.Resource, error) {
	var resources []resource.Resource
	var marker *string

	for {
		output, err := p.elbClient.DescribeLoadBalancers(ctx, &elasticloadbalancingv2.DescribeLoadBalancersInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("describe load balancers: %w", err)
		}

		for _, lb := range output.LoadBalancers {
			resources = append(resources, p.convertLoadBalancer(lb))
		}

		if output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	return resources, nil
}

func (p *Plugin) convertLoadBalancer(lb elbtypes.LoadBalancer) resource.Resource {
	var native string
	if lb.State != nil {
		native = string(lb.State.Code)
	}
	name := aws.ToString(lb.LoadBalancerName)
	r := p.newResource(resource.FamilyLoadBalancer, name, native, name)
	r.Labels["arn"] = aws.ToString(lb.LoadBalancerArn)
	r.Attrs = resource.LoadBalancerAttrs{
		Type:    string(lb.Type),
		Scheme:  string(lb.Scheme),
		DNSName: aws.ToString(lb.DNSName),
		VPCID:   aws.ToString(lb.VpcId),
	}
	return r
}

// scanDistributions scans CloudFront distributions.
func (p *Plugin) scanDistributions(ctx context.Context) ([]resource.Resource, error) {
	var resources []resource.Resource
	var marker *string

	for {
		output, err := p.cloudfrontClient.ListDistributions(ctx, &cloudfront.ListDistributionsInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("list distributions: %w", err)
		}

		if output.DistributionList == nil {
			break
		}
		for _, dist := range output.DistributionList.Items {
			resources = append(resources, p.convertDistribution(dist))
		}

		if !aws.ToBool(output.DistributionList.IsTruncated) {
			break
		}
		marker = output.DistributionList.NextMarker
	}

	return resources, nil
}

func (p *Plugin) convertDistribution(dist cftypes.DistributionSummary) resource.Resource {
	enabled := aws.ToBool(dist.Enabled)
	native := aws.ToString(dist.Status)
	if !enabled {
		native = "disabled"
	}

	name := aws.ToString(dist.Comment)
	if name == "" {
		name = aws.ToString(dist.DomainName)
	}

	r := p.newResource(resource.FamilyDistribution, aws.ToString(dist.Id), native, name)
	r.Region = GlobalRegion
	attrs := resource.DistributionAttrs{
		DomainName: aws.ToString(dist.DomainName),
		Enabled:    enabled,
	}
	if dist.Origins != nil && len(dist.Origins.Items) > 0 {
		attrs.Origin = aws.ToString(dist.Origins.Items[0].DomainName)
	}
	r.Attrs = attrs
	return r
}

// scanNetworks scans VPCs.
func (p *Plugin) scanNetworks(ctx context.Context) ([]resource.Resource, error) {
	var resources []resource.Resource
	var nextToken *string

	for {
		output, err := p.ec2Client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe vpcs: %w", err)
		}

		for _, vpc := range output.Vpcs {
			resources = append(resources, p.convertNetwork(vpc))
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return resources, nil
}

func (p *Plugin) convertNetwork(vpc ec2types.Vpc) resource.Resource {
	r := p.newResource(resource.FamilyNetwork, aws.ToString(vpc.VpcId), string(vpc.State), extractNameTag(vpc.Tags))
	for _, tag := range vpc.Tags {
		r.Labels[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	r.Attrs = resource.NetworkAttrs{
		CIDR:      aws.ToString(vpc.CidrBlock),
		IsDefault: aws.ToBool(vpc.IsDefault),
	}
	return r
}

// extractNameTag extracts the Name tag from EC2 tags.
func extractNameTag(tags []ec2types.Tag) string {
	for _, tag := range tags {
		if aws.ToString(tag.Key) == "Name" {
			return aws.ToString(tag.Value)
		}
	}
	return ""
}

// lastSegment returns the part of an ARN after the final slash.
func lastSegment(arn string) string {
	if i := strings.LastIndex(arn, "/"); i >= 0 {
		return arn[i+1:]
	}
	return arn
}
