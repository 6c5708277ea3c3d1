package resource

import (
	"bytes"
	"encoding/json"
	"time"
)

// Attributes is the family-specific part of a Resource. Each family has
// exactly one concrete variant.
type Attributes interface {
	Family() Family
	sealed()
}

// ServiceAttrs describes a container service.
type ServiceAttrs struct {
	Cluster        string `json:"cluster"`
	DesiredCount   int32  `json:"desired_count"`
	RunningCount   int32  `json:"running_count"`
	PendingCount   int32  `json:"pending_count"`
	LaunchType     string `json:"launch_type,omitempty"`
	TaskDefinition string `json:"task_definition,omitempty"`
}

// DatabaseAttrs describes a managed database instance.
type DatabaseAttrs struct {
	Engine             string `json:"engine"`
	EngineVersion      string `json:"engine_version,omitempty"`
	InstanceClass      string `json:"instance_class"`
	AllocatedStorageGB int32  `json:"allocated_storage_gb"`
	MultiAZ            bool   `json:"multi_az"`
	Endpoint           string `json:"endpoint,omitempty"`
}

// CacheAttrs describes a cache cluster.
type CacheAttrs struct {
	Engine        string `json:"engine"`
	EngineVersion string `json:"engine_version,omitempty"`
	NodeType      string `json:"node_type"`
	NumNodes      int32  `json:"num_nodes"`
}

// InstanceAttrs describes a virtual machine.
type InstanceAttrs struct {
	InstanceType     string `json:"instance_type"`
	AvailabilityZone string `json:"availability_zone,omitempty"`
	PrivateIP        string `json:"private_ip,omitempty"`
	PublicIP         string `json:"public_ip,omitempty"`
	VPCID            string `json:"vpc_id,omitempty"`
}

// BucketAttrs describes an object store bucket.
type BucketAttrs struct {
	CreatedAt time.Time `json:"created_at"`
}

// LoadBalancerAttrs describes a load balancer.
type LoadBalancerAttrs struct {
	Type    string `json:"type"`
	Scheme  string `json:"scheme,omitempty"`
	DNSName string `json:"dns_name,omitempty"`
	VPCID   string `json:"vpc_id,omitempty"`
}

// DistributionAttrs describes a CDN distribution.
type DistributionAttrs struct {
	DomainName string `json:"domain_name"`
	Enabled    bool   `json:"enabled"`
	Origin     string `json:"origin,omitempty"`
}

// NetworkAttrs describes a virtual network.
type NetworkAttrs struct {
	CIDR      string `json:"cidr"`
	IsDefault bool   `json:"is_default"`
}

func (ServiceAttrs) Family() Family      { return FamilyService }
func (DatabaseAttrs) Family() Family     { return FamilyDatabase }
func (CacheAttrs) Family() Family        { return FamilyCache }
func (InstanceAttrs) Family() Family     { return FamilyInstance }
func (BucketAttrs) Family() Family       { return FamilyBucket }
func (LoadBalancerAttrs) Family() Family { return FamilyLoadBalancer }
func (DistributionAttrs) Family() Family { return FamilyDistribution }
func (NetworkAttrs) Family() Family      { return FamilyNetwork }

func (ServiceAttrs) sealed()      {}
func (DatabaseAttrs) sealed()     {}
func (CacheAttrs) sealed()        {}
func (InstanceAttrs) sealed()     {}
func (BucketAttrs) sealed()       {}
func (LoadBalancerAttrs) sealed() {}
func (DistributionAttrs) sealed() {}
func (NetworkAttrs) sealed()      {}

// EncodeAttributes encodes a as a JSON object whose first key is "family".
// DecodeAttributes accepts the result.
func EncodeAttributes(a Attributes) ([]byte, error) {
	fields, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	family, err := json.Marshal(a.Family())
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(`{"family":`)
	buf.Write(family)
	if len(fields) > 2 {
		buf.WriteByte(',')
		buf.Write(fields[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// DecodeAttributes decodes raw JSON into the variant owned by family.
func DecodeAttributes(family Family, raw []byte) (Attributes, error) {
	switch family {
	case FamilyService:
		return decodeAs[ServiceAttrs](raw)
	case FamilyDatabase:
		return decodeAs[DatabaseAttrs](raw)
	case FamilyCache:
		return decodeAs[CacheAttrs](raw)
	case FamilyInstance:
		return decodeAs[InstanceAttrs](raw)
	case FamilyBucket:
		return decodeAs[BucketAttrs](raw)
	case FamilyLoadBalancer:
		return decodeAs[LoadBalancerAttrs](raw)
	case FamilyDistribution:
		return decodeAs[DistributionAttrs](raw)
	case FamilyNetwork:
		return decodeAs[NetworkAttrs](raw)
	default:
		return nil, ErrUnsupportedFamily
	}
}

func decodeAs[T Attributes](raw []byte) (Attributes, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
