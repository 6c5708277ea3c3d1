// Package status maps native provider status strings to the canonical
// resource.Status. Every mapper is total: unknown input maps to StatusError.
package status

import (
	"strings"

	"github.com/yairfalse/cirrus/pkg/resource"
)

// Mapper maps one family's native vocabulary to canonical status.
type Mapper func(native string) resource.Status

var mappers = map[resource.Family]Mapper{
	resource.FamilyService:      Service,
	resource.FamilyDatabase:     Database,
	resource.FamilyCache:        Cache,
	resource.FamilyInstance:     Instance,
	resource.FamilyBucket:       Bucket,
	resource.FamilyLoadBalancer: LoadBalancer,
	resource.FamilyDistribution: Distribution,
	resource.FamilyNetwork:      Network,
}

// Map dispatches to the family's mapper. Unknown families map to StatusError.
func Map(family resource.Family, native string) resource.Status {
	m, ok := mappers[family]
	if !ok {
		return resource.StatusError
	}
	return m(native)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Service maps container service statuses (ACTIVE, DRAINING, INACTIVE).
func Service(native string) resource.Status {
	switch normalize(native) {
	case "active":
		return resource.StatusRunning
	case "inactive":
		return resource.StatusStopped
	case "draining":
		return resource.StatusPending
	}
	return resource.StatusError
}

// Database maps managed database instance statuses.
func Database(native string) resource.Status {
	s := normalize(native)
	switch s {
	case "available":
		return resource.StatusRunning
	case "stopped":
		return resource.StatusStopped
	case "creating", "modifying", "backing-up", "starting", "stopping", "rebooting",
		"upgrading", "renaming", "maintenance", "resetting-master-credentials",
		"storage-optimization", "moving-to-vpc", "converting-to-vpc":
		return resource.StatusPending
	case "storage-full", "inaccessible-encryption-credentials":
		return resource.StatusUnavailable
	}
	switch {
	case strings.HasPrefix(s, "configuring-"):
		return resource.StatusPending
	case strings.HasPrefix(s, "incompatible-"), strings.HasPrefix(s, "inaccessible-"):
		return resource.StatusUnavailable
	}
	return resource.StatusError
}

// Cache maps cache cluster statuses.
func Cache(native string) resource.Status {
	switch normalize(native) {
	case "available":
		return resource.StatusRunning
	case "creating", "modifying", "rebooting cluster nodes", "snapshotting":
		return resource.StatusPending
	case "incompatible-network", "restore-failed":
		return resource.StatusUnavailable
	}
	return resource.StatusError
}

// Instance maps virtual machine states.
func Instance(native string) resource.Status {
	switch normalize(native) {
	case "running":
		return resource.StatusRunning
	case "stopped":
		return resource.StatusStopped
	case "pending", "stopping", "rebooting", "shutting-down":
		return resource.StatusPending
	case "terminated":
		return resource.StatusUnavailable
	}
	return resource.StatusError
}

// Bucket maps object store availability.
func Bucket(native string) resource.Status {
	if normalize(native) == "available" {
		return resource.StatusAvailable
	}
	return resource.StatusError
}

// LoadBalancer maps load balancer state codes.
func LoadBalancer(native string) resource.Status {
	switch normalize(native) {
	case "active":
		return resource.StatusRunning
	case "provisioning":
		return resource.StatusPending
	case "active_impaired", "failed":
		return resource.StatusUnavailable
	}
	return resource.StatusError
}

// Distribution maps CDN distribution statuses. Adapters report "Disabled"
// for distributions that are not enabled.
func Distribution(native string) resource.Status {
	switch normalize(native) {
	case "deployed":
		return resource.StatusRunning
	case "inprogress":
		return resource.StatusPending
	case "disabled":
		return resource.StatusStopped
	}
	return resource.StatusError
}

// Network maps virtual network states.
func Network(native string) resource.Status {
	switch normalize(native) {
	case "available":
		return resource.StatusAvailable
	case "pending":
		return resource.StatusPending
	}
	return resource.StatusError
}
