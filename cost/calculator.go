// Package cost estimates daily spend per resource from size attributes.
// Estimates depend on size only, never on status, and never decrease as a
// size attribute grows.
package cost

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/yairfalse/cirrus/pkg/resource"
)

// DaysPerMonth converts daily to monthly totals.
const DaysPerMonth = 30

// Hourly base rates in USD.
const (
	serviceTaskHourly   = 0.05
	databaseUnitHourly  = 0.05
	databaseStorageGBMo = 0.115
	cacheNodeUnitHourly = 0.0375
	instanceUnitHourly  = 0.025
	loadBalancerHourly  = 0.025
	distributionHourly  = 0.01
	bucketHourly        = 0.005
)

// RateFunc returns the estimated daily cost of one resource in USD.
type RateFunc func(r resource.Resource) float64

// Calculator holds one rate function per family.
type Calculator struct {
	mu    sync.RWMutex
	rates map[resource.Family]RateFunc
}

// NewCalculator creates a calculator with the default family rates.
func NewCalculator() *Calculator {
	c := &Calculator{rates: make(map[resource.Family]RateFunc)}
	c.Register(resource.FamilyService, serviceRate)
	c.Register(resource.FamilyDatabase, databaseRate)
	c.Register(resource.FamilyCache, cacheRate)
	c.Register(resource.FamilyInstance, instanceRate)
	c.Register(resource.FamilyLoadBalancer, flatRate(loadBalancerHourly))
	c.Register(resource.FamilyDistribution, flatRate(distributionHourly))
	c.Register(resource.FamilyBucket, flatRate(bucketHourly))
	c.Register(resource.FamilyNetwork, flatRate(0))
	return c
}

// Register sets the rate function for a family.
func (c *Calculator) Register(family resource.Family, fn RateFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates[family] = fn
}

// Daily returns the estimated daily cost. Unknown families cost zero.
func (c *Calculator) Daily(r resource.Resource) float64 {
	c.mu.RLock()
	fn, ok := c.rates[r.Family]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	return fn(r)
}

// ResourceCost is one line of the breakdown.
type ResourceCost struct {
	Target     resource.Key    `json:"target"`
	Name       string          `json:"name"`
	Family     resource.Family `json:"family"`
	DailyUSD   float64         `json:"daily_usd"`
	MonthlyUSD float64         `json:"monthly_usd"`
}

// Analysis is the cost rollup over a resource set.
type Analysis struct {
	DailyTotal   float64                     `json:"daily_total"`
	MonthlyTotal float64                     `json:"monthly_total"`
	PerResource  []ResourceCost              `json:"per_resource"`
	PerFamily    map[resource.Family]float64 `json:"per_family"`
}

// Analyze computes totals and a per-resource breakdown, most expensive first.
func (c *Calculator) Analyze(resources []resource.Resource) Analysis {
	a := Analysis{
		PerResource: make([]ResourceCost, 0, len(resources)),
		PerFamily:   make(map[resource.Family]float64),
	}

	var daily float64
	for _, r := range resources {
		d := c.Daily(r)
		daily += d
		a.PerFamily[r.Family] = round(a.PerFamily[r.Family] + d)
		a.PerResource = append(a.PerResource, ResourceCost{
			Target:     r.Key(),
			Name:       r.DisplayName(),
			Family:     r.Family,
			DailyUSD:   round(d),
			MonthlyUSD: round(d * DaysPerMonth),
		})
	}

	sort.SliceStable(a.PerResource, func(i, j int) bool {
		return a.PerResource[i].DailyUSD > a.PerResource[j].DailyUSD
	})

	a.DailyTotal = round(daily)
	a.MonthlyTotal = round(daily * DaysPerMonth)
	return a
}

func serviceRate(r resource.Resource) float64 {
	attrs, _ := r.Attrs.(resource.ServiceAttrs)
	return float64(max(attrs.DesiredCount, 0)) * serviceTaskHourly * 24
}

func databaseRate(r resource.Resource) float64 {
	attrs, _ := r.Attrs.(resource.DatabaseAttrs)
	compute := databaseUnitHourly * SizeFactor(attrs.InstanceClass) * 24
	if attrs.MultiAZ {
		compute *= 2
	}
	storage := float64(max(attrs.AllocatedStorageGB, 0)) * databaseStorageGBMo / DaysPerMonth
	return compute + storage
}

func cacheRate(r resource.Resource) float64 {
	attrs, _ := r.Attrs.(resource.CacheAttrs)
	nodes := max(attrs.NumNodes, 1)
	return cacheNodeUnitHourly * SizeFactor(attrs.NodeType) * float64(nodes) * 24
}

func instanceRate(r resource.Resource) float64 {
	attrs, _ := r.Attrs.(resource.InstanceAttrs)
	return instanceUnitHourly * SizeFactor(attrs.InstanceType) * 24
}

func flatRate(hourly float64) RateFunc {
	return func(resource.Resource) float64 { return hourly * 24 }
}

var sizeLadder = map[string]float64{
	"nano":   0.25,
	"micro":  0.5,
	"small":  1,
	"medium": 2,
	"large":  4,
	"xlarge": 8,
	"metal":  192,
}

// SizeFactor maps the size suffix of an instance class or node type
// ("db.r6g.large", "cache.t3.micro", "m5.4xlarge") to a relative weight.
// Unknown or empty sizes weigh 1.
func SizeFactor(class string) float64 {
	class = strings.ToLower(strings.TrimSpace(class))
	if class == "" {
		return 1
	}
	size := class
	if i := strings.LastIndex(class, "."); i >= 0 {
		size = class[i+1:]
	}
	if f, ok := sizeLadder[size]; ok {
		return f
	}
	if n, ok := strings.CutSuffix(size, "xlarge"); ok {
		if mult, err := strconv.Atoi(n); err == nil && mult > 0 {
			return sizeLadder["xlarge"] * float64(mult)
		}
	}
	return 1
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
