package loadbalancer

import (
	"fmt"
	"strings"

	"github.com/WillKirkmanM/proxy/internal/config"
)

// LoadBalancerType names a supported selection algorithm.
type LoadBalancerType string

const (
	RoundRobin         LoadBalancerType = "round-robin"
	LeastConnections   LoadBalancerType = "least-connections"
	WeightedRoundRobin LoadBalancerType = "weighted-round-robin"
)

// NewLoadBalancer builds a LoadBalancer over backendConfigs using algorithm.
// Called only when a target host has more than one configured mirror; the
// single-origin default path never reaches this factory.
func NewLoadBalancer(algorithm string, backendConfigs []config.BackendConfig) (LoadBalancer, error) {
	if len(backendConfigs) == 0 {
		return nil, fmt.Errorf("no backends configured")
	}

	backends := make([]Backend, len(backendConfigs))
	for i, cfg := range backendConfigs {
		weight := cfg.Weight
		if weight <= 0 {
			weight = 1
		}

		backend, err := NewHTTPBackend(cfg.URL, weight)
		if err != nil {
			return nil, fmt.Errorf("failed to create backend %s: %w", cfg.URL, err)
		}
		backends[i] = backend
	}

	switch LoadBalancerType(strings.ToLower(algorithm)) {
	case RoundRobin:
		return NewRoundRobinBalancer(backends), nil
	case LeastConnections:
		return NewLeastConnectionsBalancer(backends), nil
	case WeightedRoundRobin:
		return NewWeightedRoundRobinBalancer(backends), nil
	default:
		return nil, fmt.Errorf("unsupported load balancing algorithm: %s", algorithm)
	}
}

// GetSupportedAlgorithms lists every algorithm name NewLoadBalancer accepts.
func GetSupportedAlgorithms() []string {
	return []string{
		string(RoundRobin),
		string(LeastConnections),
		string(WeightedRoundRobin),
	}
}
