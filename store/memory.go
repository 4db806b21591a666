package store

import (
	"context"
	"sync"

	"acorle/registry"
)

// Memory implements Store with plain maps behind one RWMutex. It backs
// tests and single-node deployments that do not want an etcd cluster.
type Memory struct {
	mu            sync.RWMutex
	zones         map[string]registry.Zone
	services      map[string]map[string]registry.Service // zone → hash → row
	loadBalancers map[string]map[string]registry.LoadBalancerAssignment
	configs       map[string]map[string]registry.ServiceConfig
}

func NewMemory() *Memory {
	return &Memory{
		zones:         make(map[string]registry.Zone),
		services:      make(map[string]map[string]registry.Service),
		loadBalancers: make(map[string]map[string]registry.LoadBalancerAssignment),
		configs:       make(map[string]map[string]registry.ServiceConfig),
	}
}

func (s *Memory) Zones(ctx context.Context) ([]registry.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	zones := make([]registry.Zone, 0, len(s.zones))
	for _, zone := range s.zones {
		zones = append(zones, zone)
	}
	return zones, nil
}

func (s *Memory) GetZone(ctx context.Context, key string) (*registry.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	zone, ok := s.zones[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &zone, nil
}

// PutZone installs a zone row. Provisioning/test helper.
func (s *Memory) PutZone(ctx context.Context, zone registry.Zone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zones[zone.Key] = zone
	return nil
}

// DeleteZone removes a zone row. Provisioning/test helper.
func (s *Memory) DeleteZone(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.zones, key)
	return nil
}

func (s *Memory) ServicesByZone(ctx context.Context, zone string) ([]registry.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.services[zone]
	services := make([]registry.Service, 0, len(rows))
	for _, service := range rows {
		services = append(services, service)
	}
	return services, nil
}

func (s *Memory) PutService(ctx context.Context, service registry.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.services[service.Zone]
	if !ok {
		rows = make(map[string]registry.Service)
		s.services[service.Zone] = rows
	}
	rows[service.Hash] = service
	return nil
}

func (s *Memory) DeleteService(ctx context.Context, zone, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.services[zone]
	if !ok {
		return false, nil
	}
	if _, ok := rows[hash]; !ok {
		return false, nil
	}
	delete(rows, hash)
	return true, nil
}

func (s *Memory) LoadBalancers(ctx context.Context) ([]registry.LoadBalancerAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var assignments []registry.LoadBalancerAssignment
	for _, rows := range s.loadBalancers {
		for _, assignment := range rows {
			assignments = append(assignments, assignment)
		}
	}
	return assignments, nil
}

// PutLoadBalancer installs a strategy assignment. Provisioning/test helper.
func (s *Memory) PutLoadBalancer(ctx context.Context, assignment registry.LoadBalancerAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.loadBalancers[assignment.Zone]
	if !ok {
		rows = make(map[string]registry.LoadBalancerAssignment)
		s.loadBalancers[assignment.Zone] = rows
	}
	rows[assignment.Service] = assignment
	return nil
}

func (s *Memory) GetConfig(ctx context.Context, zone, key string) (*registry.ServiceConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	config, ok := s.configs[zone][key]
	if !ok {
		return nil, ErrNotFound
	}
	return &config, nil
}

func (s *Memory) PutConfig(ctx context.Context, config registry.ServiceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.configs[config.Zone]
	if !ok {
		rows = make(map[string]registry.ServiceConfig)
		s.configs[config.Zone] = rows
	}
	rows[config.Key] = config
	return nil
}

func (s *Memory) DeleteConfig(ctx context.Context, zone, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs[zone], key)
	return nil
}
