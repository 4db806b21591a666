// etcd-backed Store. The four collections map onto key prefixes:
//
//	/acorle/zone/{zoneKey}                → JSON registry.Zone
//	/acorle/service/{zoneKey}/{hash}      → JSON registry.Service
//	/acorle/lb/{zoneKey}/{serviceKey}     → JSON registry.LoadBalancerAssignment
//	/acorle/config/{zoneKey}/{configKey}  → JSON registry.ServiceConfig
//
// Unlike a TTL-lease design, candidate expiry lives inside the value: the
// gateway stamps ExpireTime on registration and the sync loop sweeps expired
// rows out of memory. The persisted row outliving its ExpireTime is
// harmless; it is invisible to every load balancer.
package store

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"

	"acorle/registry"
)

const (
	zonePrefix    = "/acorle/zone/"
	servicePrefix = "/acorle/service/"
	lbPrefix      = "/acorle/lb/"
	configPrefix  = "/acorle/config/"
)

// Etcd implements Store on an etcd v3 cluster.
type Etcd struct {
	client *clientv3.Client // thread-safe, shared across goroutines
}

// NewEtcd connects to the given endpoints.
func NewEtcd(endpoints []string) (*Etcd, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &Etcd{client: c}, nil
}

// Close releases the client connection.
func (s *Etcd) Close() error {
	return s.client.Close()
}

func (s *Etcd) Zones(ctx context.Context) ([]registry.Zone, error) {
	resp, err := s.client.Get(ctx, zonePrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	zones := make([]registry.Zone, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var zone registry.Zone
		if err := json.Unmarshal(kv.Value, &zone); err != nil {
			continue // skip malformed entries
		}
		zones = append(zones, zone)
	}
	return zones, nil
}

func (s *Etcd) GetZone(ctx context.Context, key string) (*registry.Zone, error) {
	resp, err := s.client.Get(ctx, zonePrefix+key)
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	var zone registry.Zone
	if err := json.Unmarshal(resp.Kvs[0].Value, &zone); err != nil {
		return nil, err
	}
	return &zone, nil
}

// PutZone writes a zone row. The gateway itself never calls this; it exists
// for provisioning tools and tests.
func (s *Etcd) PutZone(ctx context.Context, zone registry.Zone) error {
	val, err := json.Marshal(zone)
	if err != nil {
		return err
	}
	_, err = s.client.Put(ctx, zonePrefix+zone.Key, string(val))
	return err
}

func (s *Etcd) ServicesByZone(ctx context.Context, zone string) ([]registry.Service, error) {
	resp, err := s.client.Get(ctx, servicePrefix+zone+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	services := make([]registry.Service, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var service registry.Service
		if err := json.Unmarshal(kv.Value, &service); err != nil {
			continue
		}
		services = append(services, service)
	}
	return services, nil
}

func (s *Etcd) PutService(ctx context.Context, service registry.Service) error {
	val, err := json.Marshal(service)
	if err != nil {
		return err
	}
	_, err = s.client.Put(ctx, servicePrefix+service.Zone+"/"+service.Hash, string(val))
	return err
}

func (s *Etcd) DeleteService(ctx context.Context, zone, hash string) (bool, error) {
	resp, err := s.client.Delete(ctx, servicePrefix+zone+"/"+hash)
	if err != nil {
		return false, err
	}
	return resp.Deleted > 0, nil
}

func (s *Etcd) LoadBalancers(ctx context.Context) ([]registry.LoadBalancerAssignment, error) {
	resp, err := s.client.Get(ctx, lbPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	assignments := make([]registry.LoadBalancerAssignment, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var assignment registry.LoadBalancerAssignment
		if err := json.Unmarshal(kv.Value, &assignment); err != nil {
			continue
		}
		assignments = append(assignments, assignment)
	}
	return assignments, nil
}

// PutLoadBalancer writes a strategy assignment. Provisioning/test helper,
// like PutZone.
func (s *Etcd) PutLoadBalancer(ctx context.Context, assignment registry.LoadBalancerAssignment) error {
	val, err := json.Marshal(assignment)
	if err != nil {
		return err
	}
	_, err = s.client.Put(ctx, lbPrefix+assignment.Zone+"/"+assignment.Service, string(val))
	return err
}

func (s *Etcd) GetConfig(ctx context.Context, zone, key string) (*registry.ServiceConfig, error) {
	resp, err := s.client.Get(ctx, configPrefix+zone+"/"+key)
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	var config registry.ServiceConfig
	if err := json.Unmarshal(resp.Kvs[0].Value, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func (s *Etcd) PutConfig(ctx context.Context, config registry.ServiceConfig) error {
	val, err := json.Marshal(config)
	if err != nil {
		return err
	}
	_, err = s.client.Put(ctx, configPrefix+config.Zone+"/"+config.Key, string(val))
	return err
}

func (s *Etcd) DeleteConfig(ctx context.Context, zone, key string) error {
	_, err := s.client.Delete(ctx, configPrefix+zone+"/"+key)
	return err
}
