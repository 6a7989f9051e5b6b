package monitor

import (
	"time"

	"github.com/zsiec/network-monitor/internal/metrics"
	"github.com/zsiec/network-monitor/internal/network"
)

// pathKey pins a cached path to the network instance it was computed on, so
// a query racing a swap can never publish a path for the wrong network.
type pathKey struct {
	network  *network.TransportNetwork
	revision uint64
	from, to string
}

// FastestPath answers from the cache when the network has not changed
// since the path was computed. Failed lookups are not cached.
func (m *Monitor) FastestPath(from, to string) (network.Path, error) {
	nw, err := m.current()
	if err != nil {
		return network.Path{}, err
	}
	return m.fastestPathOn(nw, from, to)
}

func (m *Monitor) fastestPathOn(nw *network.TransportNetwork, from, to string) (network.Path, error) {
	key := pathKey{network: nw, revision: nw.Revision(), from: from, to: to}
	if path, ok := m.paths.Get(key); ok {
		metrics.RecordPathCache(true)
		return path, nil
	}
	metrics.RecordPathCache(false)

	start := time.Now()
	path, err := nw.FastestPath(from, to)
	metrics.RecordPathCompute(time.Since(start))
	if err != nil {
		return network.Path{}, err
	}

	m.paths.Add(key, path)
	return path, nil
}

// PathCacheLen is the number of cached paths.
func (m *Monitor) PathCacheLen() int {
	return m.paths.Len()
}
