package network

import (
	"container/heap"
	"fmt"
)

// FastestPath returns the path from one station to another with the lowest
// total travel time, following routes in their direction of travel. Ties
// are broken by station ID so results are stable.
func (n *TransportNetwork) FastestPath(from, to string) (Path, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	start, ok := n.stations[from]
	if !ok {
		return Path{}, fmt.Errorf("%w: %s", ErrStationNotFound, from)
	}
	goal, ok := n.stations[to]
	if !ok {
		return Path{}, fmt.Errorf("%w: %s", ErrStationNotFound, to)
	}
	if start == goal {
		return Path{Steps: []PathStep{{StationID: from}}}, nil
	}

	type visit struct {
		cost uint
		via  *edge
		prev *node
	}
	best := map[*node]*visit{start: {}}
	done := make(map[*node]bool, len(n.stations))

	pq := &nodeQueue{}
	heap.Push(pq, queueItem{node: start})
	for pq.Len() > 0 {
		cur := heap.Pop(pq).(queueItem)
		if done[cur.node] {
			continue
		}
		done[cur.node] = true
		if cur.node == goal {
			break
		}

		for _, e := range cur.node.edges {
			if done[e.next] {
				continue
			}
			cost := cur.cost + e.travelTime
			if v, seen := best[e.next]; seen && v.cost <= cost {
				continue
			}
			best[e.next] = &visit{cost: cost, via: e, prev: cur.node}
			heap.Push(pq, queueItem{node: e.next, cost: cost})
		}
	}

	if !done[goal] {
		return Path{}, fmt.Errorf("%w: %s to %s", ErrNoPath, from, to)
	}

	var steps []PathStep
	for cur := goal; cur != nil; {
		v := best[cur]
		step := PathStep{StationID: cur.station.ID}
		if v.via != nil {
			step.LineID = v.via.route.line.id
			step.RouteID = v.via.route.id
		}
		steps = append(steps, step)
		cur = v.prev
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}

	return Path{Steps: steps, TotalTravelTime: best[goal].cost}, nil
}

type queueItem struct {
	node *node
	cost uint
}

type nodeQueue []queueItem

func (q nodeQueue) Len() int { return len(q) }

func (q nodeQueue) Less(i, j int) bool {
	if q[i].cost != q[j].cost {
		return q[i].cost < q[j].cost
	}
	return q[i].node.station.ID < q[j].node.station.ID
}

func (q nodeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *nodeQueue) Push(x any) { *q = append(*q, x.(queueItem)) }

func (q *nodeQueue) Pop() any {
	old := *q
	item := old[len(old)-1]
	*q = old[:len(old)-1]
	return item
}
