package network

import "fmt"

// Layout is the network layout document: every station, every line with
// its routes, and the travel time between adjacent stations.
type Layout struct {
	Stations    []Station    `json:"stations"`
	Lines       []Line       `json:"lines"`
	TravelTimes []TravelTime `json:"travel_times"`
}

// TravelTime is one entry of the layout's travel time table.
type TravelTime struct {
	StartStationID string `json:"start_station_id"`
	EndStationID   string `json:"end_station_id"`
	TravelTime     uint   `json:"travel_time"`
}

// FromLayout populates an empty network from a layout: stations first, then
// lines, then travel times. It stops at the first failure.
func (n *TransportNetwork) FromLayout(layout *Layout) error {
	if n.Stats().Stations > 0 {
		return ErrNotEmpty
	}

	for _, st := range layout.Stations {
		if err := n.AddStation(st); err != nil {
			return fmt.Errorf("layout station: %w", err)
		}
	}
	for _, line := range layout.Lines {
		// Routes in the document may leave line_id implied by their parent.
		line.Routes = append([]Route(nil), line.Routes...)
		for i := range line.Routes {
			if line.Routes[i].LineID == "" {
				line.Routes[i].LineID = line.ID
			}
		}
		if err := n.AddLine(line); err != nil {
			return fmt.Errorf("layout line %s: %w", line.ID, err)
		}
	}
	for _, tt := range layout.TravelTimes {
		if err := n.SetTravelTime(tt.StartStationID, tt.EndStationID, tt.TravelTime); err != nil {
			return fmt.Errorf("layout travel time: %w", err)
		}
	}
	return nil
}

// NewFromLayout builds a network from a layout.
func NewFromLayout(layout *Layout) (*TransportNetwork, error) {
	n := New()
	if err := n.FromLayout(layout); err != nil {
		return nil, err
	}
	return n, nil
}
