package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	sim "github.com/hydronet-sim/hydronet-sim/sim"
)

// LoadMeasurements parses a calibration measurement CSV with the columns
// entity,name,timestep,field,value. entity is "node" or "link"; field is
// one of head, pressure, demand, flowrate.
func LoadMeasurements(path string) ([]sim.Measurement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open measurements CSV: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read measurements CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("measurements CSV empty or missing header")
	}

	header := records[0]
	want := []string{"entity", "name", "timestep", "field", "value"}
	if len(header) != len(want) {
		return nil, fmt.Errorf("measurements CSV: expected columns %v", want)
	}
	for i, col := range want {
		if strings.TrimSpace(strings.ToLower(header[i])) != col {
			return nil, fmt.Errorf("measurements CSV: column %d is %q, want %q", i+1, header[i], col)
		}
	}

	measurements := make([]sim.Measurement, 0, len(records)-1)
	for i, row := range records[1:] {
		if len(row) != len(want) {
			return nil, fmt.Errorf("measurements CSV row %d: expected %d columns", i+2, len(want))
		}
		timestep, err := strconv.Atoi(strings.TrimSpace(row[2]))
		if err != nil {
			return nil, fmt.Errorf("measurements CSV row %d: invalid timestep: %w", i+2, err)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(row[4]), 64)
		if err != nil {
			return nil, fmt.Errorf("measurements CSV row %d: invalid value: %w", i+2, err)
		}
		entity := strings.TrimSpace(strings.ToLower(row[0]))
		if entity != "node" && entity != "link" {
			return nil, fmt.Errorf("measurements CSV row %d: entity must be node or link, got %q", i+2, row[0])
		}
		measurements = append(measurements, sim.Measurement{
			Entity:   entity,
			Name:     strings.TrimSpace(row[1]),
			Timestep: timestep,
			Field:    strings.TrimSpace(strings.ToLower(row[3])),
			Value:    value,
		})
	}
	return measurements, nil
}
