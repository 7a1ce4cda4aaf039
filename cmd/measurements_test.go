package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sim "github.com/hydronet-sim/hydronet-sim/sim"
)

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "measurements.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMeasurements_ParsesRows(t *testing.T) {
	path := writeTempCSV(t, "entity,name,timestep,field,value\n"+
		"node,J1,0,pressure,42.5\n"+
		"link,P1,3,flowrate,0.012\n")

	ms, err := LoadMeasurements(path)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, sim.Measurement{Entity: "node", Name: "J1", Timestep: 0, Field: "pressure", Value: 42.5}, ms[0])
	assert.Equal(t, sim.Measurement{Entity: "link", Name: "P1", Timestep: 3, Field: "flowrate", Value: 0.012}, ms[1])
}

func TestLoadMeasurements_NormalizesCase(t *testing.T) {
	path := writeTempCSV(t, "Entity,Name,Timestep,Field,Value\n"+
		"Node,J1,0,Pressure,1.0\n")

	ms, err := LoadMeasurements(path)
	require.NoError(t, err)
	assert.Equal(t, "node", ms[0].Entity)
	assert.Equal(t, "pressure", ms[0].Field)
	assert.Equal(t, "J1", ms[0].Name) // names keep their case
}

func TestLoadMeasurements_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"no rows", "entity,name,timestep,field,value\n", "empty or missing header"},
		{"wrong header", "who,name,timestep,field,value\nnode,J1,0,head,1\n", "column 1"},
		{"bad timestep", "entity,name,timestep,field,value\nnode,J1,soon,head,1\n", "row 2: invalid timestep"},
		{"bad value", "entity,name,timestep,field,value\nnode,J1,0,head,tall\n", "row 2: invalid value"},
		{"bad entity", "entity,name,timestep,field,value\nvalve,V1,0,head,1\n", "entity must be node or link"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadMeasurements(writeTempCSV(t, tt.content))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadMeasurements_MissingFile(t *testing.T) {
	_, err := LoadMeasurements(filepath.Join(t.TempDir(), "absent.csv"))
	assert.ErrorContains(t, err, "open measurements CSV")
}
