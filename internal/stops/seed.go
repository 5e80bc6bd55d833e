package stops

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"shuttle-tracker/internal/tracking"
)

// Default returns the built-in route from the campus gate to VNR.
func Default() []tracking.Stop {
	return []tracking.Stop{
		{ID: 1, Name: "Starting Point", Lat: 17.495643, Lon: 78.335691, Sequence: 0},
		{ID: 2, Name: "Stop A", Lat: 17.495255, Lon: 78.340605, Sequence: 1},
		{ID: 3, Name: "Stop B", Lat: 17.496050, Lon: 78.358307, Sequence: 2},
		{ID: 4, Name: "Stop C", Lat: 17.496639, Lon: 78.366014, Sequence: 3},
		{ID: 5, Name: "Stop D", Lat: 17.497767, Lon: 78.377978, Sequence: 4},
		{ID: 6, Name: "Stop E", Lat: 17.498739, Lon: 78.389480, Sequence: 5},
		{ID: 7, Name: "Stop F", Lat: 17.511779, Lon: 78.384217, Sequence: 6},
		{ID: 8, Name: "Stop G", Lat: 17.528937, Lon: 78.385203, Sequence: 7},
		{ID: 9, Name: "VNR", Lat: 17.541772, Lon: 78.386868, Sequence: 8},
	}
}

type stopFile struct {
	Stops []stopEntry `yaml:"stops" validate:"required,min=1,dive"`
}

type stopEntry struct {
	ID       int     `yaml:"id" validate:"gt=0"`
	Name     string  `yaml:"name" validate:"required"`
	Lat      float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lon      float64 `yaml:"lon" validate:"gte=-180,lte=180"`
	Sequence *int    `yaml:"sequence" validate:"required,gte=0"`
}

// LoadFile reads a YAML stop list:
//
//	stops:
//	  - {id: 1, name: Starting Point, lat: 17.495643, lon: 78.335691, sequence: 0}
func LoadFile(path string) ([]tracking.Stop, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f stopFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}
	out := make([]tracking.Stop, 0, len(f.Stops))
	for _, s := range f.Stops {
		out = append(out, tracking.Stop{ID: s.ID, Name: s.Name, Lat: s.Lat, Lon: s.Lon, Sequence: *s.Sequence})
	}
	return out, nil
}
