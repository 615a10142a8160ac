package geo

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Region is the platform's expected operating area. Positions outside it are
// accepted but flagged.
type Region struct {
	Name   string  `yaml:"name"`
	MinLon float64 `yaml:"min_lon"`
	MinLat float64 `yaml:"min_lat"`
	MaxLon float64 `yaml:"max_lon"`
	MaxLat float64 `yaml:"max_lat"`
}

// DefaultRegion covers Côte d'Ivoire, the platform's launch market.
var DefaultRegion = Region{
	Name:   "CI",
	MinLon: -8.6,
	MinLat: 4.3,
	MaxLon: -2.5,
	MaxLat: 10.8,
}

// Box returns the region as a search rectangle.
func (r Region) Box() Box {
	return Box{MinLon: r.MinLon, MinLat: r.MinLat, MaxLon: r.MaxLon, MaxLat: r.MaxLat}
}

// Contains reports whether p lies inside the region.
func (r Region) Contains(p Point) bool {
	return r.Box().Contains(p)
}

// Validate checks the corners are valid coordinates and ordered.
func (r Region) Validate() error {
	var errs []error
	if err := (Point{Lon: r.MinLon, Lat: r.MinLat}).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("region %q min corner: %w", r.Name, err))
	}
	if err := (Point{Lon: r.MaxLon, Lat: r.MaxLat}).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("region %q max corner: %w", r.Name, err))
	}
	if r.MinLon > r.MaxLon || r.MinLat > r.MaxLat {
		errs = append(errs, fmt.Errorf("region %q: min corner must not exceed max corner", r.Name))
	}
	return errors.Join(errs...)
}

// LoadRegion reads a YAML region definition. An empty path yields DefaultRegion.
func LoadRegion(path string) (Region, error) {
	if path == "" {
		return DefaultRegion, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Region{}, fmt.Errorf("read region file: %w", err)
	}
	var r Region
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Region{}, fmt.Errorf("parse region file: %w", err)
	}
	if err := r.Validate(); err != nil {
		return Region{}, err
	}
	return r, nil
}
