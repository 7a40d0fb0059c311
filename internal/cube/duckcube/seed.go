package duckcube

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed describes the cubes, views and processes to create in a fresh backend.
//
//	cubes:
//	  - name: Sales
//	    cells: 200000
//	    seed: 0.42
//	    dimensions:
//	      - {name: Year, members: 5}
//	      - {name: Product, members: 2000, skew: 3}
//	    views:
//	      - name: Default
//	        rows: [Product]
//	        filters: {Year: Year_0}
//	processes:
//	  - name: refresh
//	    statement: CREATE OR REPLACE TABLE t AS SELECT 1
type Seed struct {
	Cubes     []SeedCube    `yaml:"cubes"`
	Processes []SeedProcess `yaml:"processes"`
}

// SeedCube is one cube of a Seed.
type SeedCube struct {
	Name       string          `yaml:"name"`
	Cells      int64           `yaml:"cells"`
	Seed       float64         `yaml:"seed"`
	Dimensions []SeedDimension `yaml:"dimensions"`
	Views      []SeedView      `yaml:"views"`
}

// SeedDimension is one generated dimension.
type SeedDimension struct {
	Name    string  `yaml:"name"`
	Members int     `yaml:"members"`
	Skew    float64 `yaml:"skew"`
}

// SeedView is one stored view.
type SeedView struct {
	Name    string            `yaml:"name"`
	Rows    []string          `yaml:"rows"`
	Filters map[string]string `yaml:"filters"`
}

// SeedProcess is one stored process.
type SeedProcess struct {
	Name      string `yaml:"name"`
	Statement string `yaml:"statement"`
}

// DemoSeed is the cube the simulator creates when no seed file is given.
func DemoSeed() *Seed {
	return &Seed{
		Cubes: []SeedCube{{
			Name:  "Sales",
			Cells: 200_000,
			Seed:  0.42,
			Dimensions: []SeedDimension{
				{Name: "Version", Members: 2},
				{Name: "Year", Members: 5},
				{Name: "Month", Members: 12},
				{Name: "Region", Members: 60, Skew: 2},
				{Name: "Product", Members: 2000, Skew: 3},
			},
			Views: []SeedView{
				{Name: "Default", Rows: []string{"Product"}, Filters: map[string]string{"Version": "Version_0", "Year": "Year_0"}},
				{Name: "ByRegion", Rows: []string{"Region", "Month"}},
			},
		}},
		Processes: []SeedProcess{{
			Name:      "refresh_region_totals",
			Statement: `CREATE OR REPLACE TABLE region_totals AS SELECT "Region", sum(cell_value) AS total FROM facts."Sales" GROUP BY 1`,
		}},
	}
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &s, nil
}

// Apply creates everything in s, replacing cubes, views and processes of the same names.
func (c *Cube) Apply(ctx context.Context, s *Seed) error {
	for _, sc := range s.Cubes {
		def := CubeDef{Name: sc.Name, Cells: sc.Cells, Seed: sc.Seed}
		for _, d := range sc.Dimensions {
			def.Dimensions = append(def.Dimensions, DimensionDef(d))
		}
		if err := c.CreateCube(ctx, def); err != nil {
			return err
		}
		for _, v := range sc.Views {
			if err := c.DefineView(ctx, sc.Name, ViewDef(v)); err != nil {
				return err
			}
		}
	}
	for _, p := range s.Processes {
		if err := c.DefineProcess(ctx, p.Name, p.Statement); err != nil {
			return err
		}
	}
	return nil
}
