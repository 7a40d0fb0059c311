// Command cubeopt searches dimension orderings of a cube for the fastest one.
package main

import (
	"os"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/mattn/go-sqlite3"

	"cubeopt/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
