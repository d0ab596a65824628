// Package merge defines page merging interfaces for cached sample data.
package merge

type Interface interface {
	Merge(parts [][]byte) ([]byte, error)
}
