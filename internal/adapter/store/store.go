package store

import "go.ngs.io/wxgrid/internal/domain"

// FieldStore persists fields between pipeline stages.
type FieldStore interface {
	// ReadField loads a variable; an empty name selects the file's own
	// variable.
	ReadField(path, variable string) (*domain.FieldDataset, error)

	// ReadGrid loads only the grid of a stored field.
	ReadGrid(path string) (*domain.GridDefinition, error)

	// WriteField writes a field, replacing any existing file.
	WriteField(path string, f *domain.FieldDataset) error
}
