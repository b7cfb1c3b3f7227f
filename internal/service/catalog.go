package service

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CatalogEntry is one product known to the vote core. The catalog service
// owns products; this seed exists for local runs and the memory store.
type CatalogEntry struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ProductUpserter registers a product id so votes can reference it.
type ProductUpserter interface {
	Upsert(ctx context.Context, id, name string) error
}

// LoadCatalog reads a YAML list of products. An empty path yields nothing.
func LoadCatalog(path string) ([]CatalogEntry, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var doc struct {
		Products []CatalogEntry `yaml:"products"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for i, p := range doc.Products {
		if p.ID == "" {
			return nil, fmt.Errorf("catalog entry %d: id is required", i)
		}
	}
	return doc.Products, nil
}

// SeedCatalog upserts every entry.
func SeedCatalog(ctx context.Context, dst ProductUpserter, entries []CatalogEntry) error {
	for _, p := range entries {
		if err := dst.Upsert(ctx, p.ID, p.Name); err != nil {
			return fmt.Errorf("seed %s: %w", p.ID, err)
		}
	}
	return nil
}
