package catalog

import (
	"context"
	"fmt"

	"github.com/platinummonkey/restaurant-iam/pkg/iam"
)

// Notifier is told when the catalog has been rewritten. *iam.Service
// satisfies it through CatalogChanged.
type Notifier interface {
	CatalogChanged(ctx context.Context, summary map[string]interface{}) error
}

// Summary counts what a seed run wrote
type Summary struct {
	Modules    int `json:"modules"`
	Submodules int `json:"submodules"`
	Features   int `json:"features"`
	Actions    int `json:"actions"`
}

func (s Summary) payload(source string) map[string]interface{} {
	return map[string]interface{}{
		"source":     source,
		"modules":    s.Modules,
		"submodules": s.Submodules,
		"features":   s.Features,
		"actions":    s.Actions,
	}
}

// Seeder upserts a catalog definition by key
type Seeder struct {
	writer   iam.CatalogWriter
	notifier Notifier
}

// NewSeeder creates a seeder. A nil notifier skips cache invalidation.
func NewSeeder(writer iam.CatalogWriter, notifier Notifier) *Seeder {
	return &Seeder{writer: writer, notifier: notifier}
}

// Seed writes actions first, then each module followed by its submodules and
// features. Existing entries keep their ids. Entries absent from def are left
// in place. source is recorded in the audit payload.
func (s *Seeder) Seed(ctx context.Context, def *Definition, source string) (Summary, error) {
	var summary Summary

	for _, ad := range def.Actions {
		action := iam.Action{ID: ad.ID, Key: ad.Key}
		if err := s.writer.UpsertAction(ctx, &action); err != nil {
			return summary, fmt.Errorf("failed to upsert action %q: %w", ad.Key, err)
		}
		summary.Actions++
	}

	for _, md := range def.Modules {
		module := iam.Module{Key: md.Key, Name: md.Name, SortOrder: md.SortOrder}
		if err := s.writer.UpsertModule(ctx, &module); err != nil {
			return summary, fmt.Errorf("failed to upsert module %q: %w", md.Key, err)
		}
		summary.Modules++

		for _, sd := range md.Submodules {
			submodule := iam.Submodule{ModuleID: module.ID, Key: sd.Key, Name: sd.Name, SortOrder: sd.SortOrder}
			if err := s.writer.UpsertSubmodule(ctx, &submodule); err != nil {
				return summary, fmt.Errorf("failed to upsert submodule %q: %w", sd.Key, err)
			}
			summary.Submodules++

			for _, fd := range sd.Features {
				feature := iam.Feature{SubmoduleID: submodule.ID, Key: fd.Key, Name: fd.Name, SortOrder: fd.SortOrder}
				if err := s.writer.UpsertFeature(ctx, &feature); err != nil {
					return summary, fmt.Errorf("failed to upsert feature %q: %w", fd.Key, err)
				}
				summary.Features++
			}
		}
	}

	if s.notifier != nil {
		if err := s.notifier.CatalogChanged(ctx, summary.payload(source)); err != nil {
			return summary, fmt.Errorf("catalog seeded but cache invalidation failed: %w", err)
		}
	}

	return summary, nil
}

// SeedFile loads path and seeds it
func (s *Seeder) SeedFile(ctx context.Context, path string) (Summary, error) {
	def, err := LoadDefinition(path)
	if err != nil {
		return Summary{}, err
	}
	return s.Seed(ctx, def, path)
}
