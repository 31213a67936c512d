// Package catalog loads the location catalog from a JSON file or from
// PostgreSQL and normalizes it: water types are resolved, locations with
// unusable coordinates are dropped and duplicate ids keep their first entry.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"praiafinder/internal/geo"
	"praiafinder/internal/types"
	"praiafinder/internal/watertype"
)

// Source yields the raw catalog.
type Source interface {
	Locations(ctx context.Context) ([]types.Location, error)
}

// FileSource reads a JSON array of locations.
type FileSource struct {
	Path string
}

func (s FileSource) Locations(ctx context.Context) ([]types.Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStorage, fmt.Sprintf("failed to read catalog %s", s.Path), err)
	}
	var locs []types.Location
	if err := json.Unmarshal(data, &locs); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStorage, fmt.Sprintf("catalog %s is not a location array", s.Path), err)
	}
	return locs, nil
}

// Lister is satisfied by db.LocationRepository.
type Lister interface {
	ListAll(ctx context.Context) ([]types.Location, error)
}

// DBSource adapts a repository to Source.
type DBSource struct {
	Repo Lister
}

func (s DBSource) Locations(ctx context.Context) ([]types.Location, error) {
	return s.Repo.ListAll(ctx)
}

// Load reads src and normalizes the result.
func Load(ctx context.Context, src Source, logger *slog.Logger) ([]types.Location, error) {
	raw, err := src.Locations(ctx)
	if err != nil {
		return nil, err
	}
	return Normalize(raw, logger), nil
}

// Normalize drops unusable entries and resolves every water type.
func Normalize(raw []types.Location, logger *slog.Logger) []types.Location {
	if logger == nil {
		logger = slog.Default()
	}

	seen := make(map[string]struct{}, len(raw))
	kept := make([]types.Location, 0, len(raw))
	for _, loc := range raw {
		loc.ID = strings.TrimSpace(loc.ID)
		switch {
		case loc.ID == "":
			logger.Warn("skipping catalog entry without id", "name", loc.Name)
			continue
		case !geo.ValidLatLon(loc.Lat, loc.Lon):
			logger.Warn("skipping catalog entry with invalid coordinates", "id", loc.ID, "lat", loc.Lat, "lon", loc.Lon)
			continue
		}
		if _, dup := seen[loc.ID]; dup {
			logger.Warn("duplicate catalog id; keeping first", "id", loc.ID)
			continue
		}
		seen[loc.ID] = struct{}{}
		if loc.Name == "" {
			loc.Name = loc.ID
		}
		kept = append(kept, loc)
	}
	return watertype.Resolve(kept)
}
