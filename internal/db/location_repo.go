package db

import (
	"context"

	"praiafinder/internal/types"
)

// LocationRepository reads the locations table.
type LocationRepository struct {
	db DBTX
}

func NewLocationRepository(db DBTX) *LocationRepository {
	return &LocationRepository{db: db}
}

const locationColumns = `id, name, lat, lon, COALESCE(zone_tags, '{}'), orientation_deg,
	COALESCE(water_type, ''), COALESCE(shelter, 0)`

// ListAll returns every active location ordered by id. water_type may be
// empty; the catalog resolves it afterwards.
func (r *LocationRepository) ListAll(ctx context.Context) ([]types.Location, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+locationColumns+`
		 FROM locations
		 WHERE active
		 ORDER BY id`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list locations", err)
	}
	defer rows.Close()

	var out []types.Location
	for rows.Next() {
		var (
			loc       types.Location
			waterType string
		)
		if err := rows.Scan(
			&loc.ID,
			&loc.Name,
			&loc.Lat,
			&loc.Lon,
			&loc.ZoneTags,
			&loc.OrientationDeg,
			&waterType,
			&loc.Shelter,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan location row", err)
		}
		loc.WaterType = types.WaterType(waterType)
		out = append(out, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating location rows", err)
	}
	return out, nil
}
