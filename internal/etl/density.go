package etl

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cityscope/cityscope/internal/models"
	"github.com/cityscope/cityscope/internal/store"
)

// DensityStage derives DENSITY = POP / AREA for every city with a known
// positive area, at each year a population value exists for. It reads only
// already-stored rows; no external fetch.
type DensityStage struct {
	store *store.Store
	log   zerolog.Logger
}

func NewDensityStage(st *store.Store, logger zerolog.Logger) *DensityStage {
	return &DensityStage{store: st, log: logger}
}

func (d *DensityStage) Name() string { return "density" }

func (d *DensityStage) Run(ctx context.Context) (Summary, error) {
	tx, err := d.store.Begin()
	if err != nil {
		return Summary{}, err
	}
	defer tx.Rollback()

	densityIndicator, err := tx.EnsureIndicator(models.IndicatorDensity, "Population Density", "people/km²", "derived")
	if err != nil {
		return Summary{}, fmt.Errorf("ensure density indicator: %w", err)
	}
	areaIndicator, err := tx.EnsureIndicator(models.IndicatorArea, "Territorial Area", "km²", "IBGE")
	if err != nil {
		return Summary{}, fmt.Errorf("ensure area indicator: %w", err)
	}

	popIndicator, err := tx.GetIndicatorByCode(models.IndicatorPop)
	if err != nil {
		return Summary{}, fmt.Errorf("lookup population indicator: %w", err)
	}
	if popIndicator == nil {
		return Summary{}, ErrPrerequisiteMissing
	}
	popCount, err := tx.CountValuesByIndicator(popIndicator.ID)
	if err != nil {
		return Summary{}, err
	}
	if popCount == 0 {
		return Summary{}, ErrPrerequisiteMissing
	}

	cities, err := tx.CitiesWithArea()
	if err != nil {
		return Summary{}, fmt.Errorf("list cities with area: %w", err)
	}

	var summary Summary
	for _, city := range cities {
		select {
		case <-ctx.Done():
			return Summary{}, ctx.Err()
		default:
		}

		// Backfill the static AREA value for cities loaded before area
		// data was available.
		if _, err := upsertValue(tx, areaIndicator.ID, city.ID, sql.NullInt64{}, city.Area.Float64); err != nil {
			return Summary{}, fmt.Errorf("ensure area value for city %d: %w", city.IBGECode, err)
		}

		popValues, err := tx.ListValuesByIndicatorAndCity(popIndicator.ID, city.ID)
		if err != nil {
			return Summary{}, fmt.Errorf("list population values for city %d: %w", city.IBGECode, err)
		}

		for _, pv := range popValues {
			density := pv.Value / city.Area.Float64
			created, err := upsertValue(tx, densityIndicator.ID, city.ID, pv.Year, density)
			if err != nil {
				d.log.Warn().Err(err).Int64("ibge_code", city.IBGECode).Msg("skipping conflicting density row")
				summary.Skipped++
				continue
			}
			if created {
				summary.Created++
			} else {
				summary.Updated++
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return Summary{}, fmt.Errorf("commit density batch: %w", err)
	}
	return summary, nil
}
