package etl

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/cityscope/cityscope/internal/ibge"
	"github.com/cityscope/cityscope/internal/models"
	"github.com/cityscope/cityscope/internal/store"
)

// PopulationLoader upserts population estimates from SIDRA table 6579 under
// the POP indicator. Rows that fail to parse or reference an unknown city are
// skipped, not fatal.
type PopulationLoader struct {
	store  *store.Store
	client *ibge.Client
	log    zerolog.Logger
}

func NewPopulationLoader(st *store.Store, client *ibge.Client, logger zerolog.Logger) *PopulationLoader {
	return &PopulationLoader{store: st, client: client, log: logger}
}

func (l *PopulationLoader) Name() string { return "population" }

func (l *PopulationLoader) Run(ctx context.Context) (Summary, error) {
	rows, err := l.client.FetchPopulation(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("fetch population: %w", err)
	}
	l.log.Info().Int("count", len(rows)).Msg("fetched population rows")

	tx, err := l.store.Begin()
	if err != nil {
		return Summary{}, err
	}
	defer tx.Rollback()

	popIndicator, err := tx.EnsureIndicator(models.IndicatorPop, "Population", "people", "IBGE/SIDRA 6579")
	if err != nil {
		return Summary{}, fmt.Errorf("ensure population indicator: %w", err)
	}

	cityIDs, err := tx.CityIDsByIBGECode()
	if err != nil {
		return Summary{}, fmt.Errorf("load city key map: %w", err)
	}

	var summary Summary
	for _, row := range rows {
		ibgeCode, year, value, err := parsePopulationRow(row)
		if err != nil {
			l.log.Warn().Err(err).Str("city_code", row.CityCode).Str("year", row.Year).Msg("skipping malformed population row")
			summary.Skipped++
			continue
		}

		cityID, ok := cityIDs[ibgeCode]
		if !ok {
			l.log.Debug().Int64("ibge_code", ibgeCode).Msg("skipping population row for unknown city")
			summary.Skipped++
			continue
		}

		created, err := upsertValue(tx, popIndicator.ID, cityID, sql.NullInt64{Int64: int64(year), Valid: true}, value)
		if err != nil {
			l.log.Warn().Err(err).Int64("ibge_code", ibgeCode).Int("year", year).Msg("skipping conflicting population row")
			summary.Skipped++
			continue
		}
		if created {
			summary.Created++
		} else {
			summary.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return Summary{}, fmt.Errorf("commit population batch: %w", err)
	}
	return summary, nil
}

func parsePopulationRow(row ibge.PopulationRow) (ibgeCode int64, year int, value float64, err error) {
	if row.CityCode == "" || row.Year == "" || row.Value == "" {
		return 0, 0, 0, fmt.Errorf("missing field")
	}
	ibgeCode, err = strconv.ParseInt(row.CityCode, 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parse city code: %w", err)
	}
	year, err = strconv.Atoi(row.Year)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parse year: %w", err)
	}
	value, err = strconv.ParseFloat(row.Value, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parse value: %w", err)
	}
	if value <= 0 {
		return 0, 0, 0, fmt.Errorf("non-positive population %v", value)
	}
	return ibgeCode, year, value, nil
}
