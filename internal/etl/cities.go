package etl

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cityscope/cityscope/internal/ibge"
	"github.com/cityscope/cityscope/internal/models"
	"github.com/cityscope/cityscope/internal/store"
)

// CityLoader upserts the IBGE municipality list. Cities are matched by IBGE
// code; for every city with a known positive area a static AREA indicator
// value (NULL year) is upserted alongside.
type CityLoader struct {
	store  *store.Store
	client *ibge.Client
	log    zerolog.Logger
}

func NewCityLoader(st *store.Store, client *ibge.Client, logger zerolog.Logger) *CityLoader {
	return &CityLoader{store: st, client: client, log: logger}
}

func (l *CityLoader) Name() string { return "cities" }

func (l *CityLoader) Run(ctx context.Context) (Summary, error) {
	municipalities, err := l.client.FetchMunicipalities(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("fetch municipalities: %w", err)
	}
	l.log.Info().Int("count", len(municipalities)).Msg("fetched municipality list")

	tx, err := l.store.Begin()
	if err != nil {
		return Summary{}, err
	}
	defer tx.Rollback()

	areaIndicator, err := tx.EnsureIndicator(models.IndicatorArea, "Territorial Area", "km²", "IBGE")
	if err != nil {
		return Summary{}, fmt.Errorf("ensure area indicator: %w", err)
	}

	var summary Summary
	for _, m := range municipalities {
		if m.ID <= 0 || m.Nome == "" || len(m.UF()) != 2 {
			l.log.Warn().Int64("ibge_code", m.ID).Str("name", m.Nome).Msg("skipping invalid municipality record")
			summary.Skipped++
			continue
		}

		area := sql.NullFloat64{}
		if m.Area != nil && float64(*m.Area) > 0 {
			area = sql.NullFloat64{Float64: float64(*m.Area), Valid: true}
		}

		city, err := tx.GetCityByIBGECode(m.ID)
		if err != nil {
			return Summary{}, fmt.Errorf("lookup city %d: %w", m.ID, err)
		}

		if city == nil {
			city = &models.City{
				IBGECode: m.ID,
				Name:     m.Nome,
				UF:       m.UF(),
				Region:   sql.NullString{String: m.Region(), Valid: m.Region() != ""},
				Area:     area,
			}
			if err := tx.InsertCity(city); err != nil {
				l.log.Warn().Err(err).Int64("ibge_code", m.ID).Msg("insert city conflict, skipping record")
				summary.Skipped++
				continue
			}
			summary.Created++
		} else {
			city.Name = m.Nome
			city.UF = m.UF()
			city.Region = sql.NullString{String: m.Region(), Valid: m.Region() != ""}
			if area.Valid {
				city.Area = area
			}
			if err := tx.UpdateCity(city); err != nil {
				return Summary{}, fmt.Errorf("update city %d: %w", m.ID, err)
			}
			summary.Updated++
		}

		if area.Valid {
			if _, err := upsertValue(tx, areaIndicator.ID, city.ID, sql.NullInt64{}, area.Float64); err != nil {
				return Summary{}, fmt.Errorf("upsert area value for city %d: %w", m.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return Summary{}, fmt.Errorf("commit cities batch: %w", err)
	}
	return summary, nil
}

// upsertValue stores one indicator value under the (indicator, city, year)
// natural key, updating in place when the row already exists. Reports whether
// a new row was created.
func upsertValue(tx *store.Tx, indicatorID, cityID int64, year sql.NullInt64, value float64) (bool, error) {
	existing, err := tx.GetIndicatorValue(indicatorID, cityID, year)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, tx.UpdateIndicatorValue(existing.ID, value)
	}
	err = tx.InsertIndicatorValue(&models.IndicatorValue{
		IndicatorID: indicatorID,
		CityID:      cityID,
		Year:        year,
		Value:       value,
	})
	return err == nil, err
}
