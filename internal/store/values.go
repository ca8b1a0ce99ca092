package store

import (
	"database/sql"

	"github.com/cityscope/cityscope/internal/models"
)

const valueColumns = "id, indicator_id, city_id, year, value, created_at, updated_at"

func scanValue(row interface{ Scan(...any) error }) (*models.IndicatorValue, error) {
	var v models.IndicatorValue
	err := row.Scan(&v.ID, &v.IndicatorID, &v.CityID, &v.Year, &v.Value, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetIndicatorValue looks up the single value for (indicator, city, year).
// A NULL year matches the static row for the pair. Returns nil when absent.
func (t *Tx) GetIndicatorValue(indicatorID, cityID int64, year sql.NullInt64) (*models.IndicatorValue, error) {
	var row *sql.Row
	if year.Valid {
		row = t.tx.QueryRow(
			"SELECT "+valueColumns+" FROM indicator_values WHERE indicator_id = ? AND city_id = ? AND year = ?",
			indicatorID, cityID, year.Int64)
	} else {
		row = t.tx.QueryRow(
			"SELECT "+valueColumns+" FROM indicator_values WHERE indicator_id = ? AND city_id = ? AND year IS NULL",
			indicatorID, cityID)
	}
	v, err := scanValue(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (t *Tx) InsertIndicatorValue(v *models.IndicatorValue) error {
	res, err := t.tx.Exec(`
		INSERT INTO indicator_values (indicator_id, city_id, year, value)
		VALUES (?, ?, ?, ?)
	`, v.IndicatorID, v.CityID, v.Year, v.Value)
	if err != nil {
		return err
	}
	v.ID, err = res.LastInsertId()
	return err
}

func (t *Tx) UpdateIndicatorValue(id int64, value float64) error {
	_, err := t.tx.Exec(`
		UPDATE indicator_values SET value = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, value, id)
	return err
}

// ListValuesByIndicatorAndCity returns every stored value of one indicator
// for one city, across all years.
func (t *Tx) ListValuesByIndicatorAndCity(indicatorID, cityID int64) ([]models.IndicatorValue, error) {
	rows, err := t.tx.Query(
		"SELECT "+valueColumns+" FROM indicator_values WHERE indicator_id = ? AND city_id = ? ORDER BY year",
		indicatorID, cityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []models.IndicatorValue
	for rows.Next() {
		v, err := scanValue(rows)
		if err != nil {
			return nil, err
		}
		values = append(values, *v)
	}
	return values, rows.Err()
}

// CountValuesByIndicator reports how many values an indicator has stored.
func (t *Tx) CountValuesByIndicator(indicatorID int64) (int, error) {
	var n int
	err := t.tx.QueryRow("SELECT COUNT(*) FROM indicator_values WHERE indicator_id = ?", indicatorID).Scan(&n)
	return n, err
}

// ListCityIndicatorValues returns a city's values joined with indicator
// metadata, in display order.
func (s *Store) ListCityIndicatorValues(cityID int64) ([]models.CityIndicatorValue, error) {
	rows, err := s.db.Query(`
		SELECT i.code, i.name, v.year, v.value, i.unit
		FROM indicator_values v
		JOIN indicators i ON i.id = v.indicator_id
		WHERE v.city_id = ?
		ORDER BY i.code, v.year
	`, cityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []models.CityIndicatorValue
	for rows.Next() {
		var v models.CityIndicatorValue
		if err := rows.Scan(&v.IndicatorCode, &v.IndicatorName, &v.Year, &v.Value, &v.Unit); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}
