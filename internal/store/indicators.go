package store

import (
	"database/sql"

	"github.com/cityscope/cityscope/internal/models"
)

const indicatorColumns = "id, code, name, description, unit, source"

func scanIndicator(row interface{ Scan(...any) error }) (*models.Indicator, error) {
	var ind models.Indicator
	err := row.Scan(&ind.ID, &ind.Code, &ind.Name, &ind.Description, &ind.Unit, &ind.Source)
	if err != nil {
		return nil, err
	}
	return &ind, nil
}

// EnsureIndicator returns the indicator with the given code, creating it with
// the provided defaults when absent. Idempotent; every ETL stage goes through
// this instead of its own check-then-create.
func (t *Tx) EnsureIndicator(code, name, unit, source string) (*models.Indicator, error) {
	row := t.tx.QueryRow("SELECT "+indicatorColumns+" FROM indicators WHERE code = ?", code)
	ind, err := scanIndicator(row)
	if err == nil {
		return ind, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	res, err := t.tx.Exec(`
		INSERT INTO indicators (code, name, unit, source)
		VALUES (?, ?, ?, ?)
	`, code, name, nullString(unit), nullString(source))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Indicator{
		ID:     id,
		Code:   code,
		Name:   name,
		Unit:   nullString(unit),
		Source: nullString(source),
	}, nil
}

// GetIndicatorByCode returns nil when no indicator has the code.
func (t *Tx) GetIndicatorByCode(code string) (*models.Indicator, error) {
	row := t.tx.QueryRow("SELECT "+indicatorColumns+" FROM indicators WHERE code = ?", code)
	ind, err := scanIndicator(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ind, nil
}

func (s *Store) GetIndicatorByCode(code string) (*models.Indicator, error) {
	row := s.db.QueryRow("SELECT "+indicatorColumns+" FROM indicators WHERE code = ?", code)
	ind, err := scanIndicator(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ind, nil
}

func (s *Store) ListIndicators() ([]models.Indicator, error) {
	rows, err := s.db.Query("SELECT " + indicatorColumns + " FROM indicators ORDER BY code")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indicators []models.Indicator
	for rows.Next() {
		ind, err := scanIndicator(rows)
		if err != nil {
			return nil, err
		}
		indicators = append(indicators, *ind)
	}
	return indicators, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
