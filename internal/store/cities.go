package store

import (
	"database/sql"
	"fmt"

	"github.com/cityscope/cityscope/internal/models"
)

const cityColumns = "id, ibge_code, name, uf, region, area, latitude, longitude, created_at, updated_at"

func scanCity(row interface{ Scan(...any) error }) (*models.City, error) {
	var c models.City
	err := row.Scan(&c.ID, &c.IBGECode, &c.Name, &c.UF, &c.Region, &c.Area, &c.Latitude, &c.Longitude, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCityByIBGECode looks a city up by its natural key within the unit of
// work. Returns nil when absent.
func (t *Tx) GetCityByIBGECode(ibgeCode int64) (*models.City, error) {
	row := t.tx.QueryRow("SELECT "+cityColumns+" FROM cities WHERE ibge_code = ?", ibgeCode)
	c, err := scanCity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (t *Tx) InsertCity(c *models.City) error {
	res, err := t.tx.Exec(`
		INSERT INTO cities (ibge_code, name, uf, region, area, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.IBGECode, c.Name, c.UF, c.Region, c.Area, c.Latitude, c.Longitude)
	if err != nil {
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

// UpdateCity overwrites the volatile city fields (name, uf, region, area).
// Coordinates are API-managed and left untouched by the loader.
func (t *Tx) UpdateCity(c *models.City) error {
	_, err := t.tx.Exec(`
		UPDATE cities
		SET name = ?, uf = ?, region = ?, area = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, c.Name, c.UF, c.Region, c.Area, c.ID)
	return err
}

// CityIDsByIBGECode returns a natural-key → row-id map for matching incoming
// observation records against stored cities.
func (t *Tx) CityIDsByIBGECode() (map[int64]int64, error) {
	rows, err := t.tx.Query("SELECT ibge_code, id FROM cities")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m := make(map[int64]int64)
	for rows.Next() {
		var code, id int64
		if err := rows.Scan(&code, &id); err != nil {
			return nil, err
		}
		m[code] = id
	}
	return m, rows.Err()
}

// CitiesWithArea returns all cities with a known positive area.
func (t *Tx) CitiesWithArea() ([]models.City, error) {
	rows, err := t.tx.Query("SELECT " + cityColumns + " FROM cities WHERE area IS NOT NULL AND area > 0")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cities []models.City
	for rows.Next() {
		c, err := scanCity(rows)
		if err != nil {
			return nil, err
		}
		cities = append(cities, *c)
	}
	return cities, rows.Err()
}

func (s *Store) GetCity(id int64) (*models.City, error) {
	row := s.db.QueryRow("SELECT "+cityColumns+" FROM cities WHERE id = ?", id)
	c, err := scanCity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) GetCityByIBGECode(ibgeCode int64) (*models.City, error) {
	row := s.db.QueryRow("SELECT "+cityColumns+" FROM cities WHERE ibge_code = ?", ibgeCode)
	c, err := scanCity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateCity inserts one city in its own transaction. Used by the API create
// endpoint; the ETL path goes through Tx.
func (s *Store) CreateCity(c *models.City) error {
	res, err := s.db.Exec(`
		INSERT INTO cities (ibge_code, name, uf, region, area, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.IBGECode, c.Name, c.UF, c.Region, c.Area, c.Latitude, c.Longitude)
	if err != nil {
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

// ListCities returns one page of cities ordered by (uf, name), optionally
// filtered by state.
func (s *Store) ListCities(uf string, page, limit int) ([]models.City, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	offset := (page - 1) * limit

	query := "SELECT " + cityColumns + " FROM cities"
	args := []any{}
	if uf != "" {
		query += " WHERE uf = ?"
		args = append(args, uf)
	}
	query += " ORDER BY uf, name LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cities []models.City
	for rows.Next() {
		c, err := scanCity(rows)
		if err != nil {
			return nil, err
		}
		cities = append(cities, *c)
	}
	return cities, rows.Err()
}

// ListCitiesByUF returns every city of one state ordered by name.
func (s *Store) ListCitiesByUF(uf string) ([]models.City, error) {
	rows, err := s.db.Query("SELECT "+cityColumns+" FROM cities WHERE uf = ? ORDER BY name", uf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cities []models.City
	for rows.Next() {
		c, err := scanCity(rows)
		if err != nil {
			return nil, err
		}
		cities = append(cities, *c)
	}
	return cities, rows.Err()
}

// ListStates returns the distinct (uf, region) pairs ordered by uf. Each uf
// appears once.
func (s *Store) ListStates() ([]models.StateInfo, error) {
	rows, err := s.db.Query(`
		SELECT uf, region FROM cities
		GROUP BY uf, region
		ORDER BY uf
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var states []models.StateInfo
	for rows.Next() {
		var st models.StateInfo
		if err := rows.Scan(&st.UF, &st.Region); err != nil {
			return nil, err
		}
		if seen[st.UF] {
			continue
		}
		seen[st.UF] = true
		states = append(states, st)
	}
	return states, rows.Err()
}

// DeleteCity removes a city. Rows in indicator_values referencing it make the
// delete fail (ON DELETE RESTRICT); values must be removed explicitly first.
func (s *Store) DeleteCity(id int64) error {
	res, err := s.db.Exec("DELETE FROM cities WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete city %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
