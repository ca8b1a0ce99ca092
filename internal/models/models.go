package models

import (
	"database/sql"
	"time"
)

// Indicator codes created by the ETL pipeline.
const (
	IndicatorArea    = "AREA"
	IndicatorPop     = "POP"
	IndicatorDensity = "DENSITY"
)

type City struct {
	ID        int64
	IBGECode  int64 // IBGE municipality code, unique
	Name      string
	UF        string // two-letter state code
	Region    sql.NullString
	Area      sql.NullFloat64 // km²
	Latitude  sql.NullFloat64
	Longitude sql.NullFloat64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Indicator struct {
	ID          int64
	Code        string // unique slug, e.g. "POP"
	Name        string
	Description sql.NullString
	Unit        sql.NullString
	Source      sql.NullString
}

// IndicatorValue is one observation of an indicator for a city. Year is NULL
// for static indicators such as territorial area.
type IndicatorValue struct {
	ID          int64
	IndicatorID int64
	CityID      int64
	Year        sql.NullInt64
	Value       float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type User struct {
	ID             int64
	Email          string
	HashedPassword string
	IsActive       bool
	CreatedAt      time.Time
}

// ETLRun records one pipeline stage execution for auditing.
type ETLRun struct {
	ID           int64
	Stage        string
	StartedAt    time.Time
	CompletedAt  sql.NullTime
	Success      bool
	Created      sql.NullInt64
	Updated      sql.NullInt64
	Skipped      sql.NullInt64
	ErrorMessage sql.NullString
}

// CityIndicatorValue is an indicator value joined with its indicator
// metadata, as served by the city indicators endpoint.
type CityIndicatorValue struct {
	IndicatorCode string
	IndicatorName string
	Year          sql.NullInt64
	Value         float64
	Unit          sql.NullString
}

// StateInfo is one distinct (uf, region) pair.
type StateInfo struct {
	UF     string
	Region sql.NullString
}
