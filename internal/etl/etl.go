// Package etl loads IBGE city and indicator data into the store and derives
// computed indicators. Stages run sequentially; each stage commits all of its
// writes as one transaction and reports a created/updated/skipped summary.
package etl

import (
	"context"
	"errors"
)

// ErrPrerequisiteMissing signals that a stage's required indicator has no
// data yet. The stage returns a zero-work summary; the pipeline reports it as
// a soft failure and moves on.
var ErrPrerequisiteMissing = errors.New("prerequisite indicator data missing")

// Summary counts the outcome of one stage's batch.
type Summary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// Stage is one step of the load pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context) (Summary, error)
}
