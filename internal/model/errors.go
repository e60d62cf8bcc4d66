package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInsufficientData means more history is needed; the caller waits or
	// fetches more. It never aborts a live loop.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrInvalidSeries means the bar sequence is malformed and the run aborts.
	ErrInvalidSeries = errors.New("invalid bar series")
	// ErrConfiguration means a threshold is missing or out of range at startup.
	ErrConfiguration = errors.New("configuration error")
)

// InsufficientDataError reports how many bars were supplied and required.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: have %d bars, need %d", e.Have, e.Need)
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }

// InvalidSeriesError points at the first offending bar.
type InvalidSeriesError struct {
	Index  int
	Time   time.Time
	Reason string
}

func (e *InvalidSeriesError) Error() string {
	return fmt.Sprintf("invalid series at bar %d (%s): %s", e.Index, e.Time.Format(time.RFC3339), e.Reason)
}

func (e *InvalidSeriesError) Unwrap() error { return ErrInvalidSeries }

// ConfigurationError names the offending option.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }
