package domain

import "errors"

var (
	// ErrInvalidConfiguration is returned for bad Extent or Divisions before any work starts.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrTileFetch marks a single tile that could not be fetched. The run continues without it.
	ErrTileFetch = errors.New("tile fetch failed")

	// ErrNoUsableTiles is returned by Merge when no tile carried usable data.
	ErrNoUsableTiles = errors.New("no usable tiles")

	// ErrEmptyAcquisition is the fatal run-level condition: nothing was acquired.
	ErrEmptyAcquisition = errors.New("empty acquisition")

	// ErrInsufficientSamples means fewer than 3 non-collinear samples were available for interpolation.
	ErrInsufficientSamples = errors.New("insufficient samples")

	// ErrEmptyGrid is returned when a grid has no non-hole value and must not be persisted.
	ErrEmptyGrid = errors.New("grid has no valid values")
)
