package routing

import "errors"

var (
	// ErrUnsupportedPredicate is returned when a rule carries an unknown predicate type
	ErrUnsupportedPredicate = errors.New("unsupported rule predicate")

	// ErrInvalidRule is returned when a rule is missing a required field
	ErrInvalidRule = errors.New("invalid routing rule")

	// ErrDuplicateRule is returned when two rules share a name or a match key
	ErrDuplicateRule = errors.New("duplicate routing rule")

	// ErrMultipleDefaults is returned when more than one default rule is configured
	ErrMultipleDefaults = errors.New("more than one default rule")

	// ErrNegativeWeight is returned when a traffic split weight is below zero
	ErrNegativeWeight = errors.New("traffic split weight is negative")

	// ErrWeightsExceed100 is returned when traffic split weights sum above 100
	ErrWeightsExceed100 = errors.New("traffic split weights sum above 100")

	// ErrMissingDefaultVersion is returned when weights sum below 100 and no
	// default version receives the remainder
	ErrMissingDefaultVersion = errors.New("traffic split needs a default version")

	// ErrDuplicateVersion is returned when a version appears twice in a split
	ErrDuplicateVersion = errors.New("version listed twice in traffic split")
)
