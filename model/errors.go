package model

import "errors"

var (
	ErrMismatchedSplitValues = errors.New("split values length must equal member count")
	ErrInvalidPercentages    = errors.New("percentage splits must sum to exactly 10000 basis points")
	ErrCustomSplitMismatch   = errors.New("custom splits must sum to exactly the bill total")
	ErrUnknownSplitType      = errors.New("unknown split type")
)
