package services

import "errors"

var (
	// ErrPromotionInvalidCode signals the supplied promotion code is blank.
	ErrPromotionInvalidCode = errors.New("promotion service: invalid promotion code")
	// ErrPromotionNotFound indicates no promotion exists for the provided code.
	ErrPromotionNotFound = errors.New("promotion service: promotion not found")
)
