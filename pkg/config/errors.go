package config

import "errors"

// Sentinel errors returned by the loader and validator.
var (
	// ErrNotFound indicates the config file does not exist.
	ErrNotFound = errors.New("config file not found")
	// ErrInvalid indicates the config parsed but failed validation.
	ErrInvalid = errors.New("invalid configuration")
)
