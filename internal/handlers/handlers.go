// Package handlers exposes the REST and websocket surface.
package handlers

import (
	"github.com/go-playground/validator/v10"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

var validate = validator.New()
