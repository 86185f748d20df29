package handler

import "errors"

var (
	ErrInvalidTileCoordinates = errors.New("z, x and y should be integers")
	InternalServerError       = errors.New("server encountered a problem and could not process your request")
)
