package storage

import "errors"

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUserExists    = errors.New("user already exists")
	ErrTokenNotFound = errors.New("token not found")
	ErrPinNotFound   = errors.New("pin not found")
	ErrPinExists     = errors.New("pin already exists")
)
