package remote

import (
	"errors"
	"time"
)

const (
	RequestIDLength  = 16
	DefaultTimeout   = 30 * time.Second
	CloseMessageCode = 1000
)

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")
	ErrInvalidResponse  = errors.New("invalid response")
	ErrIDInUse          = errors.New("id already in use")
)
