package collector

import "errors"

var (
	ErrAdapterUnavailable     = errors.New("bluetooth adapter unavailable")
	ErrNoDeviceFound          = errors.New("no heart rate device found")
	ErrConnection             = errors.New("connection failed")
	ErrServiceNotFound        = errors.New("heart rate service not found")
	ErrCharacteristicNotFound = errors.New("heart rate measurement characteristic not found")
)
