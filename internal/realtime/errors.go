package realtime

import "errors"

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrClientNotFound     = errors.New("client not found")
	ErrInvalidSubscription = errors.New("invalid subscription")
)
