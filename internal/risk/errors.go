package risk

import "errors"

var (
	ErrPolicyMissing     = errors.New("no active no-show risk policy")
	ErrQueueItemNotFound = errors.New("queue item not found")
)
