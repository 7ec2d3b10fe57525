package repository

import "errors"

var (
	// ErrMediaIDClaimed is returned when a publish confirmation would assign
	// a media id already owned by a different post.
	ErrMediaIDClaimed = errors.New("ig media id already claimed by another post")

	// ErrDuplicateDate is returned when a queue item for that calendar date
	// already exists.
	ErrDuplicateDate = errors.New("queue item for date already exists")

	// ErrNotFound is returned by writes targeting a missing row.
	ErrNotFound = errors.New("row not found")
)
