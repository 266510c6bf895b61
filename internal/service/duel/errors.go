package duel

import "github.com/pkg/errors"

var (
	ErrInvalidSession     = errors.New("invalid duel id")
	ErrInvalidParticipant = errors.New("invalid participant id")
	ErrSessionFull        = errors.New("duel already has two participants")
	ErrNotActive          = errors.New("duel is not active")
	ErrFinished           = errors.New("duel is finished")
	ErrEvicted            = errors.New("duel was evicted")
)
