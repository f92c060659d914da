package session

import "errors"

var (
	// ErrRoomNotFound means the room id has no live session.
	ErrRoomNotFound = errors.New("session: room not found")
	// ErrConflict means the persisted status forbids the transition, e.g.
	// configuring a game that is already in progress or finished.
	ErrConflict = errors.New("session: conflicting game status")
	// ErrInvalidArgument covers malformed inputs such as a non-positive
	// speed or an out-of-range map index.
	ErrInvalidArgument = errors.New("session: invalid argument")
	// ErrInvalidSkill marks an unknown skill kind.
	ErrInvalidSkill = errors.New("session: invalid skill")
)
