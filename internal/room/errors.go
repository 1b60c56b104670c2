package room

import "errors"

// Room table error taxonomy. The signaling router maps these onto structured
// error replies; nothing here closes a connection.
var (
	// ErrInvalidRoomID means the requested ID failed normalization
	// (alphanumeric, at most 32 characters).
	ErrInvalidRoomID = errors.New("invalid room id")

	// ErrRoomExists rejects a create for an ID that is already live.
	ErrRoomExists = errors.New("room already exists")

	// ErrTooManyRooms rejects a create once the table is at capacity.
	ErrTooManyRooms = errors.New("too many rooms")

	// ErrRoomNotFound rejects a join for an absent room. Joins never create.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomFull rejects a join once the per-room viewer cap is reached.
	ErrRoomFull = errors.New("room is full")

	// ErrAlreadyInRoom rejects create/join from a connection that already
	// holds a role; roles are assigned once per connection.
	ErrAlreadyInRoom = errors.New("already in a room")
)
