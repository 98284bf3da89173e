package room

import "errors"

var ErrNotMember = errors.New("connection is not a member of the room")
