package controller

import "github.com/google/uuid"

// generateTimeBasedId returns a uuid v7, so ids sort by creation time in logs.
func (c controller) generateTimeBasedId() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
