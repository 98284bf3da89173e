package inmemory

import (
	"log/slog"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/watchsync/internal/repository/session/sessiontest"
)

func TestRepo(t *testing.T) {
	sessiontest.Run(t, func(t *testing.T, clock clockwork.Clock) sessiontest.Repo {
		return NewRepo(clock, slog.Default())
	})
}
