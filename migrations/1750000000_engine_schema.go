package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"

	"ticket-engine/internal/store"
)

func init() {
	m.Register(func(app core.App) error {
		return store.EnsureSchema(app)
	}, func(app core.App) error {
		return store.DropSchema(app)
	})
}
