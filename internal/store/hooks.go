package store

import (
	"fmt"

	"github.com/pocketbase/pocketbase/core"
)

// RegisterHooks guards records edited through the admin UI or the records API.
// The engine's own counter updates are plain SQL and do not pass through here.
func RegisterHooks(app core.App) {
	app.OnRecordValidate(CollectionTicketTypes).BindFunc(func(e *core.RecordEvent) error {
		if e.Record.GetInt("sold") < 0 {
			return fmt.Errorf("ticket type %s: sold cannot be negative", e.Record.Id)
		}
		if !e.Record.GetBool("unlimited") && e.Record.GetInt("capacity") < e.Record.GetInt("sold") {
			return fmt.Errorf("ticket type %s: capacity %d is below the %d already sold",
				e.Record.Id, e.Record.GetInt("capacity"), e.Record.GetInt("sold"))
		}
		return e.Next()
	})
}
