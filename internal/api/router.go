package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/coldstore/internal/api/middleware"
	"github.com/phrazzld/coldstore/internal/api/shared"
)

// requestTimeout bounds every request except the event stream.
const requestTimeout = 30 * time.Second

// RouterDeps are the services behind the control API.
type RouterDeps struct {
	Tasks     TaskService
	Vaults    VaultLister
	Inventory InventoryReader
	Logger    *slog.Logger
}

// NewRouter builds the control API.
func NewRouter(deps RouterDeps) http.Handler {
	tasks := NewTaskHandler(deps.Tasks)
	vaults := NewVaultHandler(deps.Vaults, deps.Inventory, deps.Tasks)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewTraceMiddleware(deps.Logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		// The event stream is long lived and stays outside the timeout group.
		r.Get("/events", tasks.StreamEvents)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(requestTimeout))

			r.Get("/status", tasks.Status)

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", tasks.ListTasks)
				r.Post("/", tasks.AddTasks)
				r.Delete("/", tasks.DeleteTasks)
				r.Post("/cancel", tasks.CancelTasks)
			})

			r.Get("/vaults", vaults.ListVaults)
			r.Get("/inventory", vaults.ListArchives)
			r.Get("/inventory/summary", vaults.InventorySummary)
			r.Post("/retrievals", vaults.Retrieve)
		})
	})

	return r
}
