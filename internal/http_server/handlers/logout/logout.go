package logout

import (
	"log/slog"
	"net/http"

	resp "announceit/internal/lib/api/response"
	"announceit/internal/session"

	"github.com/go-chi/render"
)

func New(log *slog.Logger, sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions.SignOut(w)

		log.Debug("user logged out")

		render.JSON(w, r, resp.OK())
	}
}
