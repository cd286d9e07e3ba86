package confirm

import (
	"log/slog"
	"net/http"

	"announceit/internal/account"
	resp "announceit/internal/lib/api/response"
	sl "announceit/internal/lib/logger"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

func New(log *slog.Logger, accounts *account.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.confirm.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		token := r.URL.Query().Get("token")
		if token == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("missing token"))

			return
		}

		user, err := accounts.ConfirmEmail(r.Context(), token)
		if err != nil {
			log.Error("failed to confirm email", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}
		if user == nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("invalid or expired token"))

			return
		}

		log.Info("email confirmed", slog.String("user_id", user.ID.String()))

		render.JSON(w, r, resp.OK())
	}
}
