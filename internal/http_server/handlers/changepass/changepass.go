package changepass

import (
	"log/slog"
	"net/http"

	"announceit/internal/account"
	resp "announceit/internal/lib/api/response"
	sl "announceit/internal/lib/logger"
	"announceit/internal/session"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	CurrentPass string `json:"current_password" validate:"required"`
	NewPass     string `json:"new_password" validate:"required,min=8"`
}

// New handles the authenticated self-service password change. The current
// password is re-verified before the change is applied.
func New(
	log *slog.Logger,
	validate *validator.Validate,
	accounts *account.Service,
	sessions *session.Manager,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.changepass.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		claims, err := sessions.FromRequest(r)
		if err != nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("not logged in"))

			return
		}

		var req Request

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("failed to decode request"))

			return
		}

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		user, err := accounts.Authenticate(r.Context(), claims.Email, req.CurrentPass)
		if err != nil {
			log.Error("failed to verify current password", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}
		if user == nil {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, resp.Error("current password is incorrect"))

			return
		}

		if err := accounts.ChangePassword(r.Context(), *user, req.NewPass); err != nil {
			log.Error("failed to change password", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}

		render.JSON(w, r, resp.OK())
	}
}
