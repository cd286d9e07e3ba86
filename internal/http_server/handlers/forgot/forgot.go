package forgot

import (
	"log/slog"
	"net/http"

	"announceit/internal/account"
	resp "announceit/internal/lib/api/response"
	sl "announceit/internal/lib/logger"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Email string `json:"email" validate:"required,email"`
}

// New handles the forgot-password request. The response is identical
// whether the account exists, is rate-limited or got an email: anything
// else would let a caller probe for registered addresses.
func New(
	log *slog.Logger,
	validate *validator.Validate,
	accounts *account.Service,
	resetURL func(token string) string,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.forgot.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
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

		user, err := accounts.FindByEmail(r.Context(), req.Email)
		if err != nil {
			log.Error("failed to look up user", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}

		if user != nil {
			if err := accounts.SendPasswordResetEmail(r.Context(), *user, resetURL); err != nil {
				log.Error("failed to send password reset email", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("internal error"))

				return
			}
		}

		render.JSON(w, r, resp.OK())
	}
}
