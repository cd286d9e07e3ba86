package register

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
	Name  string `json:"name" validate:"required"`
	Pass  string `json:"password" validate:"required,min=8"`
}

type Response struct {
	resp.Response
	UserID string `json:"user_id"`
}

// New handles registration. Unlike login and recovery, this path is allowed
// to say why it failed: the user is actively choosing the identity, so
// "email taken" and "domain not allowed" are surfaced.
func New(
	log *slog.Logger,
	validate *validator.Validate,
	accounts *account.Service,
	confirmURL func(token string) string,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.register.New"

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

			log.Warn("invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		if !accounts.EmailIsAllowed(req.Email) {
			log.Warn("registration refused, domain not allowed")

			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, resp.Error("email domain is not allowed"))

			return
		}

		exists, err := accounts.EmailExists(r.Context(), req.Email)
		if err != nil {
			log.Error("failed to check email", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}
		if exists {
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, resp.Error("email is already registered"))

			return
		}

		user, err := accounts.Register(r.Context(), req.Email, req.Name, req.Pass)
		if err != nil {
			log.Error("failed to register user", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}

		if accounts.ConfirmationRequired() {
			if err := accounts.SendConfirmationEmail(r.Context(), user, confirmURL); err != nil {
				// The account exists either way; the user can request a
				// fresh token later.
				log.Error("failed to send confirmation email", sl.Err(err))
			}
		}

		render.JSON(w, r, Response{
			Response: resp.OK(),
			UserID:   user.ID.String(),
		})
	}
}
