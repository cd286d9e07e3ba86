package login

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
	Email string `json:"email" validate:"required,email"`
	Pass  string `json:"password" validate:"required"`
}

// New handles login. Unknown email and wrong password produce the exact
// same response, so the endpoint cannot be used to enumerate accounts.
func New(
	log *slog.Logger,
	validate *validator.Validate,
	accounts *account.Service,
	sessions *session.Manager,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.login.New"

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

		user, err := accounts.Authenticate(r.Context(), req.Email, req.Pass)
		if err != nil {
			log.Error("failed to authenticate user", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}
		if user == nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("invalid email or password"))

			return
		}

		confirmed, err := accounts.IsConfirmed(r.Context(), user.ID)
		if err != nil {
			log.Error("failed to check confirmation", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}
		if !confirmed {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, resp.Error("email is not confirmed"))

			return
		}

		if err := sessions.SignIn(w, *user); err != nil {
			log.Error("failed to sign in user", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}

		log.Info("user logged in", slog.String("user_id", user.ID.String()))

		render.JSON(w, r, resp.OK())
	}
}
