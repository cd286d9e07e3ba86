package preview

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	resp "announceit/internal/lib/api/response"
	sl "announceit/internal/lib/logger"
	"announceit/internal/models"
	"announceit/internal/pins"
	"announceit/internal/session"
	"announceit/internal/storage"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

type PinResponse struct {
	resp.Response
	Pin       string `json:"pin"`
	ExpiresAt string `json:"expires_at"`
}

// NewGenerate issues a preview pin for a dashboard. Managers and admins
// only.
func NewGenerate(
	log *slog.Logger,
	pinService *pins.Service,
	sessions *session.Manager,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.preview.NewGenerate"

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

		if claims.Role != models.RoleManager && claims.Role != models.RoleAdmin {
			log.Warn("pin generation refused, insufficient role",
				slog.String("user_id", claims.UserID.String()))

			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, resp.Error("forbidden"))

			return
		}

		dashboardID, err := uuid.Parse(chi.URLParam(r, "dashboardID"))
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("invalid dashboard id"))

			return
		}

		pin, err := pinService.Issue(r.Context(), dashboardID)
		if err != nil {
			if errors.Is(err, pins.ErrExhausted) {
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("could not generate pin, try again later"))

				return
			}

			log.Error("failed to issue pin", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}

		log.Info("preview pin generated",
			slog.String("user_id", claims.UserID.String()),
			slog.String("dashboard_id", dashboardID.String()))

		render.JSON(w, r, PinResponse{
			Response:  resp.OK(),
			Pin:       pin.Pin,
			ExpiresAt: pin.Expiration.Format(time.RFC3339),
		})
	}
}

type RedeemRequest struct {
	Pin string `json:"pin"`
}

type RedeemResponse struct {
	resp.Response
	DashboardID string `json:"dashboard_id"`
}

// NewRedeem trades a live pin for one-time access to a dashboard preview.
func NewRedeem(log *slog.Logger, pinService *pins.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.preview.NewRedeem"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req RedeemRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("failed to decode request"))

			return
		}

		dashboardID, err := pinService.Redeem(r.Context(), req.Pin)
		if err != nil {
			if errors.Is(err, storage.ErrPinNotFound) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("invalid or expired pin"))

				return
			}

			log.Error("failed to redeem pin", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}

		render.JSON(w, r, RedeemResponse{
			Response:    resp.OK(),
			DashboardID: dashboardID.String(),
		})
	}
}
