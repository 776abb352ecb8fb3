package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/facegate/internal/auth"
	"github.com/BradenHooton/facegate/internal/handlers"
	"github.com/BradenHooton/facegate/internal/middleware"
	"github.com/BradenHooton/facegate/internal/models"
)

// RegisterRoutes registers the /v1 API. Every route requires a service token.
func RegisterRoutes(
	router chi.Router,
	verificationHandler *handlers.VerificationHandler,
	faceHandler *handlers.FaceHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
	rateLimit middleware.RateLimitConfig,
) {
	router.Route("/v1", func(r chi.Router) {
		r.Use(auth.ServiceAuth(tokenManager))
		r.Use(middleware.RateLimitByService(rateLimit))

		// Verification policy
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(models.ScopeVerificationRead))
			r.Post("/verification/decision", verificationHandler.Decide)
			r.Post("/verification/required", verificationHandler.IsRequired)
			r.Get("/verification/strategies/{businessType}", verificationHandler.GetStrategy)
			r.Get("/users/{userID}/verification-history", verificationHandler.GetHistory)
		})

		r.With(auth.RequireScope(models.ScopeVerificationWrite)).Post("/verifications", verificationHandler.Verify)

		// Face profiles
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(models.ScopeFaceRead))
			r.Get("/users/{userID}/face", faceHandler.GetFace)
			r.Post("/face/quality", faceHandler.CheckQuality)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(models.ScopeFaceWrite))
			r.Post("/users/{userID}/face", faceHandler.CollectFace)
			r.Put("/users/{userID}/face", faceHandler.RecollectFace)
			r.Delete("/users/{userID}/face", faceHandler.DeleteFace)
		})

		// Admin-only routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireAdmin)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireScope(models.ScopeFaceAdmin))
				r.Post("/face/expire", adminHandler.ExpireProfiles)
				r.Get("/provider/groups", adminHandler.ListGroups)
				r.Get("/provider/groups/{groupID}/users", adminHandler.ListGroupUsers)
				r.Get("/provider/users/{userID}/faces", adminHandler.ListUserFaces)
			})

			r.With(auth.RequireScope(models.ScopeOperationsRead)).Get("/operations", adminHandler.ListOperations)
		})
	})
}
