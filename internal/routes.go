package internal

import (
	"cloutdash/internal/controllers"
	"cloutdash/internal/providers"
	"cloutdash/internal/structures"
	"net/http"
)

func InitRoutes(apiController *controllers.ApiController, authController *controllers.AuthController, backupController *controllers.BackupController, conf *structures.Config) providers.RouterProviderInterface {
	routers := providers.NewRouterProvider()

	routers.Post("/auth/signup", http.HandlerFunc(authController.SignUp))
	routers.Post("/auth/login", http.HandlerFunc(authController.LogIn))
	routers.Post("/auth/logout", http.HandlerFunc(authController.LogOut))
	routers.Get("/auth/me", http.HandlerFunc(authController.Me))

	routers.Post("/paste", http.HandlerFunc(apiController.Paste))
	routers.Get("/events", http.HandlerFunc(apiController.GetEvents))
	routers.Get("/stats", http.HandlerFunc(apiController.GetStats))
	routers.Post("/bounties/assign", http.HandlerFunc(apiController.AssignBounty))
	routers.Post("/refresh", http.HandlerFunc(apiController.Refresh))
	routers.Post("/clear", http.HandlerFunc(apiController.Clear))
	routers.Get("/clear/progress", http.HandlerFunc(apiController.GetClearProgress))
	routers.Any("/clear/ws", http.HandlerFunc(apiController.StreamClearProgress))

	if conf.Backup.Enabled {
		routers.Post("/backup", http.HandlerFunc(backupController.Save))
		routers.Post("/backup/restore", http.HandlerFunc(backupController.Restore))
	}
	return routers
}
