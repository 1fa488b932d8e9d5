package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/malaysiangroceries/kopikopi-be/internal/config"
	"github.com/malaysiangroceries/kopikopi-be/internal/handlers"
	"github.com/malaysiangroceries/kopikopi-be/internal/middleware"
	"github.com/malaysiangroceries/kopikopi-be/internal/services"
)

// Services are the application services the HTTP layer depends on.
type Services struct {
	Menu     *services.MenuService
	OTP      *services.OTPService
	Orders   *services.OrderService
	Tracking *services.TrackingService
}

// NewApp creates the fiber app with the shared middleware stack.
func NewApp(cfg *config.Config, log *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "Kopi Kopi Backend",
		ErrorHandler: handlers.ErrorHandler,
	})

	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger(log))
	// Inside the request logger so a recovered panic is logged as a 500.
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSAllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	return app
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, svc Services) {
	menuHandler := handlers.NewMenuHandler(svc.Menu)
	orderHandler := handlers.NewOrderHandler(svc.OTP, svc.Orders, svc.Tracking)

	api := app.Group("/api")

	api.Get("/health", handlers.Health)
	api.Get("/menu", menuHandler.List)

	orders := api.Group("/orders")
	orders.Post("/request-code", orderHandler.RequestCode)
	orders.Post("/verify-and-create", orderHandler.VerifyAndCreate)
	orders.Get("/:ref_num", orderHandler.Track)
}
