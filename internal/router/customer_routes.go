package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-booking-coordinator/internal/handler"
	"github.com/iliyamo/cinema-booking-coordinator/internal/middleware"
)

// CustomerDeps is everything the patron-facing routes need.  RateLimit and
// Cache may be nil.
type CustomerDeps struct {
	JWTSecret string
	Sessions  *handler.SessionHandler
	Catalog   *handler.CatalogHandler
	Receipts  *handler.ReceiptHandler
	RateLimit echo.MiddlewareFunc
	Cache     echo.MiddlewareFunc
}

// RegisterCustomer registers the patron endpoints under /v1.  All routes
// require a valid JWT and the CUSTOMER role; the rate limit runs after
// authentication so buckets are per patron.
func RegisterCustomer(e *echo.Echo, d CustomerDeps) {
	mw := []echo.MiddlewareFunc{middleware.JWTAuth(d.JWTSecret), middleware.RequireRole(middleware.RoleCustomer)}
	if d.RateLimit != nil {
		mw = append(mw, d.RateLimit)
	}
	g := e.Group("/v1", mw...)

	// Catalog reads go through the response cache; nothing else does.
	var cached []echo.MiddlewareFunc
	if d.Cache != nil {
		cached = append(cached, d.Cache)
	}
	g.GET("/ticket-types", d.Catalog.TicketTypes, cached...)
	g.GET("/screenings", d.Catalog.ListScreenings, cached...)

	s := d.Sessions
	g.POST("/sessions", s.Create)
	g.GET("/sessions/:id", s.Get)
	g.DELETE("/sessions/:id", s.Abandon)
	g.POST("/sessions/:id/date", s.SelectDate)
	g.POST("/sessions/:id/screening", s.SelectScreening)
	g.POST("/sessions/:id/tickets", s.ChangeTickets)
	g.POST("/sessions/:id/seats", s.ToggleSeats)
	g.POST("/sessions/:id/hold/retry", s.RetryHold)
	g.POST("/sessions/:id/seatmap/refresh", s.RefreshSeatMap)
	g.POST("/sessions/:id/points", s.SetPoints)
	g.POST("/sessions/:id/next", s.Next)
	g.POST("/sessions/:id/back", s.Back)
	g.POST("/sessions/:id/confirm", s.Confirm)
	g.DELETE("/sessions/:id/errors", s.DismissErrors)

	g.GET("/my-bookings", d.Receipts.List)
	g.GET("/my-bookings/:id/qr", d.Receipts.QR)
}
