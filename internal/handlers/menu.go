package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/malaysiangroceries/kopikopi-be/internal/middleware"
	"github.com/malaysiangroceries/kopikopi-be/internal/models"
	"github.com/malaysiangroceries/kopikopi-be/internal/services"
)

// MenuHandler serves the public catalog.
type MenuHandler struct {
	menu *services.MenuService
}

// NewMenuHandler constructs MenuHandler.
func NewMenuHandler(menu *services.MenuService) *MenuHandler {
	return &MenuHandler{menu: menu}
}

type menuItemResponse struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
	ImageURL    *string `json:"image_url"`
	IsAvailable bool    `json:"is_available"`
}

func newMenuItemResponse(item models.MenuItem) menuItemResponse {
	return menuItemResponse{
		ID:          item.ID,
		Name:        item.Name,
		Category:    item.Category,
		Price:       item.Price.InexactFloat64(),
		Description: item.Description,
		ImageURL:    item.ImageURL,
		IsAvailable: item.IsAvailable,
	}
}

// List returns available menu items, optionally filtered by search text and category.
func (h *MenuHandler) List(c *fiber.Ctx) error {
	items, err := h.menu.List(c.UserContext(), services.MenuFilter{
		Search:   c.Query("search"),
		Category: c.Query("category"),
	})
	if err != nil {
		middleware.Logger(c).Error("list menu failed", zap.Error(err))
		return serverError(c, "Database error", err)
	}

	menu := make([]menuItemResponse, 0, len(items))
	for _, item := range items {
		menu = append(menu, newMenuItemResponse(item))
	}
	return c.JSON(fiber.Map{"menu": menu})
}
