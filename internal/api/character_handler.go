package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/internal/catalog"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

// CharacterCatalog is the read side of the character cache.
type CharacterCatalog interface {
	Get(id string) (models.Character, bool)
	GetAll(f models.CharacterFilter) []models.Character
	Stats() catalog.Stats
	Refresh(ctx context.Context) error
}

type CharacterHandler struct {
	catalog CharacterCatalog
	logger  *zap.Logger
}

func NewCharacterHandler(c CharacterCatalog, logger *zap.Logger) *CharacterHandler {
	return &CharacterHandler{catalog: c, logger: logger}
}

// ListCharacters handles GET /characters?isPublic=&isActive=
func (h *CharacterHandler) ListCharacters(c *gin.Context) {
	isPublic, ok := queryBool(c, "isPublic")
	if !ok {
		return
	}
	isActive, ok := queryBool(c, "isActive")
	if !ok {
		return
	}
	list := h.catalog.GetAll(models.CharacterFilter{IsPublic: isPublic, IsActive: isActive})
	c.JSON(http.StatusOK, gin.H{"characters": list})
}

// GetCharacter handles GET /characters/:characterId
func (h *CharacterHandler) GetCharacter(c *gin.Context) {
	ch, ok := h.catalog.Get(c.Param("characterId"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "character not found", Code: "character_not_found"})
		return
	}
	c.JSON(http.StatusOK, ch)
}

// Stats handles GET /admin/catalog/stats
func (h *CharacterHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.catalog.Stats())
}

// Refresh handles POST /admin/catalog/refresh
func (h *CharacterHandler) Refresh(c *gin.Context) {
	if err := h.catalog.Refresh(c.Request.Context()); err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, h.catalog.Stats())
}
