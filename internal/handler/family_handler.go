package handler

import (
	"errors"
	"net/http"
	"time"

	"familytree-service/internal/model"
	"familytree-service/internal/policy"
	"familytree-service/pkg/database"
	"familytree-service/pkg/logger"
	"familytree-service/prometheus"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GetFamily returns a family by ID. Families outside the requester's scope
// read as not found.
func GetFamily(c echo.Context) error {
	log := logger.FromContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		log.Error("Invalid family ID", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid family ID"})
	}

	db := database.GetDB().WithContext(c.Request().Context())

	defer prometheus.TrackDBOperation("query")(time.Now())
	var family model.Family
	if result := db.First(&family, "id = ?", id); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "family not found"})
		}
		log.Error("Failed to load family", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load family"})
	}

	prometheus.RecordFamilyOperation("access")
	return c.JSON(http.StatusOK, family)
}

// ListFamilies returns every family. Super admin only by construction: for
// anyone else the scoped query yields at most their own family.
func ListFamilies(c echo.Context) error {
	log := logger.FromContext(c)

	db := database.GetDB().WithContext(c.Request().Context())

	defer prometheus.TrackDBOperation("query")(time.Now())
	var families []model.Family
	if result := db.Order("created_at ASC").Find(&families); result.Error != nil {
		log.Error("Failed to list families", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list families"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"families": families,
		"count":    len(families),
	})
}

// UpdateFamily updates family settings. Allowed for the family's approved
// admin/co-admin and for super admins.
func UpdateFamily(c echo.Context) error {
	log := logger.FromContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		log.Error("Invalid family ID", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid family ID"})
	}

	var req struct {
		FamilyName *string `json:"family_name"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse family update request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	db := database.GetDB().WithContext(c.Request().Context())

	defer prometheus.TrackDBOperation("update")(time.Now())
	var family model.Family
	if result := db.First(&family, "id = ?", id); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "family not found"})
		}
		log.Error("Failed to load family", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}

	if err := policy.Decide(c.Request().Context(), policy.OpUpdate, &family); err != nil {
		prometheus.RecordPolicyDenial("families", "update")
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not allowed"})
	}

	if req.FamilyName != nil {
		if *req.FamilyName == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "family_name must not be empty"})
		}
		// The uniqueness probe reads across tenants, so it runs under the
		// system context.
		sysDB := database.GetDB().WithContext(policy.SystemContext(c.Request().Context()))
		var count int64
		if result := sysDB.Model(&model.Family{}).
			Where("family_name = ? AND id <> ?", *req.FamilyName, id).
			Count(&count); result.Error != nil {
			log.Error("Failed to check family name", zap.Error(result.Error))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
		}
		if count > 0 {
			return c.JSON(http.StatusConflict, echo.Map{"error": "family name already exists"})
		}
		family.FamilyName = *req.FamilyName
	}

	if result := db.Save(&family); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "family name already exists"})
		}
		if policy.IsDenied(result.Error) {
			prometheus.RecordPolicyDenial("families", "update")
			return c.JSON(http.StatusForbidden, echo.Map{"error": "not allowed"})
		}
		log.Error("Failed to update family", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}

	prometheus.RecordFamilyOperation("update")
	log.Info("Family updated", zap.String("id", family.ID.String()))

	return c.JSON(http.StatusOK, family)
}

// DeleteFamily removes a family. Super admin only. Member rows cascade away
// with the family; user accounts survive detached.
func DeleteFamily(c echo.Context) error {
	log := logger.FromContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		log.Error("Invalid family ID", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid family ID"})
	}

	db := database.GetDB().WithContext(c.Request().Context())

	defer prometheus.TrackDBOperation("delete")(time.Now())
	var family model.Family
	if result := db.First(&family, "id = ?", id); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "family not found"})
		}
		log.Error("Failed to load family", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "deletion failed"})
	}

	if err := policy.Decide(c.Request().Context(), policy.OpDelete, &family); err != nil {
		prometheus.RecordPolicyDenial("families", "delete")
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not allowed"})
	}

	if result := db.Delete(&family); result.Error != nil {
		if policy.IsDenied(result.Error) {
			prometheus.RecordPolicyDenial("families", "delete")
			return c.JSON(http.StatusForbidden, echo.Map{"error": "not allowed"})
		}
		log.Error("Failed to delete family", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "deletion failed"})
	}

	prometheus.RecordFamilyOperation("delete")
	log.Info("Family deleted",
		zap.String("id", id.String()),
		zap.String("family_name", family.FamilyName))

	return c.JSON(http.StatusOK, echo.Map{"message": "family deleted"})
}

// ListFamilyUsers returns the user accounts attached to a family.
func ListFamilyUsers(c echo.Context) error {
	log := logger.FromContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		log.Error("Invalid family ID", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid family ID"})
	}

	db := database.GetDB().WithContext(c.Request().Context())

	defer prometheus.TrackDBOperation("query")(time.Now())
	var family model.Family
	if result := db.First(&family, "id = ?", id); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "family not found"})
		}
		log.Error("Failed to load family", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list users"})
	}

	var users []model.User
	if result := db.Where("family_id = ?", family.ID).Order("created_at ASC").Find(&users); result.Error != nil {
		log.Error("Failed to list family users", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list users"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"users": users,
		"count": len(users),
	})
}
