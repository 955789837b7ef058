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

// CreateMember adds a person to a family's tree.
func CreateMember(c echo.Context) error {
	log := logger.FromContext(c)

	familyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		log.Error("Invalid family ID", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid family ID"})
	}

	var req struct {
		Name          string                `json:"name"`
		PhotoURL      *string               `json:"photo_url"`
		Relationships model.RelationshipMap `json:"relationships"`
		CustomFields  model.CustomFields    `json:"custom_fields"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse member creation request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	db := database.GetDB().WithContext(c.Request().Context())

	defer prometheus.TrackDBOperation("insert")(time.Now())
	var family model.Family
	if result := db.First(&family, "id = ?", familyID); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "family not found"})
		}
		log.Error("Failed to load family", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "member creation failed"})
	}

	member := model.FamilyMember{
		FamilyID:      familyID,
		Name:          req.Name,
		PhotoURL:      req.PhotoURL,
		Relationships: req.Relationships,
		CustomFields:  req.CustomFields,
	}
	if err := member.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if err := checkRelationshipTargets(db, familyID, member.Relationships, uuid.Nil); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	if err := policy.Decide(c.Request().Context(), policy.OpInsert, &member); err != nil {
		prometheus.RecordPolicyDenial("family_members", "insert")
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not allowed"})
	}

	if result := db.Create(&member); result.Error != nil {
		if policy.IsDenied(result.Error) {
			prometheus.RecordPolicyDenial("family_members", "insert")
			return c.JSON(http.StatusForbidden, echo.Map{"error": "not allowed"})
		}
		log.Error("Failed to create member", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "member creation failed"})
	}

	prometheus.RecordMemberOperation("create")
	log.Info("Family member created",
		zap.String("id", member.ID.String()),
		zap.String("family_id", familyID.String()))

	return c.JSON(http.StatusCreated, member)
}

// ListMembers returns all members of a family's tree.
func ListMembers(c echo.Context) error {
	log := logger.FromContext(c)

	familyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		log.Error("Invalid family ID", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid family ID"})
	}

	db := database.GetDB().WithContext(c.Request().Context())

	defer prometheus.TrackDBOperation("query")(time.Now())
	var family model.Family
	if result := db.First(&family, "id = ?", familyID); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "family not found"})
		}
		log.Error("Failed to load family", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list members"})
	}

	var members []model.FamilyMember
	if result := db.Where("family_id = ?", familyID).Order("created_at ASC").Find(&members); result.Error != nil {
		log.Error("Failed to list members", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list members"})
	}

	prometheus.RecordMemberOperation("list")
	return c.JSON(http.StatusOK, echo.Map{
		"members": members,
		"count":   len(members),
	})
}

// GetMember returns a single family member.
func GetMember(c echo.Context) error {
	log := logger.FromContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		log.Error("Invalid member ID", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid member ID"})
	}

	db := database.GetDB().WithContext(c.Request().Context())

	defer prometheus.TrackDBOperation("query")(time.Now())
	var member model.FamilyMember
	if result := db.First(&member, "id = ?", id); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "member not found"})
		}
		log.Error("Failed to load member", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load member"})
	}

	prometheus.RecordMemberOperation("access")
	return c.JSON(http.StatusOK, member)
}

// UpdateMember updates a family member's profile, relationships or custom
// fields.
func UpdateMember(c echo.Context) error {
	log := logger.FromContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		log.Error("Invalid member ID", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid member ID"})
	}

	var req struct {
		Name          *string                `json:"name"`
		PhotoURL      *string                `json:"photo_url"`
		Relationships *model.RelationshipMap `json:"relationships"`
		CustomFields  *model.CustomFields    `json:"custom_fields"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse member update request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	db := database.GetDB().WithContext(c.Request().Context())

	defer prometheus.TrackDBOperation("update")(time.Now())
	var member model.FamilyMember
	if result := db.First(&member, "id = ?", id); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "member not found"})
		}
		log.Error("Failed to load member", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}

	if err := policy.Decide(c.Request().Context(), policy.OpUpdate, &member); err != nil {
		prometheus.RecordPolicyDenial("family_members", "update")
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not allowed"})
	}

	if req.Name != nil {
		member.Name = *req.Name
	}
	if req.PhotoURL != nil {
		member.PhotoURL = req.PhotoURL
	}
	if req.Relationships != nil {
		member.Relationships = *req.Relationships
	}
	if req.CustomFields != nil {
		member.CustomFields = *req.CustomFields
	}

	if err := member.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if err := checkRelationshipTargets(db, member.FamilyID, member.Relationships, member.ID); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	if result := db.Save(&member); result.Error != nil {
		if policy.IsDenied(result.Error) {
			prometheus.RecordPolicyDenial("family_members", "update")
			return c.JSON(http.StatusForbidden, echo.Map{"error": "not allowed"})
		}
		log.Error("Failed to update member", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}

	prometheus.RecordMemberOperation("update")
	log.Info("Family member updated", zap.String("id", member.ID.String()))

	return c.JSON(http.StatusOK, member)
}

// DeleteMember removes a person from the family tree.
func DeleteMember(c echo.Context) error {
	log := logger.FromContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		log.Error("Invalid member ID", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid member ID"})
	}

	db := database.GetDB().WithContext(c.Request().Context())

	defer prometheus.TrackDBOperation("delete")(time.Now())
	var member model.FamilyMember
	if result := db.First(&member, "id = ?", id); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "member not found"})
		}
		log.Error("Failed to load member", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "deletion failed"})
	}

	if err := policy.Decide(c.Request().Context(), policy.OpDelete, &member); err != nil {
		prometheus.RecordPolicyDenial("family_members", "delete")
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not allowed"})
	}

	if result := db.Delete(&member); result.Error != nil {
		if policy.IsDenied(result.Error) {
			prometheus.RecordPolicyDenial("family_members", "delete")
			return c.JSON(http.StatusForbidden, echo.Map{"error": "not allowed"})
		}
		log.Error("Failed to delete member", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "deletion failed"})
	}

	prometheus.RecordMemberOperation("delete")
	log.Info("Family member deleted", zap.String("id", id.String()))

	return c.JSON(http.StatusOK, echo.Map{"message": "member deleted"})
}

// checkRelationshipTargets verifies every referenced member exists in the
// same family. The structural checks (known keys, no self-reference) already
// ran in Validate.
func checkRelationshipTargets(db *gorm.DB, familyID uuid.UUID, rels model.RelationshipMap, selfID uuid.UUID) error {
	if len(rels) == 0 {
		return nil
	}
	targets := make([]uuid.UUID, 0, len(rels))
	seen := make(map[uuid.UUID]bool, len(rels))
	for _, target := range rels {
		if target == selfID || seen[target] {
			continue
		}
		seen[target] = true
		targets = append(targets, target)
	}
	if len(targets) == 0 {
		return nil
	}

	var count int64
	result := db.Model(&model.FamilyMember{}).
		Where("family_id = ? AND id IN ?", familyID, targets).
		Count(&count)
	if result.Error != nil {
		return result.Error
	}
	if int(count) != len(targets) {
		return errors.New("relationship references a member outside this family")
	}
	return nil
}
