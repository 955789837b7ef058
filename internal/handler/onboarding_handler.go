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

// ListPendingRequests returns all onboarding requests awaiting review.
func ListPendingRequests(c echo.Context) error {
	log := logger.FromContext(c)

	db := database.GetDB().WithContext(c.Request().Context())

	defer prometheus.TrackDBOperation("query")(time.Now())
	var requests []model.OnboardingRequest
	result := db.Where("status = ?", model.RequestPending).
		Order("requested_at ASC").
		Find(&requests)
	if result.Error != nil {
		log.Error("Failed to list pending requests", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list requests"})
	}

	prometheus.PendingRequestsGauge.Set(float64(len(requests)))

	return c.JSON(http.StatusOK, echo.Map{
		"requests": requests,
		"count":    len(requests),
	})
}

// ApproveRequest approves a pending onboarding request: it marks the request
// approved, creates the family and its admin user, and links the two. The
// status flip is a conditional update so a request is approved at most once
// even under concurrent reviews.
func ApproveRequest(c echo.Context) error {
	log := logger.FromContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		log.Error("Invalid request ID", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request ID"})
	}

	requester, _ := c.Get("requester").(*policy.Requester)

	defer prometheus.TrackDBOperation("update")(time.Now())
	tx := database.GetDB().WithContext(c.Request().Context()).Begin()
	if tx.Error != nil {
		log.Error("Failed to begin transaction", zap.Error(tx.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "approval failed"})
	}

	var request model.OnboardingRequest
	if result := tx.First(&request, "id = ?", id); result.Error != nil {
		tx.Rollback()
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "request not found"})
		}
		log.Error("Failed to load onboarding request", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "approval failed"})
	}

	if request.Status != model.RequestPending {
		tx.Rollback()
		log.Warn("Request already reviewed",
			zap.String("id", id.String()),
			zap.String("status", request.Status))
		return c.JSON(http.StatusConflict, echo.Map{"error": "request has already been reviewed"})
	}

	now := time.Now().UTC()
	newUserID := uuid.New()

	// Conditional flip: only a still-pending row transitions. Zero rows
	// affected means another reviewer got there first.
	flip := tx.Model(&model.OnboardingRequest{}).
		Where("id = ? AND status = ?", id, model.RequestPending).
		Updates(map[string]interface{}{
			"status":      model.RequestApproved,
			"user_id":     newUserID,
			"reviewed_by": requester.ID,
			"reviewed_at": now,
		})
	if flip.Error != nil {
		tx.Rollback()
		log.Error("Failed to update request status", zap.Error(flip.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "approval failed"})
	}
	if flip.RowsAffected == 0 {
		tx.Rollback()
		return c.JSON(http.StatusConflict, echo.Map{"error": "request has already been reviewed"})
	}

	family := model.Family{
		FamilyName:              request.FamilyName,
		AdminUserID:             &newUserID,
		FamilyPasswordEncrypted: request.FamilyPasswordEncrypted,
	}
	if result := tx.Create(&family); result.Error != nil {
		tx.Rollback()
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			log.Error("Family name taken since registration", zap.String("family_name", request.FamilyName))
			return c.JSON(http.StatusConflict, echo.Map{"error": "family name already exists"})
		}
		log.Error("Failed to create family", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "approval failed"})
	}

	passwordHash := request.PasswordHash
	user := model.User{
		ID:             newUserID,
		Email:          request.Email,
		FullName:       request.FullName,
		FamilyID:       &family.ID,
		Role:           model.RoleFamilyAdmin,
		ApprovalStatus: model.ApprovalApproved,
		PasswordHash:   &passwordHash,
	}
	if result := tx.Create(&user); result.Error != nil {
		tx.Rollback()
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			log.Error("Email registered since request was filed", zap.String("email", request.Email))
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already registered"})
		}
		log.Error("Failed to create admin user", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "approval failed"})
	}

	if err := tx.Commit().Error; err != nil {
		log.Error("Failed to commit approval", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "approval failed"})
	}

	prometheus.OnboardingReviewCounter.WithLabelValues("approved").Inc()
	log.Info("Onboarding request approved",
		zap.String("request_id", id.String()),
		zap.String("email", user.Email),
		zap.String("family_name", family.FamilyName))

	return c.JSON(http.StatusOK, echo.Map{
		"message":     "request approved",
		"status":      model.RequestApproved,
		"request_id":  id,
		"user_id":     user.ID,
		"family_id":   family.ID,
		"email":       user.Email,
		"family_name": family.FamilyName,
	})
}

// RejectRequest rejects a pending onboarding request with an optional reason.
func RejectRequest(c echo.Context) error {
	log := logger.FromContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		log.Error("Invalid request ID", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request ID"})
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse rejection request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	requester, _ := c.Get("requester").(*policy.Requester)
	db := database.GetDB().WithContext(c.Request().Context())

	defer prometheus.TrackDBOperation("update")(time.Now())
	var request model.OnboardingRequest
	if result := db.First(&request, "id = ?", id); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "request not found"})
		}
		log.Error("Failed to load onboarding request", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "rejection failed"})
	}

	now := time.Now().UTC()
	flip := db.Model(&model.OnboardingRequest{}).
		Where("id = ? AND status = ?", id, model.RequestPending).
		Updates(map[string]interface{}{
			"status":           model.RequestRejected,
			"rejection_reason": req.Reason,
			"reviewed_by":      requester.ID,
			"reviewed_at":      now,
		})
	if flip.Error != nil {
		log.Error("Failed to update request status", zap.Error(flip.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "rejection failed"})
	}
	if flip.RowsAffected == 0 {
		log.Warn("Request already reviewed",
			zap.String("id", id.String()),
			zap.String("status", request.Status))
		return c.JSON(http.StatusConflict, echo.Map{"error": "request has already been reviewed"})
	}

	prometheus.OnboardingReviewCounter.WithLabelValues("rejected").Inc()
	log.Info("Onboarding request rejected",
		zap.String("request_id", id.String()),
		zap.String("email", request.Email))

	return c.JSON(http.StatusOK, echo.Map{
		"message":    "request rejected",
		"status":     model.RequestRejected,
		"request_id": id,
	})
}
