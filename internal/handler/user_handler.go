package handler

import (
	"errors"
	"net/http"
	"time"

	"familytree-service/internal/model"
	"familytree-service/internal/policy"
	"familytree-service/pkg/crypto"
	"familytree-service/pkg/database"
	"familytree-service/pkg/logger"
	"familytree-service/prometheus"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GetMe returns the authenticated requester's own user row.
func GetMe(c echo.Context) error {
	log := logger.FromContext(c)
	requester, _ := c.Get("requester").(*policy.Requester)

	db := database.GetDB().WithContext(c.Request().Context())

	defer prometheus.TrackDBOperation("query")(time.Now())
	var user model.User
	if result := db.First(&user, "id = ?", requester.ID); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user profile not found"})
		}
		log.Error("Failed to load own profile", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load profile"})
	}

	return c.JSON(http.StatusOK, user)
}

// CreateUser creates a user row. A super admin may create any account; every
// other authenticated identity may only provision its own profile, which is
// always a plain family_user awaiting approval.
func CreateUser(c echo.Context) error {
	log := logger.FromContext(c)
	requester, _ := c.Get("requester").(*policy.Requester)

	var req struct {
		Email          string     `json:"email"`
		FullName       string     `json:"full_name"`
		Role           string     `json:"role"`
		ApprovalStatus string     `json:"approval_status"`
		FamilyID       *uuid.UUID `json:"family_id"`
		Password       string     `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse user creation request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	user := model.User{
		ID:       requester.ID,
		Email:    requester.Email,
		FullName: req.FullName,
		Role:     model.RoleFamilyUser,
		// Self-provisioned profiles wait for an admin to attach and
		// approve them.
		ApprovalStatus: model.ApprovalPending,
	}

	if requester.IsSuperAdmin() {
		user.ID = uuid.New()
		user.Email = req.Email
		user.FamilyID = req.FamilyID
		if req.Role != "" {
			user.Role = req.Role
		}
		if req.ApprovalStatus != "" {
			user.ApprovalStatus = req.ApprovalStatus
		}
		if req.Password != "" {
			hash, err := crypto.HashPassword(req.Password)
			if err != nil {
				log.Error("Failed to hash password", zap.Error(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "user creation failed"})
			}
			user.PasswordHash = &hash
		}
	}

	if user.Email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email is required"})
	}
	if !model.ValidRole(user.Role) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid role"})
	}
	if !model.ValidApprovalStatus(user.ApprovalStatus) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid approval status"})
	}

	db := database.GetDB().WithContext(c.Request().Context())

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if result := db.Create(&user); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			log.Error("User already exists", zap.String("email", user.Email))
			return c.JSON(http.StatusConflict, echo.Map{"error": "user already exists"})
		}
		if policy.IsDenied(result.Error) {
			prometheus.RecordPolicyDenial("users", "insert")
			return c.JSON(http.StatusForbidden, echo.Map{"error": "not allowed"})
		}
		log.Error("Failed to create user", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "user creation failed"})
	}

	log.Info("User created",
		zap.String("id", user.ID.String()),
		zap.String("email", user.Email),
		zap.String("role", user.Role))

	return c.JSON(http.StatusCreated, user)
}

// GetUser returns a user row by ID. Rows outside the requester's scope read
// as not found.
func GetUser(c echo.Context) error {
	log := logger.FromContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		log.Error("Invalid user ID", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user ID"})
	}

	db := database.GetDB().WithContext(c.Request().Context())

	defer prometheus.TrackDBOperation("query")(time.Now())
	var user model.User
	if result := db.First(&user, "id = ?", id); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		log.Error("Failed to load user", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load user"})
	}

	return c.JSON(http.StatusOK, user)
}

// ListUsers returns the users of a family, scoped to what the requester may
// see.
func ListUsers(c echo.Context) error {
	log := logger.FromContext(c)

	familyID, err := uuid.Parse(c.QueryParam("family_id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "family_id query parameter is required"})
	}

	db := database.GetDB().WithContext(c.Request().Context())

	defer prometheus.TrackDBOperation("query")(time.Now())
	var users []model.User
	if result := db.Where("family_id = ?", familyID).Order("created_at ASC").Find(&users); result.Error != nil {
		log.Error("Failed to list users", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list users"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"users": users,
		"count": len(users),
	})
}

// UpdateUser updates a user row. The requester may update its own name and
// password; role, approval status and family assignment are super-admin
// fields.
func UpdateUser(c echo.Context) error {
	log := logger.FromContext(c)
	requester, _ := c.Get("requester").(*policy.Requester)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		log.Error("Invalid user ID", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user ID"})
	}

	var req struct {
		FullName       *string    `json:"full_name"`
		Password       *string    `json:"password"`
		Role           *string    `json:"role"`
		ApprovalStatus *string    `json:"approval_status"`
		FamilyID       *uuid.UUID `json:"family_id"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse user update request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	db := database.GetDB().WithContext(c.Request().Context())

	defer prometheus.TrackDBOperation("update")(time.Now())
	var user model.User
	if result := db.First(&user, "id = ?", id); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		log.Error("Failed to load user", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}

	if err := policy.Decide(c.Request().Context(), policy.OpUpdate, &user); err != nil {
		prometheus.RecordPolicyDenial("users", "update")
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not allowed"})
	}

	if req.Role != nil || req.ApprovalStatus != nil || req.FamilyID != nil {
		if !requester.IsSuperAdmin() {
			prometheus.RecordPolicyDenial("users", "update")
			return c.JSON(http.StatusForbidden, echo.Map{"error": "role, approval status and family assignment require super admin privileges"})
		}
		if req.Role != nil {
			if !model.ValidRole(*req.Role) {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid role"})
			}
			user.Role = *req.Role
		}
		if req.ApprovalStatus != nil {
			if !model.ValidApprovalStatus(*req.ApprovalStatus) {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid approval status"})
			}
			user.ApprovalStatus = *req.ApprovalStatus
		}
		if req.FamilyID != nil {
			user.FamilyID = req.FamilyID
		}
	}

	if req.FullName != nil {
		user.FullName = *req.FullName
	}
	if req.Password != nil {
		hash, err := crypto.HashPassword(*req.Password)
		if err != nil {
			log.Error("Failed to hash password", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
		}
		user.PasswordHash = &hash
	}

	if result := db.Save(&user); result.Error != nil {
		if policy.IsDenied(result.Error) {
			prometheus.RecordPolicyDenial("users", "update")
			return c.JSON(http.StatusForbidden, echo.Map{"error": "not allowed"})
		}
		log.Error("Failed to update user", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}

	log.Info("User updated", zap.String("id", user.ID.String()))

	return c.JSON(http.StatusOK, user)
}

// DeleteUser removes a user account. Super admin only; nobody deletes their
// own row through this endpoint by accident either.
func DeleteUser(c echo.Context) error {
	log := logger.FromContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		log.Error("Invalid user ID", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user ID"})
	}

	db := database.GetDB().WithContext(c.Request().Context())

	defer prometheus.TrackDBOperation("delete")(time.Now())
	var user model.User
	if result := db.First(&user, "id = ?", id); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		log.Error("Failed to load user", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "deletion failed"})
	}

	if err := policy.Decide(c.Request().Context(), policy.OpDelete, &user); err != nil {
		prometheus.RecordPolicyDenial("users", "delete")
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not allowed"})
	}

	if result := db.Delete(&user); result.Error != nil {
		if policy.IsDenied(result.Error) {
			prometheus.RecordPolicyDenial("users", "delete")
			return c.JSON(http.StatusForbidden, echo.Map{"error": "not allowed"})
		}
		log.Error("Failed to delete user", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "deletion failed"})
	}

	log.Info("User deleted", zap.String("id", id.String()))

	return c.JSON(http.StatusOK, echo.Map{"message": "user deleted"})
}
