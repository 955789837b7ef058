package handler

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"familytree-service/internal/model"
	"familytree-service/internal/policy"
	"familytree-service/pkg/config"
	"familytree-service/pkg/crypto"
	"familytree-service/pkg/database"
	"familytree-service/pkg/jwtutil"
	"familytree-service/pkg/logger"
	"familytree-service/prometheus"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var appConfig *config.Config

// Init stores the configuration the handlers need (superadmin bootstrap
// credentials).
func Init(cfg *config.Config) {
	appConfig = cfg
}

// SuperAdminLogin authenticates the platform operator against the
// env-configured bootstrap credentials and provisions the super-admin user
// row on first login.
func SuperAdminLogin(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.LoginCounter.WithLabelValues("superadmin").Inc()

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse superadmin login request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	sa := appConfig.SuperAdmin
	if sa.Password == "" {
		log.Warn("Superadmin login attempted but no password is configured")
		prometheus.RecordAuthError("superadmin_disabled")
		return c.JSON(http.StatusForbidden, echo.Map{"error": "superadmin login is disabled"})
	}

	emailOK := subtle.ConstantTimeCompare([]byte(req.Email), []byte(sa.Email)) == 1
	passwordOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(sa.Password)) == 1
	if !emailOK || !passwordOK {
		log.Error("Invalid superadmin credentials", zap.String("email", req.Email))
		prometheus.RecordAuthError("invalid_credentials")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	// Provisioning the operator's own row runs under the system context;
	// there is no requester yet to evaluate.
	db := database.GetDB().WithContext(policy.SystemContext(c.Request().Context()))

	defer prometheus.TrackDBOperation("query")(time.Now())
	var user model.User
	result := db.Where("email = ?", sa.Email).First(&user)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		user = model.User{
			Email:          sa.Email,
			FullName:       "Super Admin",
			Role:           model.RoleSuperAdmin,
			ApprovalStatus: model.ApprovalApproved,
		}
		if result := db.Create(&user); result.Error != nil {
			log.Error("Failed to provision superadmin user", zap.Error(result.Error))
			prometheus.RecordAuthError("superadmin_provisioning_failed")
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "login failed"})
		}
		log.Info("Superadmin user provisioned", zap.String("email", user.Email))
	} else if result.Error != nil {
		log.Error("Failed to look up superadmin user", zap.Error(result.Error))
		prometheus.RecordAuthError("database_error")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "login failed"})
	}

	if user.Role != model.RoleSuperAdmin {
		log.Error("Bootstrap email is taken by a non-superadmin account", zap.String("email", sa.Email))
		prometheus.RecordAuthError("superadmin_account_conflict")
		return c.JSON(http.StatusConflict, echo.Map{"error": "superadmin account conflict"})
	}

	token, err := jwtutil.GenerateToken(user.ID, user.Email, user.Role, user.ApprovalStatus, user.FamilyID)
	if err != nil {
		log.Error("Failed to generate token", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	prometheus.IncreaseActiveTokens()
	log.Info("Superadmin logged in", zap.String("email", user.Email))

	return c.JSON(http.StatusOK, echo.Map{
		"token": token,
		"user": map[string]interface{}{
			"id":    user.ID,
			"email": user.Email,
			"role":  user.Role,
		},
	})
}

// AdminRegister files an onboarding request for a prospective family admin.
// The generated family password is sealed with the admin's own password and
// returned exactly once in the response.
func AdminRegister(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RegisterCounter.Inc()

	var req struct {
		Email      string `json:"email"`
		FullName   string `json:"full_name"`
		FamilyName string `json:"family_name"`
		Password   string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse registration request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if req.Email == "" || req.FamilyName == "" || req.Password == "" {
		log.Error("Invalid registration data",
			zap.String("email", req.Email),
			zap.String("family_name", req.FamilyName),
			zap.Bool("password_provided", req.Password != ""))
		prometheus.RecordAuthError("incomplete_registration")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email, family_name and password are required"})
	}

	// Uniqueness probes read across tenants, so they run under the system
	// context rather than the (unauthenticated) requester scope.
	db := database.GetDB().WithContext(policy.SystemContext(c.Request().Context()))

	defer prometheus.TrackDBOperation("query")(time.Now())
	var family model.Family
	taken, err := rowExists(db.Where("family_name = ?", req.FamilyName).First(&family))
	if err != nil {
		log.Error("Failed to check family name", zap.Error(err))
		prometheus.RecordAuthError("database_error")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "registration failed"})
	}
	if taken {
		log.Error("Family name already exists", zap.String("family_name", req.FamilyName))
		prometheus.RecordAuthError("family_name_taken")
		return c.JSON(http.StatusConflict, echo.Map{"error": "family name already exists"})
	}

	var pending model.OnboardingRequest
	taken, err = rowExists(db.Where("email = ? AND status = ?", req.Email, model.RequestPending).First(&pending))
	if err != nil {
		log.Error("Failed to check pending requests", zap.Error(err))
		prometheus.RecordAuthError("database_error")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "registration failed"})
	}
	if taken {
		log.Error("Pending request already exists", zap.String("email", req.Email))
		prometheus.RecordAuthError("request_already_exists")
		return c.JSON(http.StatusConflict, echo.Map{"error": "request already exists for this email"})
	}

	var existingUser model.User
	taken, err = rowExists(db.Where("email = ?", req.Email).First(&existingUser))
	if err != nil {
		log.Error("Failed to check registered emails", zap.Error(err))
		prometheus.RecordAuthError("database_error")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "registration failed"})
	}
	if taken {
		log.Error("Email already registered", zap.String("email", req.Email))
		prometheus.RecordAuthError("email_already_exists")
		return c.JSON(http.StatusConflict, echo.Map{"error": "email already registered"})
	}

	familyPassword := crypto.GenerateFamilyPassword()
	sealed, err := crypto.SealFamilyPassword(familyPassword, req.Password)
	if err != nil {
		log.Error("Failed to seal family password", zap.Error(err))
		prometheus.RecordAuthError("encryption_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "registration failed"})
	}

	passwordHash, err := crypto.HashPassword(req.Password)
	if err != nil {
		log.Error("Failed to hash password", zap.Error(err))
		prometheus.RecordAuthError("password_hash_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "registration failed"})
	}

	request := model.OnboardingRequest{
		Email:                   req.Email,
		FullName:                req.FullName,
		FamilyName:              req.FamilyName,
		FamilyPasswordEncrypted: sealed,
		PasswordHash:            passwordHash,
		Status:                  model.RequestPending,
	}

	// Filing a request is the one public insert; it goes through the
	// policy evaluator like everything else.
	defer prometheus.TrackDBOperation("insert")(time.Now())
	if result := database.GetDB().WithContext(c.Request().Context()).Create(&request); result.Error != nil {
		log.Error("Failed to create onboarding request", zap.Error(result.Error))
		prometheus.RecordAuthError("request_creation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "registration failed"})
	}

	log.Info("Onboarding request filed",
		zap.String("email", request.Email),
		zap.String("family_name", request.FamilyName))

	return c.JSON(http.StatusCreated, echo.Map{
		"request_id":      request.ID,
		"status":          request.Status,
		"family_password": familyPassword,
		"message":         "Admin onboarding request created. Awaiting approval.",
	})
}

// rowExists classifies a single-row lookup: found, cleanly absent, or a real
// database failure. Uniqueness pre-checks must not mistake an unhealthy
// database for a free name.
func rowExists(result *gorm.DB) (bool, error) {
	if result.Error == nil {
		return true, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, result.Error
}

// AdminLogin authenticates an approved family admin or co-admin.
func AdminLogin(c echo.Context) error {
	return roleLogin(c, "admin", func(user *model.User) (int, string) {
		if user.Role != model.RoleFamilyAdmin && user.Role != model.RoleFamilyCoAdmin {
			return http.StatusForbidden, "not a family admin account"
		}
		if user.ApprovalStatus != model.ApprovalApproved {
			return http.StatusForbidden, "account is awaiting approval"
		}
		return 0, ""
	})
}

// MemberLogin authenticates a family member account (non-OAuth login).
func MemberLogin(c echo.Context) error {
	return roleLogin(c, "member", func(user *model.User) (int, string) {
		if user.Role != model.RoleFamilyUser {
			return http.StatusForbidden, "not a family member account"
		}
		if user.ApprovalStatus != model.ApprovalApproved {
			return http.StatusForbidden, "account is awaiting approval"
		}
		if user.FamilyID == nil {
			return http.StatusForbidden, "account is not attached to a family"
		}
		return 0, ""
	})
}

// roleLogin is the shared email/password login flow. The gate callback
// rejects accounts whose role or approval state doesn't fit the flow.
func roleLogin(c echo.Context, flow string, gate func(*model.User) (int, string)) error {
	log := logger.FromContext(c)
	prometheus.LoginCounter.WithLabelValues(flow).Inc()

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse login request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	// The login lookup runs under the system context: there is no
	// requester until the credentials check out.
	db := database.GetDB().WithContext(policy.SystemContext(c.Request().Context()))

	defer prometheus.TrackDBOperation("query")(time.Now())
	var user model.User
	result := db.Where("email = ?", req.Email).First(&user)
	if result.Error != nil {
		log.Error("User not found", zap.String("email", req.Email))
		prometheus.RecordAuthError("user_not_found")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	if user.PasswordHash == nil || !crypto.VerifyPassword(req.Password, *user.PasswordHash) {
		log.Error("Invalid password", zap.String("email", req.Email))
		prometheus.RecordAuthError("invalid_password")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	if status, msg := gate(&user); status != 0 {
		log.Error("Login gate rejected account",
			zap.String("email", user.Email),
			zap.String("flow", flow),
			zap.String("reason", msg))
		prometheus.RecordAuthError("login_gate_rejected")
		return c.JSON(status, echo.Map{"error": msg})
	}

	token, err := jwtutil.GenerateToken(user.ID, user.Email, user.Role, user.ApprovalStatus, user.FamilyID)
	if err != nil {
		log.Error("Failed to generate token", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	prometheus.IncreaseActiveTokens()
	log.Info("User logged in",
		zap.String("email", user.Email),
		zap.String("flow", flow),
		zap.String("role", user.Role))

	return c.JSON(http.StatusOK, echo.Map{
		"token": token,
		"user": map[string]interface{}{
			"id":        user.ID,
			"email":     user.Email,
			"role":      user.Role,
			"family_id": user.FamilyID,
		},
	})
}

// RequestStatus returns the review status of an onboarding request. Public:
// applicants poll it before they can authenticate.
func RequestStatus(c echo.Context) error {
	log := logger.FromContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		log.Error("Invalid request ID", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request ID"})
	}

	db := database.GetDB().WithContext(policy.SystemContext(c.Request().Context()))

	defer prometheus.TrackDBOperation("query")(time.Now())
	var request model.OnboardingRequest
	if result := db.First(&request, "id = ?", id); result.Error != nil {
		log.Error("Onboarding request not found", zap.String("id", id.String()))
		return c.JSON(http.StatusNotFound, echo.Map{"error": "request not found"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"request_id":       request.ID,
		"status":           request.Status,
		"email":            request.Email,
		"family_name":      request.FamilyName,
		"requested_at":     request.RequestedAt,
		"reviewed_at":      request.ReviewedAt,
		"rejection_reason": request.RejectionReason,
	})
}
