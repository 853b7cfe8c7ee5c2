package school

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clasedesurf/tidepool/internal/middleware"
	"github.com/clasedesurf/tidepool/internal/user"
	apperrors "github.com/clasedesurf/tidepool/pkg/errors"
	"github.com/clasedesurf/tidepool/pkg/response"
)

// Handler serves organization lookup and the school catalog
type Handler struct {
	repo   *Repository
	users  *user.Repository
	logger *zap.Logger
}

// NewHandler creates a new school handler
func NewHandler(repo *Repository, users *user.Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, users: users, logger: logger}
}

// Organization resolves the school a principal is confined to
// GET /organizations/principal/:id
func (h *Handler) Organization(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		response.ValidationError(c, "id must be a positive integer")
		return
	}
	if claims.UserID != id && claims.Role != user.RoleAdmin {
		response.Error(c, apperrors.ErrForbidden)
		return
	}

	role := claims.Role
	if claims.UserID != id {
		usr, err := h.users.FindByID(c.Request.Context(), id)
		if err != nil {
			h.fail(c, err)
			return
		}
		if usr == nil {
			response.Error(c, apperrors.ErrNotFound)
			return
		}
		role = usr.Role
	}

	orgID, err := h.repo.OrganizationFor(c.Request.Context(), id, role)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"organizationId": orgID})
}

// ListInstructors GET /instructors
func (h *Handler) ListInstructors(c *gin.Context) {
	schoolID, ok := h.scope(c, queryInt(c, "schoolId"))
	if !ok {
		return
	}
	instructors, err := h.repo.ListInstructors(c.Request.Context(), schoolID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, instructors)
}

// CreateInstructor POST /instructors
func (h *Handler) CreateInstructor(c *gin.Context) {
	var in NewInstructor
	if err := c.ShouldBindJSON(&in); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	schoolID, ok := h.scope(c, in.SchoolID)
	if !ok {
		return
	}
	if schoolID == 0 {
		response.ValidationError(c, "schoolId is required")
		return
	}
	in.SchoolID = schoolID

	id, err := h.repo.CreateInstructor(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"id": id, "schoolId": schoolID})
}

// ListClasses GET /classes
func (h *Handler) ListClasses(c *gin.Context) {
	schoolID, ok := h.scope(c, queryInt(c, "schoolId"))
	if !ok {
		return
	}
	classes, err := h.repo.ListClasses(c.Request.Context(), schoolID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, classes)
}

// CreateClass POST /classes
func (h *Handler) CreateClass(c *gin.Context) {
	var in NewClass
	if err := c.ShouldBindJSON(&in); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	schoolID, ok := h.scope(c, in.SchoolID)
	if !ok {
		return
	}
	if schoolID == 0 {
		response.ValidationError(c, "schoolId is required")
		return
	}
	in.SchoolID = schoolID

	id, err := h.repo.CreateClass(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"id": id, "schoolId": schoolID})
}

// ListStudents GET /students
func (h *Handler) ListStudents(c *gin.Context) {
	schoolID, ok := h.scope(c, queryInt(c, "schoolId"))
	if !ok {
		return
	}
	students, err := h.repo.ListStudents(c.Request.Context(), schoolID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, students)
}

// DashboardStats GET /stats/dashboard
func (h *Handler) DashboardStats(c *gin.Context) {
	schoolID, ok := h.scope(c, queryInt(c, "schoolId"))
	if !ok {
		return
	}
	if schoolID == 0 {
		response.ValidationError(c, "schoolId is required")
		return
	}
	stats, err := h.repo.Stats(c.Request.Context(), schoolID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// MySchool GET /schools/my-school
func (h *Handler) MySchool(c *gin.Context) {
	schoolID, ok := h.scope(c, queryInt(c, "schoolId"))
	if !ok {
		return
	}
	if schoolID == 0 {
		response.ValidationError(c, "schoolId is required")
		return
	}
	s, err := h.repo.FindByID(c.Request.Context(), schoolID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if s == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}
	response.Success(c, http.StatusOK, s)
}

// scope re-checks the requested school against the caller's own. ADMIN may
// name any school (0 meaning all); everyone else is pinned to theirs and a
// mismatching request is refused. On false the response is already written.
func (h *Handler) scope(c *gin.Context, requested int) (int, bool) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return 0, false
	}
	if claims.Role == user.RoleAdmin {
		return requested, true
	}

	own, err := h.repo.OrganizationFor(c.Request.Context(), claims.UserID, claims.Role)
	if errors.Is(err, ErrNoOrganization) {
		response.Error(c, apperrors.ErrForbidden)
		return 0, false
	}
	if err != nil {
		h.fail(c, err)
		return 0, false
	}
	if requested != 0 && requested != own {
		h.logger.Warn("cross-organization request refused",
			zap.Int("principal_id", claims.UserID),
			zap.Int("own_school_id", own),
			zap.Int("requested_school_id", requested),
		)
		response.Error(c, apperrors.ErrForbidden)
		return 0, false
	}
	return own, true
}

func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, ErrNoOrganization) {
		response.Error(c, apperrors.ErrNotFound)
		return
	}
	h.logger.Error("school request failed", zap.String("route", c.FullPath()), zap.Error(err))
	response.Error(c, err)
}

func queryInt(c *gin.Context, key string) int {
	n, _ := strconv.Atoi(c.Query(key))
	return n
}
