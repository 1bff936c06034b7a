package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/avigil/guardlab/internal/domain"
)

// GenerateETag generates an ETag for a resource based on its ID and
// updated_at timestamp.
// Format: "<resource_type>-<id>-<updated_at_unix_nano>"
func GenerateETag(resourceType, id string, updatedAt time.Time) string {
	return fmt.Sprintf(`"%s-%s-%d"`, resourceType, id, updatedAt.UnixNano())
}

// SetETagHeader sets the ETag header on the response.
func SetETagHeader(w http.ResponseWriter, resourceType, id string, updatedAt time.Time) {
	w.Header().Set("ETag", GenerateETag(resourceType, id, updatedAt))
}

// CheckIfMatch checks if the If-Match header matches the current ETag.
// A missing If-Match header passes; ETag checking is optional.
func CheckIfMatch(r *http.Request, resourceType, id string, updatedAt time.Time) bool {
	ifMatch := r.Header.Get("If-Match")
	if ifMatch == "" {
		return true
	}
	return ifMatch == GenerateETag(resourceType, id, updatedAt)
}

// RespondPreconditionFailed writes a 412 Precondition Failed response.
func RespondPreconditionFailed(w http.ResponseWriter, resourceType, id string, updatedAt time.Time) {
	respondStandardError(w, http.StatusPreconditionFailed, domain.ErrCodePreconditionFailed,
		"resource has been modified", "", map[string]any{
			"currentETag": GenerateETag(resourceType, id, updatedAt),
		})
}

// Environment ETag helpers
func SetEnvironmentETag(w http.ResponseWriter, env *domain.Environment) {
	SetETagHeader(w, "environment", env.ID, env.UpdatedAt)
}

func CheckEnvironmentIfMatch(r *http.Request, env *domain.Environment) bool {
	return CheckIfMatch(r, "environment", env.ID, env.UpdatedAt)
}

// Host ETag helpers
func SetHostETag(w http.ResponseWriter, host *domain.Host) {
	SetETagHeader(w, "host", host.ID, host.UpdatedAt)
}

func CheckHostIfMatch(r *http.Request, host *domain.Host) bool {
	return CheckIfMatch(r, "host", host.ID, host.UpdatedAt)
}
