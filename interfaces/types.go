package interfaces

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Space is a tenant-scoped container for resources.
// UUID and ID are immutable once assigned; Controller may change through an
// authorized upsert.
type Space struct {
	// UUID is the bare space identifier, e.g. "0b04c26b-...".
	UUID string `json:"-"`

	// ID is the urn:uuid form of UUID. It never changes post-creation.
	ID string `json:"id"`

	// Controller is the did:key identifier authorized to mutate the space.
	Controller string `json:"controller"`
}

// Resource is a stored byte blob with its content type.
// Content may be empty; the pair is always read and written together.
type Resource struct {
	Content     []byte
	ContentType string
}

const urnUUIDPrefix = "urn:uuid:"

// MakeURNUUID returns the urn:uuid string for a bare space UUID.
func MakeURNUUID(spaceUUID string) string {
	return urnUUIDPrefix + spaceUUID
}

// ParseURNUUID extracts the UUID from a urn:uuid string.
func ParseURNUUID(value string) (uuid.UUID, error) {
	if !strings.HasPrefix(value, urnUUIDPrefix) {
		return uuid.UUID{}, fmt.Errorf("invalid urn:uuid: %q", value)
	}
	u, err := uuid.Parse(value[len(urnUUIDPrefix):])
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("invalid urn:uuid: %w", err)
	}
	return u, nil
}
