package commission

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/clinicref/backend/internal/models"
)

// NewReference builds a readable, unique reference for a commission record,
// e.g. "sorriso-centro-consultant-20260114-1f0c3a9b2d4e".
func NewReference(establishmentCode string, kind models.CommissionKind, recordID uuid.UUID, at time.Time) string {
	base := slug.Make(establishmentCode)
	if base == "" {
		base = "est"
	}
	suffix := strings.ReplaceAll(recordID.String(), "-", "")[:12]
	return fmt.Sprintf("%s-%s-%s-%s", base, slug.Make(string(kind)), at.UTC().Format("20060102"), suffix)
}
