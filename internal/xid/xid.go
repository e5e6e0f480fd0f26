package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns "<prefix>-<unix seconds>-<8 hex>", keeping the sortable
// INV-<timestamp> shape printed on invoices while avoiding collisions when two
// terminals bill in the same second.
func New(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", strings.ToUpper(prefix), time.Now().Unix(), suffix)
}
