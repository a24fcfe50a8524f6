package delivery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spendmonitor/alertengine/pkg/domain"
)

// FileDeliveryService writes each notification to its own file under
// dir. It exists for local development and integration tests, where
// standing up real SMTP/webhook endpoints is unnecessary friction.
type FileDeliveryService struct {
	dir string
}

// NewFileDeliveryService builds a FileDeliveryService rooted at dir.
// dir is created lazily on first Deliver, not here, so a misconfigured
// path surfaces as a retryable delivery error rather than a
// construction-time panic.
func NewFileDeliveryService(dir string) *FileDeliveryService {
	return &FileDeliveryService{dir: dir}
}

func (s *FileDeliveryService) Deliver(ctx context.Context, notification *domain.AlertNotification) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return retryable("failed to create output directory", err)
	}

	filename := fmt.Sprintf("%s-%s-%s.txt", notification.RuleID, notification.TransactionID, notification.Channel)
	path := filepath.Join(s.dir, filename)

	body := fmt.Sprintf("Subject: %s\n\n%s\n", notification.Title, notification.Body)

	tmp, err := os.CreateTemp(s.dir, ".notification-*")
	if err != nil {
		return retryable("failed to write temporary file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(body); err != nil {
		tmp.Close()
		return retryable("failed to write temporary file", err)
	}
	if err := tmp.Close(); err != nil {
		return retryable("failed to write temporary file", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return retryable("failed to write temporary file", err)
	}

	return nil
}
