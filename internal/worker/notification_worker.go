package worker

import (
	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/service"
)

// StartNotificationWorker connects domain events to the update bus.
func StartNotificationWorker(notificationService *service.NotificationService, logger *zap.Logger) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
	logger.Debug("notification worker registered")
}
