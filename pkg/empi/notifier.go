package empi

import (
	"context"
	"time"

	"github.com/DevFaso/hms-sub003/pkg/common/kafka"
	"github.com/DevFaso/hms-sub003/pkg/common/logger"
	"github.com/DevFaso/hms-sub003/pkg/common/models"
	"github.com/DevFaso/hms-sub003/pkg/observability/metrics"
)

// Notifier announces identity-changing events to downstream consumers.
// Delivery is strictly best-effort: implementations never return an
// error and never block the write that triggered them.
type Notifier interface {
	Publish(ctx context.Context, kind string, identity models.IdentityView)
}

// KafkaNotifier publishes to the configured identity-events topic.
// Publish failures are logged at warn level and dropped.
type KafkaNotifier struct {
	producer *kafka.Producer
}

func NewKafkaNotifier(producer *kafka.Producer) *KafkaNotifier {
	return &KafkaNotifier{producer: producer}
}

func (n *KafkaNotifier) Publish(ctx context.Context, kind string, identity models.IdentityView) {
	payload := map[string]interface{}{
		"identity_id":       identity.ID.String(),
		"empi_number":       identity.EMPINumber,
		"patient_reference": identity.PatientReference,
		"kind":              kind,
		"timestamp":         time.Now().UTC(),
	}

	if err := n.producer.PublishEvent(ctx, kind, "empi-service", payload); err != nil {
		metrics.IncEventDropped()
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"identity_id": identity.ID,
			"kind":        kind,
		}).Warn("failed to publish identity event")
		return
	}
	metrics.IncEventPublished()
}

// NoopNotifier is selected when event publication is disabled so call
// sites never have to nil-check.
type NoopNotifier struct{}

func (NoopNotifier) Publish(context.Context, string, models.IdentityView) {}
