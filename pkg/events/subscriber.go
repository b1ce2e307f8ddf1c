package events

import (
	"context"
	"encoding/json"

	"github.com/pitabwire/util"
)

// AuditSubscriber implements queue.SubscribeWorker. It consumes the event
// queue and writes an audit trail of everything flowing through the bus,
// including events published by other instances.
type AuditSubscriber struct{}

// Handle is called by frame's pub/sub for each event message.
func (s *AuditSubscriber) Handle(ctx context.Context, _ map[string]string, message []byte) error {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		util.Log(ctx).WithError(err).Error("event subscriber: unmarshal envelope")
		return err
	}

	logger := util.Log(ctx)
	msg := "event: " + string(env.Type) + " id=" + env.ID
	if env.SessionID != "" {
		msg += " session=" + env.SessionID
	}
	if env.Type == SystemError {
		logger.Error(msg)
	} else {
		logger.Debug(msg)
	}
	return nil
}
