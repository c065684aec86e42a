package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

const catalogChannel = "desk:catalog"

type catalogChange struct {
	Instance string `json:"instance"`
	Desk     string `json:"desk"`
}

// CatalogNotifier broadcasts borrow and return events between server
// instances sharing one redis.
type CatalogNotifier struct {
	client   *Client
	instance string
	logger   *zap.Logger
}

func NewCatalogNotifier(client *Client, instance string, logger *zap.Logger) *CatalogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogNotifier{client: client, instance: instance, logger: logger}
}

// Publish announces that deskID changed the catalog.
func (n *CatalogNotifier) Publish(ctx context.Context, deskID string) error {
	raw := n.client.Raw()
	if raw == nil {
		return errNotInitialized
	}
	payload, err := json.Marshal(catalogChange{Instance: n.instance, Desk: deskID})
	if err != nil {
		return err
	}
	return raw.Publish(ctx, catalogChannel, payload).Err()
}

// Listen calls handle for every change published by another instance until
// ctx is done. Changes published by this instance are skipped.
func (n *CatalogNotifier) Listen(ctx context.Context, handle func(deskID string)) error {
	raw := n.client.Raw()
	if raw == nil {
		return errNotInitialized
	}
	pubsub := raw.Subscribe(ctx, catalogChannel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", catalogChannel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var change catalogChange
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				n.logger.Warn("decode catalog change", zap.Error(err))
				continue
			}
			if change.Instance == n.instance {
				continue
			}
			handle(change.Desk)
		}
	}
}
