/*
Copyright 2024 Tabwise Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package tabwise

import (
	"context"
	"encoding/json"
	"log"

	"go.opentelemetry.io/otel"

	"github.com/tabwise-finance/tabwise/config"
	redis_db "github.com/tabwise-finance/tabwise/internal/redis-db"
	"github.com/tabwise-finance/tabwise/model"

	"github.com/hibiken/asynq"
)

// Relay dispatches one-way messages to counterpart deployments on other
// chains. Delivery is fire-and-forget; receivers are responsible for
// deduplicating by message id.
type Relay interface {
	Dispatch(ctx context.Context, destinationChain, messageID, kind string, payload []byte) error
}

// RelayEnvelope wraps an outbound message with its routing metadata.
type RelayEnvelope struct {
	MessageID        string          `json:"message_id"`
	Kind             string          `json:"kind"`
	SourceChain      string          `json:"source_chain"`
	DestinationChain string          `json:"destination_chain"`
	Sender           string          `json:"sender"`
	Payload          json.RawMessage `json:"payload"`
}

// RelayQueue is the asynq-backed relay outbox.
type RelayQueue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewRelayQueue initializes a new RelayQueue instance with the provided configuration.
//
// Parameters:
// - conf *config.Configuration: The configuration for the queue.
//
// Returns:
// - *RelayQueue: A pointer to the newly created RelayQueue instance.
func NewRelayQueue(conf *config.Configuration) *RelayQueue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &RelayQueue{
		Client:    client,
		Inspector: inspector,
	}
}

// Dispatch enqueues an outbound relay message. The task id is the message id,
// so re-dispatching the same message collapses into a single delivery.
func (q *RelayQueue) Dispatch(_ context.Context, destinationChain, messageID, kind string, payload []byte) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	envelope := RelayEnvelope{
		MessageID:        messageID,
		Kind:             kind,
		SourceChain:      cfg.Chain.LocalChain,
		DestinationChain: destinationChain,
		Sender:           cfg.Chain.LocalAddress,
		Payload:          payload,
	}
	IPayload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(messageID + ":" + destinationChain),
		asynq.Queue(cfg.Queue.RelayOutboundQueue),
	}
	task := asynq.NewTask(cfg.Queue.RelayOutboundQueue, IPayload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued relay message: %s -> %s", kind, destinationChain)
	return nil
}

// ProcessRelayMessage consumes an inbound relay task and routes it to the
// bridge handler for its kind. Unknown kinds are dropped after logging; a
// malformed payload is also dropped so it does not poison the queue.
func (t *Tabwise) ProcessRelayMessage(ctx context.Context, task *asynq.Task) error {
	ctx, span := otel.Tracer("tabwise.relay").Start(ctx, "ProcessRelayMessage")
	defer span.End()

	var envelope RelayEnvelope
	if err := json.Unmarshal(task.Payload(), &envelope); err != nil {
		log.Printf("Error unmarshaling relay envelope: %v", err)
		return nil
	}

	switch envelope.Kind {
	case model.MessageKindSync:
		var msg model.SyncMessage
		if err := json.Unmarshal(envelope.Payload, &msg); err != nil {
			log.Printf("Error unmarshaling sync message %s: %v", envelope.MessageID, err)
			return nil
		}
		return t.ReceiveSynchronization(ctx, envelope.SourceChain, envelope.Sender, msg)
	case model.MessageKindPayment:
		var msg model.PaymentMessage
		if err := json.Unmarshal(envelope.Payload, &msg); err != nil {
			log.Printf("Error unmarshaling payment message %s: %v", envelope.MessageID, err)
			return nil
		}
		_, err := t.ReceivePayment(ctx, envelope.SourceChain, envelope.Sender, msg)
		return err
	case model.MessageKindSettlement:
		var msg model.SettlementMessage
		if err := json.Unmarshal(envelope.Payload, &msg); err != nil {
			log.Printf("Error unmarshaling settlement message %s: %v", envelope.MessageID, err)
			return nil
		}
		return t.ReceiveSettlementConfirmation(ctx, envelope.SourceChain, envelope.Sender, msg)
	default:
		log.Printf("Dropping relay message %s with unknown kind %q", envelope.MessageID, envelope.Kind)
		return nil
	}
}
