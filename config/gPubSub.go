package config

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// ReconcileRequest is the payload on the reconcile topic. Cloud Scheduler publishes one with
// Reason "schedule"; the ledger publishes one with Reason "contribution" after each recorded payment.
type ReconcileRequest struct {
	Reason        string    `json:"reason"`
	AccountNo     string    `json:"account_no,omitempty"`
	Period        string    `json:"period,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
	CorrelationId string    `json:"correlation_id,omitempty"`
}

// PushEnvelope is the body Pub/Sub push subscriptions POST to the service.
type PushEnvelope struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return os.Getenv("GCP_PROJECT")
}

// ReconcileTopic returns the topic name, empty when publishing is disabled.
func ReconcileTopic() string {
	return strings.TrimSpace(os.Getenv("PUBSUB_RECONCILE_TOPIC"))
}

func getPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	var (
		c   *pubsub.Client
		err error
	)
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		// Application Default Credentials.
		c, err = pubsub.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, err
	}
	pubsubClient = c
	log.Printf("pubsub client ready (project_id=%s)", projectID)
	return pubsubClient, nil
}

// PublishReconcileRequest publishes msg to PUBSUB_RECONCILE_TOPIC and returns the server-assigned id.
// It returns ("", nil) when no topic is configured.
func PublishReconcileRequest(ctx context.Context, msg ReconcileRequest) (string, error) {
	topicName := ReconcileTopic()
	if topicName == "" {
		return "", nil
	}
	client, err := getPubSubClient(ctx)
	if err != nil {
		return "", err
	}

	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	result := client.Topic(topicName).Publish(ctx, &pubsub.Message{
		Data: msgJSON,
		Attributes: map[string]string{
			"reason": msg.Reason,
		},
	})
	return result.Get(ctx)
}

// ClosePubSub releases the shared client (best-effort).
func ClosePubSub() {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		_ = pubsubClient.Close()
		pubsubClient = nil
	}
}
