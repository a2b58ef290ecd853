package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mongoadapter "github.com/avelkaz/markethold/internal/adapters/mongo"
	"github.com/avelkaz/markethold/internal/adapters/rabbit"
	"github.com/avelkaz/markethold/internal/config"
	"github.com/avelkaz/markethold/internal/observability"
)

// audit-worker tails the reservation and wallet event streams into the Mongo
// audit collection.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg.OTLPEndpoint, "markethold-audit")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database("markethold"), logger)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, "audit.q", "reservation.*", "wallet.*")
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to start consuming: %v", err)
	}

	go func() {
		logger.Info("audit worker started")
		for d := range deliveries {
			var data map[string]interface{}
			if err := json.Unmarshal(d.Body, &data); err != nil {
				logger.Warn("audit: bad event payload: ", err)
				d.Nack(false, false)
				continue
			}
			aggregateID, _ := data["reservation_id"].(string)
			if aggregateID == "" {
				aggregateID, _ = data["user_id"].(string)
			}
			if err := audit.Record(ctx, d.RoutingKey, aggregateID, data); err != nil {
				d.Nack(false, true)
				continue
			}
			d.Ack(false)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutdown audit worker")
}
