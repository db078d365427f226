package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/meditrack/backend/internal/queue"
	"github.com/meditrack/backend/internal/server"
	"github.com/meditrack/backend/internal/util"
	"github.com/meditrack/backend/pkg/engine"
	"github.com/meditrack/backend/pkg/logger"
	"github.com/meditrack/backend/pkg/logger/console"
	"github.com/meditrack/backend/pkg/store"
	"github.com/meditrack/backend/pkg/store/memory"
	pgxstore "github.com/meditrack/backend/pkg/store/pgx"
	"github.com/meditrack/backend/pkg/topology"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	// Track store
	var storage store.TrackStorage
	var dbStore *pgxstore.TrackDBStorage
	if util.GetEnvString("STORE", "memory") == "postgres" {
		pgConn, err := pgxpool.New(ctx, util.GetEnv("DATABASE_URL"))
		if err != nil {
			logger.Fatal("Unable to connect to database", "err", err)
		}
		defer pgConn.Close()
		dbStore = pgxstore.NewTrackDBStorageWithConnection(pgConn)
		storage = dbStore
	} else {
		storage = memory.NewMemoryStorage()
	}

	// Topology
	topo := topology.New()
	topoLoaded := false
	if dbStore != nil {
		nodes, edges, err := dbStore.LoadTopology(ctx)
		if err != nil {
			logger.Fatal("Failed to load topology from database", "err", err)
		}
		if len(nodes) > 0 {
			if err := topo.Load(nodes, edges); err != nil {
				logger.Fatal("Stored topology is invalid", "err", err)
			}
			topoLoaded = true
		}
	}
	if !topoLoaded {
		path := util.GetEnvString("TOPOLOGY_PATH", "config/topology.yaml")
		nodes, edges, err := topology.LoadFile(path)
		if err != nil {
			logger.Fatal("Failed to read topology file", "path", path, "err", err)
		}
		if err := topo.Load(nodes, edges); err != nil {
			logger.Fatal("Topology file is invalid", "path", path, "err", err)
		}
	}

	// Pick up layout replacements applied through the API while the
	// worker keeps running.
	if dbStore != nil {
		refreshEvery := time.Duration(util.GetEnvNumeric("TOPOLOGY_REFRESH_SECONDS", 60)) * time.Second
		go topology.Refresh(ctx, topo, refreshEvery, dbStore.LoadTopology)
	}

	eng := engine.New(topo, server.EngineOptionsFromEnv())

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	// Init rabbitmq queues if not exist
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	queues := []string{queue.AssociateQueue}
	if err := queue.SetupQueues(ch, queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	logger.Info("Listening for messages")

	// One consumer channel with prefetch=1 so only a single message is in
	// flight at a time across all queues.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	err = consumerCh.Qos(1, 0, true)
	if err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queues {
		go func(qName string) {
			consumerTag := fmt.Sprintf("%s_consumer", qName)
			msgs, err := consumerCh.Consume(
				qName,
				consumerTag,
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						return
					}
					messageChan <- queuedMessage{msg: msg, queueName: qName}
				}
			}
		}(queueName)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messageChan:
				startTime := time.Now()
				logger.Info("Received message", "queue", qm.queueName)

				var processingErr error
				switch qm.queueName {
				case queue.AssociateQueue:
					processingErr = queue.ProcessAssociateMessage(ctx, eng, storage, ch, string(qm.msg.Body))
				}

				// If there was an error send to retry or dead-letter, otherwise ack the message
				if processingErr != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
					handleProcessingError(consumerCh, qm.msg, qm.queueName)
				} else {
					if err := qm.msg.Ack(false); err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", qm.queueName)
				}

				logger.Info("Processing time", "duration", time.Since(startTime).Round(time.Millisecond).String())
				logger.Info("Waiting for next message")
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

func handleProcessingError(ch *amqp.Channel, msg amqp.Delivery, queueName string) {
	retries := 0
	if val, ok := msg.Headers["x-retries"]; ok {
		if v, ok := val.(int32); ok {
			retries = int(v)
		}
	}

	// If message has been retried 10 times, send to dead-letter
	if retries >= 10 {
		dlqName := queueName + "_dlq"
		logger.Info("Sending message to DLQ", "dlq", dlqName)
		pubErr := ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp.Publishing{
				ContentType: "application/json",
				Body:        msg.Body,
				Headers:     msg.Headers,
			},
		)
		if pubErr != nil {
			logger.Error("Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := msg.Headers
	if headers == nil {
		headers = amqp.Table{}
	}
	headers["x-retries"] = retries + 1

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        msg.Body,
			Headers:     headers,
		},
	)
	if pubErr != nil {
		logger.Error("Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}
