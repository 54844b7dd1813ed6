package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"example.com/sitewatch/services/monitoring/internal/cache"
	"example.com/sitewatch/services/monitoring/internal/models"

	"github.com/sirupsen/logrus"
)

// ReadingProcessor drains incoming readings through a worker pool so
// queue consumption never blocks on a slow evaluation cycle
type ReadingProcessor struct {
	svc     Service
	log     *logrus.Logger
	workers int
	queue   chan *models.Reading
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	queueCapacityAlertThreshold float64
}

// NewReadingProcessor creates a processor with a worker pool
func NewReadingProcessor(svc Service, log *logrus.Logger, workers int) *ReadingProcessor {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	rp := &ReadingProcessor{
		svc:                         svc,
		log:                         log,
		workers:                     workers,
		queue:                       make(chan *models.Reading, 10000),
		ctx:                         ctx,
		cancel:                      cancel,
		queueCapacityAlertThreshold: 0.8,
	}

	rp.startWorkers()
	go rp.monitorQueueCapacity()

	rp.log.Infof("Started reading processor with %d workers", workers)

	return rp
}

// startWorkers launches the worker goroutines
func (rp *ReadingProcessor) startWorkers() {
	for i := 0; i < rp.workers; i++ {
		rp.wg.Add(1)
		go rp.worker(i)
	}
}

// worker processes readings from the queue
func (rp *ReadingProcessor) worker(id int) {
	defer rp.wg.Done()

	for {
		select {
		case <-rp.ctx.Done():
			rp.log.Debugf("Worker %d shutting down", id)
			return
		case reading := <-rp.queue:
			start := time.Now()
			rp.processReading(reading)
			rp.log.Debugf("Worker %d processed reading in %v", id, time.Since(start))
		}
	}
}

// monitorQueueCapacity logs a warning when the buffer fills up
func (rp *ReadingProcessor) monitorQueueCapacity() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-rp.ctx.Done():
			return
		case <-ticker.C:
			queueLength := len(rp.queue)
			queueCapacity := cap(rp.queue)
			usage := float64(queueLength) / float64(queueCapacity)

			if usage >= rp.queueCapacityAlertThreshold {
				rp.log.Warnf("Reading queue at %d%% capacity (%d/%d)!", int(usage*100), queueLength, queueCapacity)
			}
		}
	}
}

// processReading runs one reading through the pipeline. Readings from
// unregistered devices are dropped silently; everything else that
// fails is logged, the queue moves on either way.
func (rp *ReadingProcessor) processReading(reading *models.Reading) {
	ctx := context.Background()

	err := rp.svc.IngestReading(ctx, reading)
	if err == nil {
		return
	}
	if errors.Is(err, cache.ErrDeviceNotFound) {
		rp.log.WithFields(logrus.Fields{
			"device_id":    reading.DeviceID,
			"sensor_class": reading.SensorClass,
		}).Warn("Dropping reading from unregistered device")
		return
	}
	rp.log.WithError(err).WithField("device_id", reading.DeviceID).Error("Failed to process reading")
}

// EnqueueReading adds a reading to the queue for processing
func (rp *ReadingProcessor) EnqueueReading(reading *models.Reading) error {
	select {
	case rp.queue <- reading:
		return nil
	default:
		return errors.New("reading queue is full")
	}
}

// HandleMessage decodes a queue message into a reading and enqueues
// it. Wired as the Service Bus message handler; a decode error rejects
// the message, a full queue sends it back for redelivery.
func (rp *ReadingProcessor) HandleMessage(ctx context.Context, body []byte) error {
	var reading models.Reading
	if err := json.Unmarshal(body, &reading); err != nil {
		rp.log.WithError(err).Warn("Discarding undecodable reading message")
		return nil
	}
	if reading.DeviceID == "" || len(reading.Values) == 0 {
		rp.log.Warn("Discarding reading message without device id or values")
		return nil
	}
	return rp.EnqueueReading(&reading)
}

// Stop gracefully shuts down the processor
func (rp *ReadingProcessor) Stop() {
	rp.log.Info("Stopping reading processor...")
	rp.cancel()
	rp.wg.Wait()
	rp.log.Info("Reading processor stopped")
}

// QueueStats returns current queue statistics
func (rp *ReadingProcessor) QueueStats() map[string]interface{} {
	return map[string]interface{}{
		"queue_length":   len(rp.queue),
		"queue_capacity": cap(rp.queue),
		"worker_count":   rp.workers,
	}
}
