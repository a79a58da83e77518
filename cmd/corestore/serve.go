package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scmcore/corestore/asyncqueue"
	"github.com/scmcore/corestore/blobstore"
	"github.com/scmcore/corestore/internal/config"
	"github.com/scmcore/corestore/internal/xlog"
	"github.com/scmcore/corestore/internal/xmetrics"
)

var (
	serveShardDSNs []string
	serveQueueDSN  string
	serveWorkerID  string
	servePollWait  time.Duration
	serveMetrics   string
)

func init() {
	serveCmd.Flags().StringArrayVar(&serveShardDSNs, "shard", nil, "blobstore shard DSN (repeatable)")
	serveCmd.Flags().StringVar(&serveQueueDSN, "queue-dsn", "queue.sqlite", "async request queue SQL DSN")
	serveCmd.Flags().StringVar(&serveWorkerID, "worker-id", "", "claimed_by identity for this worker (defaults to hostname)")
	serveCmd.Flags().DurationVar(&servePollWait, "idle-wait", time.Second, "sleep between empty dequeue attempts")
	serveCmd.Flags().StringVar(&serveMetrics, "metrics-addr", ":9100", "address to serve /metrics on")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the async request queue worker loop (§4.G dequeue/complete)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	log := xlog.New("cmd.serve")
	if serveWorkerID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "worker"
		}
		serveWorkerID = host
	}
	if len(serveShardDSNs) == 0 {
		serveShardDSNs = []string{"corestore.sqlite"}
	}

	blobs, err := blobstore.NewStore(ctx, config.DefaultBlobstore(serveShardDSNs))
	if err != nil {
		return fmt.Errorf("corestore serve: open blobstore: %w", err)
	}
	defer blobs.Close()

	queue, err := asyncqueue.Open(ctx, serveQueueDSN, blobs)
	if err != nil {
		return fmt.Errorf("corestore serve: open queue: %w", err)
	}
	defer queue.Close()

	metricsSrv := &http.Server{Addr: serveMetrics, Handler: xmetrics.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", "error", err)
		}
	}()
	defer metricsSrv.Close()

	sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("worker loop started", "worker_id", serveWorkerID, "queue_dsn", serveQueueDSN)
	for {
		select {
		case <-sigCtx.Done():
			log.Info("worker loop stopping")
			return nil
		default:
		}

		claim, err := queue.Dequeue(sigCtx, serveWorkerID, nil, time.Now())
		if err != nil {
			log.Error("dequeue failed", "error", err)
			time.Sleep(servePollWait)
			continue
		}
		if claim == nil {
			time.Sleep(servePollWait)
			continue
		}

		log.Info("claimed request", "request_id", claim.RequestID, "type", claim.RequestType)
		// Request-type-specific handlers (derivation, pushrebase, GC
		// jobs) would dispatch on claim.RequestType here; this loop
		// only drives the state machine, echoing params back as the
		// result for types with no registered handler.
		if err := queue.Complete(sigCtx, claim.RequestID, claim.Params); err != nil {
			log.Error("complete failed", "request_id", claim.RequestID, "error", err)
			if rerr := queue.Retry(sigCtx, claim.RequestID, asyncqueue.DefaultMaxRetries); rerr != nil {
				log.Error("retry failed", "request_id", claim.RequestID, "error", rerr)
			}
		}
	}
}
