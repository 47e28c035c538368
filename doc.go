// Package airsync is an SDK for connector workers that synchronize an external
// system with the platform.
//
// The platform invokes a worker with an event. The worker extracts data from the
// external system into artifacts, or loads transformer files back into it, and
// reports the outcome with exactly one terminal event on the event's callback URL.
//
// # Architecture
//
// Every invocation is split in two:
//
// 1. The controller (worker.Spawn) owns the deadlines. It raises the soft timeout,
// forces termination at the hard timeout and sends a synthetic event when the
// unit exits without emitting.
//
// 2. The unit runs connector code in its own goroutine. It loads the remote state,
// exposes repos and loaders through worker.Adapter and emits the terminal event.
//
// The two only communicate through messages: emission claims, emitted events,
// relayed log entries and exit.
//
// # Quick Start
//
// A connector registers a runner and supplies tasks per event type:
//
//	type State struct {
//	    Cursor string `json:"cursor"`
//	}
//
//	func run(ctx context.Context, opts registry.RunOptions) worker.Result {
//	    return worker.Spawn(ctx, worker.Options[State]{
//	        Event:  opts.Event,
//	        Config: opts.Config,
//	        Logger: opts.Logger,
//	        Tasks: worker.Tasks[State]{
//	            models.ExtractionDataStart: {Run: extract, OnTimeout: progress},
//	        },
//	    })
//	}
//
//	func init() {
//	    registry.MustRegister(registry.ConnectorInfo{Name: "tracker"}, run)
//	}
//
// Event types without a connector task fall back to worker.DefaultTasks, which
// stream attachments, acknowledge deletions and finish loading phases.
//
// # Key Packages
//
//	pkg/worker       - Spawn, the adapter, loaders and attachment streaming
//	pkg/clients      - Retrying platform transport
//	pkg/protocol     - Control protocol emitter and timeout event mapping
//	pkg/state        - Remote state store
//	pkg/repo         - Batched item repos uploaded as artifacts
//	pkg/attachments  - Bounded attachment streaming pool
//	pkg/uploader     - Artifact prepare, upload, confirm and download
//	pkg/mappers      - Sync mapper records used while loading
//	pkg/registry     - Connector registration
//	pkg/config       - Viper backed configuration
//	pkg/logger       - Structured logging with zap
//	pkg/metrics      - Prometheus metrics
//
// # Configuration
//
// Configuration is read from defaults, an optional YAML file and AIRSYNC_*
// environment variables. ${VAR_NAME} references in the file are expanded:
//
//	worker:
//	  timeout: 10m
//	  hard_timeout_multiplier: 1.3
//	batching:
//	  repo_batch_size: 2000
//	  attachment_streams: 10
//
// # Development
//
// Run the demo connector against an event file:
//
//	go run ./cmd/airsync run --event event.json --connector demo
//	go run ./cmd/airsync config
package airsync
