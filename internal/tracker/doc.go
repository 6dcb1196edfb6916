// Package tracker detects local file changes and hands them to a
// synchronization action.
//
// # Architecture
//
// A DirectoryTracker composes two background loops over one EventQueue:
//
//   - DirectoryWatcher: polls a notify.Handle for the tracked directory,
//     decodes completed notification buffers and pushes ChangeEvents
//   - EventConsumer: drains the queue in batches and calls a Dispatcher for
//     each added or modified file
//
// Each loop reads a ThreadControl (pause, resume or kill) once per poll
// interval. Cancellation is cooperative, so a stop takes effect within one
// interval.
//
// # Usage
//
//	upload := tracker.DispatchFunc(func(ctx context.Context, ev tracker.ChangeEvent) error {
//	    localDir, remoteDir, name := ev.Split()
//	    return rc.Upload(ctx, localDir, remoteDir, name)
//	})
//
//	cfg := tracker.DefaultConfig()
//	cfg.Mapping = syspath.Mapping{LocalRoot: "/data", RemoteRoot: "/srv/data"}
//
//	t, err := tracker.New(upload, notify.Default(), cfg)
//	if err != nil {
//	    return err
//	}
//	defer t.Close()
//
//	if err := t.StartTracking("/data"); err != nil {
//	    return err // setup error, nothing is running
//	}
//
// # Ordering
//
// The queue drains most-recent-first (OrderLIFO) unless the consumer is
// configured with OrderFIFO. Within one notification buffer events are
// pushed in decode order, but dispatch order across batches is not
// chronological under OrderLIFO.
//
// # Errors
//
// Setup errors (ErrSetup) are returned from StartTracking. A streaming error
// (ErrStreaming) ends the watcher loop and is reported by Err; the consumer
// keeps draining whatever was already queued. Dispatch errors are logged and
// the event is dropped.
package tracker
