// Package audithook is an Interius extension that bridges lifecycle events
// to an immutable audit trail backend.
//
// Every run, stage, and sweep lifecycle hook emits a structured audit event
// through the [Recorder] interface. The extension assigns appropriate
// severity levels (info for normal operations, warning for cancellations
// and unresolved reviews, critical for terminal failures) and rich metadata
// (stage, elapsed time, review iterations, errors).
//
// # Usage
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return backend.Write(ctx, evt.Action, evt.Resource, evt.ResourceID, evt.Metadata)
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionRunFailed,
//	        audithook.ActionRunCancelled,
//	        audithook.ActionReviewUpdate,
//	    ),
//	)
package audithook
