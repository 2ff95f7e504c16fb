// Package core implements the import session lifecycle engine.
//
// An operator picks a target schema, downloads a field template, uploads a
// populated file, reviews a parsed preview, remaps ambiguous columns, starts
// a server-side import job and watches it run to completion. The job itself
// executes on the document backend; this package coordinates everything the
// console does around it.
//
// # Components
//
//   - [FileRegistrar] uploads the operator's file and yields a file URL.
//   - [SchemaIntrospector] lists importable schemas and their fields.
//   - [TemplateBuilder] requests a template artifact for a field selection.
//   - [SessionStore] owns session records. Mapping writes are serialized per
//     session and always read-modify-write against the latest server copy.
//   - [PreviewEngine] requests parsed previews and classifies columns.
//   - [JobRunner] starts jobs and reads their status and logs.
//   - [Poller] drives periodic observation without overlapping ticks.
//   - [NormalizeLogs] turns heterogeneous row results into [LogEntry] values.
//   - [View] ties the above together for one session being watched, and
//     [ViewRegistry] owns the set of open views.
//
// # Status
//
// Status moves forward only:
//
//	Pending -> Partial Success -> {Success, Error, Timed Out}
//
// Mapping edits and starts are only permitted while Pending. The three
// right-hand states are terminal and stop polling.
//
// # Errors
//
// Every failure returned by this package is marked with exactly one of
// [ErrValidation], [ErrJobStart], [ErrTransport], [ErrMalformedPayload],
// [ErrNotFound], [ErrMappingFrozen] or [ErrViewClosed]. Use [MapError] to
// turn any of them into an operator-facing message with a support code.
package core
