// Package forwarder delivers every raw telemetry record to the ingestion
// store with bounded retries. Between attempts it waits base^attempt units;
// once max_retries attempts have failed the record is dropped and the loss
// is logged and counted. Stores classify failures so that requests which can
// never succeed (validation errors, auth failures) are not retried.
package forwarder
