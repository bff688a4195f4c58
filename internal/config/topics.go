package config

const (
	// TopicIngestTrigger is the NSQ topic whose messages each start one ingestion batch.
	TopicIngestTrigger = "ingest.trigger"

	// TopicIngestResult is the NSQ topic for per-URL ingestion outcomes.
	TopicIngestResult = "ingest.result"

	// ChannelIngestor is the NSQ channel the ingestor consumes triggers on.
	ChannelIngestor = "ingestor"
)
