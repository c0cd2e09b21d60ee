package config

// NSQ topics for the job lifecycle event stream. Consumers are optional;
// publishing is best-effort and never blocks a state transition.
const (
	TopicJobEnqueued  = "quote.job.enqueued"
	TopicJobDelivered = "quote.job.delivered"
	TopicJobRetried   = "quote.job.retried"
	TopicJobErrored   = "quote.job.errored"
)
