package pairing

var (
	MetricAdmitted    = []string{"braid", "pairing", "admitted"}
	MetricRejected    = []string{"braid", "pairing", "rejected"}
	MetricRewelcomed  = []string{"braid", "pairing", "rewelcomed"}
	MetricHelloSent   = []string{"braid", "pairing", "hello", "sent"}
	MetricPairTimeout = []string{"braid", "pairing", "timeout"}
)
