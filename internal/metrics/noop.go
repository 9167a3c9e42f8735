package metrics

// NoopCollector is a no-op implementation of the Collector interface.
// All methods are empty stubs that do nothing.
type NoopCollector struct{}

// ConnectionOpened is a no-op.
func (n *NoopCollector) ConnectionOpened() {}

// ConnectionClosed is a no-op.
func (n *NoopCollector) ConnectionClosed() {}

// ConnectionRejected is a no-op.
func (n *NoopCollector) ConnectionRejected() {}

// DatagramReceived is a no-op.
func (n *NoopCollector) DatagramReceived() {}

// CommandProcessed is a no-op.
func (n *NoopCollector) CommandProcessed(command, status string) {}

// MessagePosted is a no-op.
func (n *NoopCollector) MessagePosted(sizeBytes int64) {}

// MessagesRetrieved is a no-op.
func (n *NoopCollector) MessagesRetrieved(count int) {}
