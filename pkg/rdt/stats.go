package rdt

// Stats is a point-in-time snapshot of one endpoint's counters. It is
// owned by the engine's single goroutine and copied out on Stats(), so it
// never needs its own lock — consistent with spec.md §5's single-thread
// ownership model.
type Stats struct {
	PacketsSent         uint64
	PacketsDroppedByLoss uint64
	Retransmits         uint64
	MalformedDropped    uint64
	DuplicateACKs       uint64
	DuplicateData       uint64
	Window              int // current congestion window (SR); GBN reports its fixed window
}
