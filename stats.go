package ringchan

import "sync/atomic"

type stats struct {
	pushes      atomic.Uint64
	pops        atomic.Uint64
	popEmpty    atomic.Uint64
	popInFlight atomic.Uint64

	segmentsAllocated atomic.Uint64
	segmentsReused    atomic.Uint64
	segmentsRecycled  atomic.Uint64
}

// Stats holds queue counters.
type Stats struct {
	Pushes      uint64
	Pops        uint64
	PopEmpty    uint64 // TryPop found nothing reserved
	PopInFlight uint64 // TryPop found a reserved but unpublished position

	SegmentsAllocated uint64
	SegmentsReused    uint64
	SegmentsRecycled  uint64 // retired segments whose grace period passed
}

// Len is the number of values pushed and not yet popped.
func (s Stats) Len() uint64 {
	// pushes are counted after publication, so a snapshot may see the pop first
	if s.Pops > s.Pushes {
		return 0
	}
	return s.Pushes - s.Pops
}

func (s *stats) snapshot() Stats {
	return Stats{
		Pushes:            s.pushes.Load(),
		Pops:              s.pops.Load(),
		PopEmpty:          s.popEmpty.Load(),
		PopInFlight:       s.popInFlight.Load(),
		SegmentsAllocated: s.segmentsAllocated.Load(),
		SegmentsReused:    s.segmentsReused.Load(),
		SegmentsRecycled:  s.segmentsRecycled.Load(),
	}
}

// ChannelStats is the snapshot every channel kind reports.
type ChannelStats struct {
	Name     string
	Kind     string
	Pending  uint64 // messages sent and not yet received
	Senders  int64  // live sender handles
	Sent     uint64
	Received uint64
	Queue    Stats
}

// StatsSource is implemented by channel receivers.
type StatsSource interface {
	Stats() ChannelStats
}
