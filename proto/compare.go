package proto

// Compare orders two StreamIDs deterministically (Src, Dst, SrcPort,
// DstPort), used where a stable, total tie-break is needed over a set of
// streams (e.g. wakeup.Scheduler's ordered queues).
func (id StreamID) Compare(other StreamID) int {
	switch {
	case id.Src != other.Src:
		return int(id.Src) - int(other.Src)
	case id.Dst != other.Dst:
		return int(id.Dst) - int(other.Dst)
	case id.SrcPort != other.SrcPort:
		return int(id.SrcPort) - int(other.SrcPort)
	default:
		return int(id.DstPort) - int(other.DstPort)
	}
}
