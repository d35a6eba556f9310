package scheduler

const (
	EventChannelLength uint16 = 1024
)
