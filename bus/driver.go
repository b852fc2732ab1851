package bus

// Driver is the hardware side of the bus.
//
// Transmit hands one frame to a free mailbox. A nil return means the frame was
// accepted and the transmit-complete handler will fire exactly once for it; an
// error means it was not accepted and the handler will not fire.
//
// Handlers registered with OnReceive and OnTransmitComplete run in the
// driver's own context and must not block.
type Driver interface {
	Transmit(id uint32, f Frame) error
	OnReceive(fn func(id uint32, f Frame))
	OnTransmitComplete(fn func())
	Close() error
}

// Filterable drivers drop received frames that do not pass the filter before
// the receive handler runs.
type Filterable interface {
	SetFilter(f Filter)
}
