package strategy

import "polyreplay/internal/event"

func init() { Register("passthrough", newPassthrough) }

// Passthrough observes every callback but never submits an order. It is
// a fixture for the orchestrator's own tests and a baseline for
// measuring a dataset's unperturbed dynamics.
type Passthrough struct{}

func newPassthrough(Params) (Strategy, error) { return &Passthrough{}, nil }

func (p *Passthrough) OnStart(Context)                          {}
func (p *Passthrough) OnStop(Context)                           {}
func (p *Passthrough) OnBookUpdate(Context, BookView)            {}
func (p *Passthrough) OnTrade(Context, event.TradePrint)         {}
func (p *Passthrough) OnOrderAck(Context, event.OrderAck)        {}
func (p *Passthrough) OnOrderReject(Context, event.OrderReject)  {}
func (p *Passthrough) OnFill(Context, event.Fill)                {}
func (p *Passthrough) OnCancelAck(Context, event.CancelAck)      {}
func (p *Passthrough) OnTimer(Context, event.Timer)              {}
func (p *Passthrough) OnSignal(Context, event.Signal)            {}
