package workflowstate

import (
	"github.com/modflow/modflow/backend/converter"
	"github.com/modflow/modflow/backend/payload"
	"github.com/modflow/modflow/internal/sync"
)

type signalChannel struct {
	receive func(payload.Payload)
	channel any
}

// ReceiveSignal delivers a raw signal payload to the channel registered for name. If
// workflow code has not subscribed to the signal yet, the payload is buffered and
// delivered once a channel is created.
func ReceiveSignal(wf *WfState, name string, arg payload.Payload) {
	sc, ok := wf.signalChannels[name]
	if ok {
		sc.receive(arg)
		return
	}

	wf.pendingSignals[name] = append(wf.pendingSignals[name], arg)
}

func GetSignalChannel[T any](ctx sync.Context, c converter.Converter, wf *WfState, name string) sync.Channel[T] {
	// Check for existing channel, if exists return
	sc, ok := wf.signalChannels[name]
	if ok {
		return sc.channel.(sync.Channel[T])
	}

	ch := sync.NewBufferedChannel[T](10_000)

	wf.signalChannels[name] = &signalChannel{
		receive: func(input payload.Payload) {
			var t T
			if err := c.From(input, &t); err != nil {
				panic(err)
			}

			// Channel is buffered, so we can send without blocking on a Yield.
			ch.SendNonblocking(t)
		},
		channel: ch,
	}

	// Deliver any signals that arrived before the subscription
	pending, ok := wf.pendingSignals[name]
	if ok {
		for _, p := range pending {
			var t T
			if err := c.From(p, &t); err != nil {
				panic(err)
			}

			ch.SendNonblocking(t)
		}

		delete(wf.pendingSignals, name)
	}

	return ch
}
