package runtime

import (
	"context"

	"github.com/avi-mesh/avi/command"
	"github.com/avi-mesh/avi/ctxstore"
	"github.com/avi-mesh/avi/errs"
	"github.com/avi-mesh/avi/event"
	"github.com/avi-mesh/avi/streamlayer"
	"github.com/avi-mesh/avi/wire"
)

func reply(cmd command.Command, value interface{}, err error) {
	select {
	case cmd.Reply <- command.Reply{Value: value, Err: err}:
	default:
		log.Debugw("reply channel dropped before delivery", "kind", cmd.Kind)
	}
}

// handleCommand dispatches a single Command to its handler. Per spec
// §4.1 "Command handling", exactly one reply is ever sent, and side
// effects are well-defined even if nothing is listening for it.
func (r *Runtime) handleCommand(ctx context.Context, cmd command.Command) {
	switch cmd.Kind {
	case command.Subscribe:
		p := cmd.Payload.(command.SubscribePayload)
		err := r.swarm.Subscribe(p.Topic)
		reply(cmd, nil, err)

	case command.Unsubscribe:
		p := cmd.Payload.(command.SubscribePayload)
		err := r.swarm.Unsubscribe(p.Topic)
		reply(cmd, nil, err)

	case command.Publish:
		p := cmd.Payload.(command.PublishPayload)
		err := r.swarm.Publish(ctx, p.Topic, p.Data)
		reply(cmd, nil, err)

	case command.RequestStream:
		r.handleRequestStream(ctx, cmd)

	case command.AcceptStream:
		r.handleAcceptStream(ctx, cmd)

	case command.RejectStream:
		r.handleRejectStream(ctx, cmd)

	case command.SendStreamData:
		r.handleSendStreamData(ctx, cmd)

	case command.CloseStream:
		r.handleCloseStream(ctx, cmd)

	case command.GetConnectedPeers:
		reply(cmd, r.swarm.ConnectedPeers(), nil)

	case command.DiscoverPeers:
		err := r.swarm.DiscoverPeers(ctx)
		reply(cmd, nil, err)

	case command.UpdateSelfContext:
		p := cmd.Payload.(command.UpdateSelfContextPayload)
		local := r.ctx.ApplyLocalPatch(p.Patch)
		r.gossipContext(ctx, local)
		reply(cmd, ctxstore.DeepCopy(local.Data), nil)

	case command.ReplaceSelfContext:
		p := cmd.Payload.(command.ReplaceSelfContextPayload)
		local := r.ctx.ReplaceLocal(p.Value)
		r.gossipContext(ctx, local)
		reply(cmd, ctxstore.DeepCopy(local.Data), nil)

	case command.GetPeerContext:
		p := cmd.Payload.(command.GetPeerContextPayload)
		c, ok := r.ctx.Get(p.Peer)
		if !ok {
			reply(cmd, nil, &errs.PathNotFoundError{Path: p.Peer})
			return
		}
		// Hand back a deep copy: c.Data aliases the Store's own entry,
		// and callers (e.g. handle.DeletePath) mutate the map they get
		// back before replacing it.
		reply(cmd, ctxstore.DeepCopy(c.Data), nil)

	default:
		reply(cmd, nil, errs.ErrChannelClosed)
	}
}

func (r *Runtime) gossipContext(ctx context.Context, local ctxstore.Context) {
	announce := wire.ContextAnnounce{PeerID: local.PeerID, Data: local.Data, Clock: local.Clock}
	b, err := wire.MarshalContextAnnounce(announce)
	if err != nil {
		log.Warnw("failed to marshal context announce", "err", err)
		return
	}
	if err := r.swarm.Publish(ctx, ContextGossipTopic, b); err != nil {
		log.Warnw("failed to publish context announce", "err", err)
	}
}

func (r *Runtime) handleRequestStream(ctx context.Context, cmd command.Command) {
	p := cmd.Payload.(command.RequestStreamPayload)
	rec, err := r.streams.NewOutbound(r.localPeer, p.Peer, p.Reason)
	if err != nil {
		reply(cmd, nil, err)
		return
	}

	env := wire.StreamOpen(rec.StreamID, p.Reason)
	b, err := wire.Marshal(env)
	if err != nil {
		reply(cmd, nil, &errs.SerializationError{Detail: "marshal StreamOpen", Err: err})
		return
	}
	if _, err := r.swarm.Request(ctx, p.Peer, b); err != nil {
		reply(cmd, nil, &errs.PeerNotConnectedError{Peer: p.Peer})
		return
	}
	reply(cmd, rec.StreamID, nil)
}

func (r *Runtime) handleAcceptStream(ctx context.Context, cmd command.Command) {
	p := cmd.Payload.(command.AcceptStreamPayload)
	rec, sendFlush, recvFlush, err := r.streams.LocalAccept(p.StreamID)
	if err != nil {
		reply(cmd, nil, err)
		return
	}

	env := wire.StreamAccept(p.StreamID)
	b, err := wire.Marshal(env)
	if err != nil {
		reply(cmd, nil, &errs.SerializationError{Detail: "marshal StreamAccept", Err: err})
		return
	}
	if _, err := r.swarm.Request(ctx, rec.RemotePeer, b); err != nil {
		log.Warnw("failed to send StreamAccept", "stream", p.StreamID, "err", err)
	}

	for _, payload := range sendFlush {
		data := wire.StreamData(p.StreamID, payload)
		if db, merr := wire.Marshal(data); merr == nil {
			if _, serr := r.swarm.Request(ctx, rec.RemotePeer, db); serr != nil {
				log.Warnw("failed to flush buffered stream data", "stream", p.StreamID, "err", serr)
			}
		}
	}
	for _, payload := range recvFlush {
		r.bus.Publish(event.ETStreamData, StreamDataPayload{StreamID: p.StreamID, Data: payload})
	}

	reply(cmd, nil, nil)
}

func (r *Runtime) handleRejectStream(ctx context.Context, cmd command.Command) {
	p := cmd.Payload.(command.RejectStreamPayload)
	rec, err := r.streams.LocalReject(p.StreamID, p.Reason)
	if err != nil {
		reply(cmd, nil, err)
		return
	}

	env := wire.StreamReject(p.StreamID, p.Reason)
	b, err := wire.Marshal(env)
	if err != nil {
		reply(cmd, nil, &errs.SerializationError{Detail: "marshal StreamReject", Err: err})
		return
	}
	if _, err := r.swarm.Request(ctx, rec.RemotePeer, b); err != nil {
		log.Warnw("failed to send StreamReject", "stream", p.StreamID, "err", err)
	}
	reply(cmd, nil, nil)
}

func (r *Runtime) handleSendStreamData(ctx context.Context, cmd command.Command) {
	p := cmd.Payload.(command.SendStreamDataPayload)
	rec, sendNow, err := r.streams.LocalSend(p.StreamID, p.Data)
	if err != nil {
		reply(cmd, nil, err)
		return
	}
	if !sendNow {
		reply(cmd, nil, nil) // buffered, will flush on Accept
		return
	}

	env := wire.StreamData(p.StreamID, p.Data)
	b, err := wire.Marshal(env)
	if err != nil {
		reply(cmd, nil, &errs.SerializationError{Detail: "marshal StreamData", Err: err})
		return
	}
	if _, err := r.swarm.Request(ctx, rec.RemotePeer, b); err != nil {
		log.Warnw("failed to send StreamData", "stream", p.StreamID, "err", err)
	}
	reply(cmd, nil, nil)
}

func (r *Runtime) handleCloseStream(ctx context.Context, cmd command.Command) {
	p := cmd.Payload.(command.CloseStreamPayload)
	rec, sendEnvelope, err := r.streams.LocalClose(p.StreamID)
	if err != nil {
		reply(cmd, nil, err)
		return
	}
	if sendEnvelope {
		var env wire.Envelope
		if rec.Status == streamlayer.Rejected {
			env = wire.StreamReject(p.StreamID, "")
		} else {
			env = wire.StreamClose(p.StreamID, "")
		}
		if b, merr := wire.Marshal(env); merr == nil {
			if _, serr := r.swarm.Request(ctx, rec.RemotePeer, b); serr != nil {
				log.Warnw("failed to send close envelope", "stream", p.StreamID, "err", serr)
			}
		}
		// Fire StreamClosed locally too, for symmetry with the remote
		// side (spec §9 redesign flag).
		r.bus.Publish(event.ETStreamClosed, StreamClosedPayload{
			StreamID: rec.StreamID,
			Reason:   rec.CloseReason,
			Detail:   rec.CloseDetail,
		})
	}
	reply(cmd, nil, nil)
}

// handleSwarmEvent processes one asynchronous notification from the
// transport layer (spec §4.1 "Swarm integration").
func (r *Runtime) handleSwarmEvent(ctx context.Context, ev SwarmEvent) {
	switch ev.Kind {
	case SwarmPeerDiscovered:
		r.bus.Publish(event.ETPeerDiscovered, ev.Peer)

	case SwarmPeerConnected:
		r.bus.Publish(event.ETPeerConnected, ev.Peer)

	case SwarmPeerDisconnected:
		r.bus.Publish(event.ETPeerDisconnected, ev.Peer)
		for _, sid := range r.streams.PeerDisconnected(ev.Peer) {
			rec, ok := r.streams.Get(sid)
			if !ok {
				continue
			}
			r.bus.Publish(event.ETStreamClosed, StreamClosedPayload{
				StreamID: sid,
				Reason:   rec.CloseReason,
			})
		}

	case SwarmMessage:
		if ev.Topic == ContextGossipTopic {
			r.handleContextAnnounce(ev)
			return
		}
		r.bus.Publish(event.ETMessage, MessagePayload{From: ev.Peer, Topic: ev.Topic, Data: ev.Data})

	case SwarmStreamEnvelope:
		r.handleStreamEnvelope(ctx, ev)
	}
}

func (r *Runtime) handleContextAnnounce(ev SwarmEvent) {
	announce, err := wire.UnmarshalContextAnnounce(ev.Data)
	if err != nil {
		log.Debugw("malformed context announce", "err", err)
		return
	}
	res := r.ctx.MergeRemote(announce.PeerID, announce.Data, ctxstore.VectorClock(announce.Clock))
	if res.Applied {
		data := ctxstore.DeepCopy(res.Context.Data).(map[string]interface{})
		r.bus.Publish(event.ETContextUpdated, ContextUpdatedPayload{PeerID: announce.PeerID, Data: data})
	}
}

func (r *Runtime) handleStreamEnvelope(ctx context.Context, ev SwarmEvent) {
	env, err := wire.Unmarshal(ev.Data)
	if err != nil {
		log.Debugw("malformed stream envelope", "peer", ev.Peer, "err", err)
		return
	}

	switch env.Kind {
	case wire.KindStreamOpen:
		rec, err := r.streams.HandleOpen(env.StreamID, ev.Peer, env.Reason)
		if err != nil {
			log.Debugw("stream open rejected by state machine", "err", err)
			return
		}
		r.bus.Publish(event.ETStreamRequested, StreamRequestedPayload{StreamID: rec.StreamID, From: ev.Peer, Reason: env.Reason})

	case wire.KindStreamAccept:
		_, sendFlush, recvFlush, err := r.streams.HandleAccept(env.StreamID)
		if err != nil {
			log.Debugw("stream accept rejected by state machine", "err", err)
			return
		}
		r.bus.Publish(event.ETStreamOpened, env.StreamID)
		for _, payload := range sendFlush {
			data := wire.StreamData(env.StreamID, payload)
			if b, merr := wire.Marshal(data); merr == nil {
				if _, serr := r.swarm.Request(ctx, ev.Peer, b); serr != nil {
					log.Warnw("failed to flush buffered stream data", "stream", env.StreamID, "err", serr)
				}
			}
		}
		for _, payload := range recvFlush {
			r.bus.Publish(event.ETStreamData, StreamDataPayload{StreamID: env.StreamID, Data: payload})
		}

	case wire.KindStreamReject:
		rec, err := r.streams.HandleReject(env.StreamID, env.Reason)
		if err != nil {
			log.Debugw("stream reject rejected by state machine", "err", err)
			return
		}
		r.bus.Publish(event.ETStreamClosed, StreamClosedPayload{
			StreamID: rec.StreamID,
			Reason:   streamlayer.RejectedByRemote,
			Detail:   env.Reason,
		})

	case wire.KindStreamData:
		_, deliver, err := r.streams.HandleData(env.StreamID, env.Data)
		if err != nil {
			log.Debugw("stream data rejected by state machine", "err", err)
			return
		}
		if deliver {
			r.bus.Publish(event.ETStreamData, StreamDataPayload{StreamID: env.StreamID, Data: env.Data})
		}

	case wire.KindStreamClose:
		rec, changed, err := r.streams.HandleClose(env.StreamID, env.Reason)
		if err != nil {
			log.Debugw("stream close rejected by state machine", "err", err)
			return
		}
		if changed {
			r.bus.Publish(event.ETStreamClosed, StreamClosedPayload{
				StreamID: rec.StreamID,
				Reason:   streamlayer.Normal,
				Detail:   env.Reason,
			})
		}
	}
}
