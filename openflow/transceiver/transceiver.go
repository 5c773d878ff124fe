/*
 * Quince - An OpenFlow QoS Controller
 *
 * Copyright (C) 2015 Samjung Data Service, Inc. All rights reserved.
 * Kitae Kim <superkkt@sds.co.kr>
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation; either version 2 of the License, or
 * any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License along
 * with this program; if not, write to the Free Software Foundation, Inc.,
 * 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.
 */

package transceiver

import (
	"context"
	"encoding"
	"time"

	"github.com/superkkt/quince/openflow"
	"github.com/superkkt/quince/openflow/of13"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

var (
	logger = logging.MustGetLogger("transceiver")
)

const (
	// Allowed idle time before we send an echo request to a switch.
	maxIdleTime = 10 * time.Second
	// I/O timeouts (These timeouts should be less than maxIdleTime).
	readTimeout  = 1 * time.Second
	writeTimeout = readTimeout * 2
	// Maximum number of unanswered echo requests.
	maxPingCount = 3
	// Timeout for the initial HELLO message.
	helloTimeout = 30 * time.Second
)

type Writer interface {
	Write(msg encoding.BinaryMarshaler) error
}

// Handler receives the decoded messages of a single switch. All the methods
// are called sequentially in the arrival order of the messages.
type Handler interface {
	OnHello(*of13.Factory, Writer, *of13.Hello) error
	OnError(*of13.Factory, Writer, *of13.Error) error
	OnFeaturesReply(*of13.Factory, Writer, *of13.FeaturesReply) error
	OnBarrierReply(*of13.Factory, Writer, *of13.BarrierReply) error
	OnPortDescReply(*of13.Factory, Writer, *of13.PortDescReply) error
	OnPortStatsReply(*of13.Factory, Writer, *of13.PortStatsReply) error
	OnPortStatus(*of13.Factory, Writer, *of13.PortStatus) error
	OnFlowRemoved(*of13.Factory, Writer, *of13.FlowRemoved) error
	OnPacketIn(*of13.Factory, Writer, *of13.PacketIn) error
}

type Transceiver struct {
	stream      *Stream
	observer    Handler
	factory     *of13.Factory
	pingCounter uint
	closed      bool
}

func NewTransceiver(stream *Stream, handler Handler) *Transceiver {
	if stream == nil {
		panic("stream is nil")
	}
	if handler == nil {
		panic("handler is nil")
	}

	return &Transceiver{
		stream:   stream,
		observer: handler,
		factory:  of13.NewFactory(),
	}
}

func (r *Transceiver) Factory() *of13.Factory {
	return r.factory
}

func isTimeout(err error) bool {
	v, ok := errors.Cause(err).(interface{ Timeout() bool })
	return ok && v.Timeout()
}

func isTemporaryErr(err error) bool {
	e, ok := errors.Cause(err).(interface{ Temporary() bool })
	return ok && e.Temporary()
}

// temporaryError wraps an error that should not close the session.
type temporaryError struct {
	error
}

func (r temporaryError) Temporary() bool {
	return true
}

func (r *Transceiver) sendEchoRequest() error {
	if r.pingCounter >= maxPingCount {
		return errors.New("device does not respond to our echo request")
	}

	echo := r.factory.NewEchoRequest()
	// We use current timestamp to check network latency between our controller and a switch.
	timestamp, err := time.Now().GobEncode()
	if err != nil {
		return err
	}
	echo.SetData(timestamp)

	if err := r.Write(echo); err != nil {
		return errors.Wrap(err, "failed to send ECHO_REQUEST message")
	}
	r.pingCounter++

	return nil
}

// Run reads and dispatches the incoming messages until ctx is canceled or the connection is closed.
func (r *Transceiver) Run(ctx context.Context) error {
	defer logger.Infof("transceiver is closed: %v", r.stream.RemoteAddr())
	r.stream.SetReadTimeout(readTimeout)
	r.stream.SetWriteTimeout(writeTimeout)

	readerCtx, cancelReader := context.WithCancel(ctx)
	defer cancelReader()
	reader := r.runReader(readerCtx)

	packet, err := r.negotiate(ctx, reader)
	if err != nil {
		return errors.Wrap(err, "failed to negotiate the protocol version")
	}

	// Infinite loop
	for {
		// Dispatch the incoming packet
		if err := r.dispatch(packet); err != nil {
			if !isTemporaryErr(err) {
				return err
			}
			// Ignore the temporary error. Just log the error and keep go on.
			logger.Errorf("failed to dispatch the packet: %v", err)
		}

		// Read the next packet
		var ok bool
		select {
		case <-ctx.Done():
			logger.Info("context done")
			return nil
		case packet, ok = <-reader:
			if !ok {
				logger.Info("the reader channel is closed")
				return nil
			}
			remain := len(reader)
			if remain > 0 {
				logger.Debugf("%v remaining unread packet(s) in the reader channel", remain)
			}
		}
	}
}

func (r *Transceiver) negotiate(ctx context.Context, reader <-chan []byte) (packet []byte, err error) {
	select {
	case <-ctx.Done():
		return nil, errors.New("context done")
	case <-time.After(helloTimeout):
		return nil, errors.New("inactive for too long")
	case packet, ok := <-reader:
		if !ok {
			return nil, errors.New("the reader channel is closed")
		}
		// The first message should be HELLO.
		if packet[1] != of13.OFPT_HELLO {
			return nil, errors.New("missing HELLO message")
		}
		// We only speak OpenFlow 1.3. A switch that supports a higher version will fall back to ours.
		if packet[0] < openflow.OF13_VERSION {
			return nil, errors.Wrapf(openflow.ErrUnsupportedVersion, "version=%v", packet[0])
		}
		logger.Info("negotiated to openflow version 1.3")
		// Rewrite the version so that the initial packet can be dispatched.
		packet[0] = openflow.OF13_VERSION

		// Return the initial packet to dispatch it.
		return packet, nil
	}
}

func (r *Transceiver) runReader(ctx context.Context) <-chan []byte {
	// Buffered channel
	c := make(chan []byte, 4096)
	go func() {
		// The channel c will be closed when this goroutine returns in order to notice the connection has been closed.
		defer close(c)
		defer logger.Info("transceiver reader is closed")

		lastActivated := time.Now()
		for {
			select {
			case <-ctx.Done():
				logger.Info("context done")
				return
			default:
			}

			// Read the next packet
			packet, err := r.stream.ReadMessage()
			if err != nil {
				if !isTimeout(err) {
					logger.Errorf("failed to read the next packet: %v", err)
					return
				}
				// Timeout occurrs. Send a ping request if necessary.
				if time.Since(lastActivated) > maxIdleTime {
					if err := r.sendEchoRequest(); err != nil {
						logger.Errorf("failed to send an echo request: %v", err)
						return
					}
					lastActivated = time.Now()
				}
				continue
			}
			// Update the timestamp
			lastActivated = time.Now()

			ok, err := r.handleEcho(packet)
			if err != nil {
				logger.Errorf("failed to handle the echo request or response: %v", err)
				return
			}
			if ok {
				// Do not forward the echo request and response
				// packets because this reader handles them.
				continue
			}

			// Forward messages except the echo request and response.
			select {
			case c <- packet:
			default:
				// Drop the packet if we cannot immediately carry it.
				logger.Error("transceiver buffer full: drop the incoming packet!")
			}
		}
	}()

	return c
}

func (r *Transceiver) Write(msg encoding.BinaryMarshaler) error {
	packet, err := msg.MarshalBinary()
	if err != nil {
		return err
	}

	if _, err := r.stream.Write(packet); err != nil {
		return err
	}

	return nil
}

func (r *Transceiver) handleEcho(packet []byte) (handled bool, err error) {
	switch packet[1] {
	case of13.OFPT_ECHO_REQUEST:
		return true, r.handleEchoRequest(packet)
	case of13.OFPT_ECHO_REPLY:
		return true, r.handleEchoReply(packet)
	default:
		// Do not anything for other types of the message
		return false, nil
	}
}

func (r *Transceiver) handleEchoRequest(packet []byte) error {
	msg := new(of13.EchoRequest)
	if err := msg.UnmarshalBinary(packet); err != nil {
		return err
	}
	logger.Debug("received an ECHO_REQUEST packet")

	// Copy transaction ID and data from the incoming echo request message
	reply := of13.NewEchoReply(msg.TransactionID())
	reply.SetData(msg.Data())

	if err := r.Write(reply); err != nil {
		return errors.Wrap(err, "failed to send ECHO_REPLY message")
	}
	logger.Debug("sent an ECHO_REPLY packet")

	return nil
}

func (r *Transceiver) handleEchoReply(packet []byte) error {
	msg := new(of13.EchoReply)
	if err := msg.UnmarshalBinary(packet); err != nil {
		return err
	}
	logger.Debug("received an ECHO_REPLY packet")
	// Any reply proves the switch is alive.
	r.pingCounter = 0

	timestamp := time.Time{}
	if err := timestamp.GobDecode(msg.Data()); err != nil {
		// I notice some broken switch sends an unexpected echo reply data.
		// So, ignores the soft error to avoid switch disconnection.
		logger.Debug("unexpected timestamp data in the ECHO_REPLY packet")
		return nil
	}
	// Network latency
	logger.Debugf("transceiver latency: %v", time.Since(timestamp))

	return nil
}

func (r *Transceiver) dispatch(packet []byte) error {
	if packet[0] != openflow.OF13_VERSION {
		return temporaryError{errors.Errorf("mis-matched OpenFlow version: negotiated=%v, packet=%v", openflow.OF13_VERSION, packet[0])}
	}

	msg, err := of13.ParseMessage(packet)
	if err != nil {
		if errors.Cause(err) == openflow.ErrUnsupportedMessage {
			// Unsupported message. Do nothing.
			return nil
		}
		// Malformed message from the switch. The session is still usable.
		return temporaryError{errors.Wrapf(err, "type=%v", packet[1])}
	}

	switch v := msg.(type) {
	case *of13.Hello:
		return r.observer.OnHello(r.factory, r, v)
	case *of13.Error:
		return r.observer.OnError(r.factory, r, v)
	case *of13.FeaturesReply:
		return r.observer.OnFeaturesReply(r.factory, r, v)
	case *of13.BarrierReply:
		return r.observer.OnBarrierReply(r.factory, r, v)
	case *of13.PortDescReply:
		return r.observer.OnPortDescReply(r.factory, r, v)
	case *of13.PortStatsReply:
		return r.observer.OnPortStatsReply(r.factory, r, v)
	case *of13.PortStatus:
		return r.observer.OnPortStatus(r.factory, r, v)
	case *of13.FlowRemoved:
		return r.observer.OnFlowRemoved(r.factory, r, v)
	case *of13.PacketIn:
		return r.observer.OnPacketIn(r.factory, r, v)
	default:
		// Unsupported message. Do nothing.
		return nil
	}
}

func (r *Transceiver) Close() error {
	if r.closed {
		return nil
	}

	if err := r.stream.Close(); err != nil {
		return err
	}
	r.closed = true

	return nil
}
