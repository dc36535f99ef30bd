// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package reactor

import (
	"net"
	"sync"

	"github.com/q191201771/lalgb/pkg/base"
	"github.com/q191201771/naza/pkg/connection"
	"github.com/q191201771/naza/pkg/nazanet"
)

type EventMask uint32

const (
	EventRead EventMask = 1 << iota
	EventWrite
	EventClose

	EventDefault = EventRead | EventClose
)

type EventKind int

const (
	EventKindPacket EventKind = iota + 1
	EventKindStream
	EventKindListener
)

func (k EventKind) String() string {
	switch k {
	case EventKindPacket:
		return "packet"
	case EventKindStream:
		return "stream"
	case EventKindListener:
		return "listener"
	}
	return "unknown"
}

// EventReady 一次就绪通知
//
// Read 就绪时:
//   - packet:   Data + Addr
//   - stream:   Data
//   - listener: Conn 为新接入的连接
//
// Close 就绪时 Err 为导致关闭的错误
//
type EventReady struct {
	Mask EventMask
	Data []byte
	Addr *net.UDPAddr
	Conn net.Conn
	Err  error
}

// IEventHandler 在所属 reactor 的 goroutine 中回调，不允许长时间阻塞
type IEventHandler interface {
	HandleEvent(ev *Event, ready EventReady)
}

// Event 一个socket以及关心它的handler
//
// 一个 Event 只能被 AddEvent 到一个 reactor 上
//
type Event struct {
	kind    EventKind
	handler IEventHandler

	udpConn    *net.UDPConn
	packetConn *nazanet.UdpConnection
	streamConn connection.Connection
	rawConn    net.Conn
	listener   net.Listener

	// 以下字段在 AddEvent 之后只在所属 reactor 的 goroutine 中访问
	fd      int
	mask    EventMask
	reactor *Reactor
	pending []EventReady

	closeOnce sync.Once
}

// NewPacketEvent 包装一个已经 listen 好的 udp socket
func NewPacketEvent(conn *net.UDPConn, handler IEventHandler) (*Event, error) {
	if conn == nil || handler == nil {
		return nil, base.ErrEventInvalid
	}
	pc, err := nazanet.NewUdpConnection(func(option *nazanet.UdpConnectionOption) {
		option.LAddr = conn.LocalAddr().String()
		option.Conn = conn
	})
	if err != nil {
		return nil, err
	}
	return &Event{
		kind:       EventKindPacket,
		handler:    handler,
		udpConn:    conn,
		packetConn: pc,
	}, nil
}

// NewStreamEvent 包装一条tcp连接
func NewStreamEvent(conn net.Conn, handler IEventHandler) (*Event, error) {
	if conn == nil || handler == nil {
		return nil, base.ErrEventInvalid
	}
	return &Event{
		kind:    EventKindStream,
		handler: handler,
		rawConn: conn,
		streamConn: connection.New(conn, func(option *connection.Option) {
			option.ReadBufSize = defaultStreamReadBufSize
		}),
	}, nil
}

// NewListenerEvent 包装一个tcp listener，新连接以 Read 就绪的形式通知
func NewListenerEvent(ln net.Listener, handler IEventHandler) (*Event, error) {
	if ln == nil || handler == nil {
		return nil, base.ErrEventInvalid
	}
	return &Event{
		kind:     EventKindListener,
		handler:  handler,
		listener: ln,
	}, nil
}

func (e *Event) Kind() EventKind {
	return e.kind
}

// Fd 在所属 reactor 事件表中的槽位，AddEvent 之前为0
func (e *Event) Fd() int {
	return e.fd
}

func (e *Event) Mask() EventMask {
	return e.mask
}

func (e *Event) Reactor() *Reactor {
	return e.reactor
}

func (e *Event) LocalAddr() net.Addr {
	switch e.kind {
	case EventKindPacket:
		return e.udpConn.LocalAddr()
	case EventKindStream:
		return e.rawConn.LocalAddr()
	case EventKindListener:
		return e.listener.Addr()
	}
	return nil
}

func (e *Event) RemoteAddr() net.Addr {
	if e.kind == EventKindStream {
		return e.rawConn.RemoteAddr()
	}
	return nil
}

// WriteTo packet 类型使用
func (e *Event) WriteTo(b []byte, addr *net.UDPAddr) error {
	if e.kind != EventKindPacket {
		return base.ErrEventInvalid
	}
	_, err := e.udpConn.WriteToUDP(b, addr)
	return err
}

// Write stream 类型使用
func (e *Event) Write(b []byte) error {
	if e.kind != EventKindStream {
		return base.ErrEventInvalid
	}
	_, err := e.streamConn.Write(b)
	return err
}

func (e *Event) close() {
	e.closeOnce.Do(func() {
		switch e.kind {
		case EventKindPacket:
			_ = e.packetConn.Dispose()
		case EventKindStream:
			_ = e.streamConn.Close()
		case EventKindListener:
			_ = e.listener.Close()
		}
	})
}

// readLoop 阻塞读socket，将就绪通知交给所属reactor，直到socket出错或被关闭
func (e *Event) readLoop(r *Reactor) {
	switch e.kind {
	case EventKindPacket:
		err := e.packetConn.RunLoop(func(b []byte, raddr *net.UDPAddr, err error) bool {
			if err != nil {
				r.pushReady(e, EventReady{Mask: EventClose, Err: err})
				return false
			}
			data := make([]byte, len(b))
			copy(data, b)
			r.pushReady(e, EventReady{Mask: EventRead, Data: data, Addr: raddr})
			return true
		})
		if err != nil {
			r.pushReady(e, EventReady{Mask: EventClose, Err: err})
		}
	case EventKindStream:
		buf := make([]byte, defaultStreamReadBufSize)
		for {
			n, err := e.streamConn.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				r.pushReady(e, EventReady{Mask: EventRead, Data: data})
			}
			if err != nil {
				r.pushReady(e, EventReady{Mask: EventClose, Err: err})
				return
			}
		}
	case EventKindListener:
		for {
			c, err := e.listener.Accept()
			if err != nil {
				r.pushReady(e, EventReady{Mask: EventClose, Err: err})
				return
			}
			r.pushReady(e, EventReady{Mask: EventRead, Conn: c})
		}
	}
}
