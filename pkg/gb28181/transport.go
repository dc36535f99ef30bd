// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package gb28181

import (
	"fmt"
	"net"

	"github.com/q191201771/lalgb/pkg/base"
	"github.com/q191201771/lalgb/pkg/reactor"
	"github.com/q191201771/lalgb/pkg/sip"
)

// ITransport 信令的收发通道，udp 监听 socket 或者一条 tcp 连接
type ITransport interface {
	// Send tcp 时忽略 addr
	Send(b []byte, addr *net.UDPAddr) error

	IsTcp() bool

	// Id 在所属 reactor 中唯一，tcp 连接断开时按它找到绑定的下级域
	Id() int

	String() string
}

type udpTransport struct {
	ev *reactor.Event
}

func (t *udpTransport) Send(b []byte, addr *net.UDPAddr) error {
	if addr == nil {
		return base.ErrEventInvalid
	}
	return t.ev.WriteTo(b, addr)
}

func (t *udpTransport) IsTcp() bool {
	return false
}

func (t *udpTransport) Id() int {
	return t.ev.Fd()
}

func (t *udpTransport) String() string {
	return fmt.Sprintf("udp(%d)", t.ev.Fd())
}

type tcpTransport struct {
	ev *reactor.Event
}

func (t *tcpTransport) Send(b []byte, addr *net.UDPAddr) error {
	return t.ev.Write(b)
}

func (t *tcpTransport) IsTcp() bool {
	return true
}

func (t *tcpTransport) Id() int {
	return t.ev.Fd()
}

func (t *tcpTransport) String() string {
	return fmt.Sprintf("tcp(%d)", t.ev.Fd())
}

// ----- 事件回调 -------------------------------------------------------------------------------------------------------

type udpHandler struct {
	s *Server
	t *udpTransport
}

func (h *udpHandler) HandleEvent(ev *reactor.Event, ready reactor.EventReady) {
	if ready.Mask&reactor.EventRead != 0 {
		h.s.onSipData(ready.Data, h.t, ready.Addr)
	}
	if ready.Mask&reactor.EventClose != 0 {
		Log.Errorf("[%s] udp socket closed. err=%+v", h.s.uniqueKey, ready.Err)
	}
}

type listenerHandler struct {
	s *Server
}

func (h *listenerHandler) HandleEvent(ev *reactor.Event, ready reactor.EventReady) {
	if ready.Mask&reactor.EventClose != 0 {
		Log.Errorf("[%s] tcp listener closed. err=%+v", h.s.uniqueKey, ready.Err)
		return
	}
	if ready.Conn == nil {
		return
	}

	ch := &tcpConnHandler{s: h.s}
	cev, err := reactor.NewStreamEvent(ready.Conn, ch)
	if err != nil {
		Log.Errorf("[%s] new stream event failed. err=%+v", h.s.uniqueKey, err)
		_ = ready.Conn.Close()
		return
	}
	ch.t = &tcpTransport{ev: cev}
	if a, ok := ready.Conn.RemoteAddr().(*net.TCPAddr); ok {
		ch.raddr = &net.UDPAddr{IP: a.IP, Port: a.Port}
	}
	if err := h.s.r.AddEvent(cev); err != nil {
		Log.Errorf("[%s] add stream event failed. err=%+v", h.s.uniqueKey, err)
		_ = ready.Conn.Close()
		return
	}
	Log.Infof("[%s] accept tcp conn. fd=%d, raddr=%s", h.s.uniqueKey, cev.Fd(), ready.Conn.RemoteAddr())
}

type tcpConnHandler struct {
	s      *Server
	t      *tcpTransport
	raddr  *net.UDPAddr
	framer sip.StreamFramer
}

func (h *tcpConnHandler) HandleEvent(ev *reactor.Event, ready reactor.EventReady) {
	if ready.Mask&reactor.EventRead != 0 {
		for _, raw := range h.framer.Feed(ready.Data) {
			h.s.onSipData(raw, h.t, h.raddr)
		}
	}
	if ready.Mask&reactor.EventClose != 0 {
		Log.Infof("[%s] tcp conn closed. fd=%d, err=%+v", h.s.uniqueKey, ev.Fd(), ready.Err)
		h.s.r.EnqueMsg(base.Message{
			MsgId:   base.MsgGbServerHandlerClose,
			DstType: h.s.r.ServiceType(),
			DstId:   h.s.r.InstanceId(),
			IntVal:  ev.Fd(),
		})
	}
}
