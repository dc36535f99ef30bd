// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package logic

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/q191201771/lalgb/pkg/base"
	"github.com/q191201771/lalgb/pkg/gb28181"
)

var wsWriteTimeout = 5 * time.Second

// inviteStateEvent 点播请求已经应答之后，设备或下级域导致的状态变化
type inviteStateEvent struct {
	Kind      string `json:"kind"`
	SessionId int    `json:"session_id"`
	Code      int    `json:"code"`
	Msg       string `json:"msg"`
	Time      string `json:"time"`
}

// wsSubSession 一个 websocket 订阅者，写在独立的 goroutine 中，跟不上时丢弃事件
type wsSubSession struct {
	uniqueKey string
	conn      *websocket.Conn
	sendChan  chan []byte

	disposeOnce sync.Once
	exitChan    chan struct{}
}

func newWsSubSession(conn *websocket.Conn) *wsSubSession {
	return &wsSubSession{
		uniqueKey: base.GenUkWsSubSession(),
		conn:      conn,
		sendChan:  make(chan []byte, wsSubQueueSize),
		exitChan:  make(chan struct{}),
	}
}

func (s *wsSubSession) runWriteLoop() {
	for {
		select {
		case <-s.exitChan:
			return
		case b := <-s.sendChan:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				Log.Warnf("[%s] write ws message failed. err=%+v", s.uniqueKey, err)
				s.dispose()
				return
			}
		}
	}
}

// runReadLoop 订阅者不需要发任何东西，读只用来发现连接断开
func (s *wsSubSession) runReadLoop() {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *wsSubSession) feed(b []byte) {
	select {
	case s.sendChan <- b:
	default:
		Log.Warnf("[%s] ws send queue full, drop event.", s.uniqueKey)
	}
}

func (s *wsSubSession) dispose() {
	s.disposeOnce.Do(func() {
		close(s.exitChan)
		_ = s.conn.Close()
	})
}

// ---------------------------------------------------------------------------------------------------------------------

func (h *HttpApiServer) wsEventHandler(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		Log.Warnf("[%s] ws upgrade failed. raddr=%s, err=%+v", h.uniqueKey, req.RemoteAddr, err)
		return
	}

	sub := newWsSubSession(conn)
	Log.Infof("[%s] lifecycle new ws sub session. session=%s, raddr=%s", h.uniqueKey, sub.uniqueKey, req.RemoteAddr)
	h.wsMutex.Lock()
	h.wsSubs[sub] = struct{}{}
	h.wsMutex.Unlock()

	go sub.runWriteLoop()
	sub.runReadLoop()

	h.wsMutex.Lock()
	delete(h.wsSubs, sub)
	h.wsMutex.Unlock()
	sub.dispose()
	Log.Infof("[%s] lifecycle dispose ws sub session. session=%s", h.uniqueKey, sub.uniqueKey)
}

func (h *HttpApiServer) broadcastInviteState(msg base.Message) {
	if msg.IntVal == gb28181.InviteCodeTrying {
		return
	}
	h.broadcast(inviteStateEvent{
		Kind:      "invite_state",
		SessionId: msg.SessionId,
		Code:      msg.IntVal,
		Msg:       msg.StrVal,
		Time:      base.ReadableNowTime(),
	})
}

func (h *HttpApiServer) broadcast(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		Log.Errorf("[%s] marshal event failed. err=%+v", h.uniqueKey, err)
		return
	}

	h.wsMutex.Lock()
	defer h.wsMutex.Unlock()
	for sub := range h.wsSubs {
		sub.feed(b)
	}
}

func (h *HttpApiServer) wsSubNum() int {
	h.wsMutex.Lock()
	defer h.wsMutex.Unlock()
	return len(h.wsSubs)
}
