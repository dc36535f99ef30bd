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
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/q191201771/lalgb/pkg/base"
	"github.com/q191201771/lalgb/pkg/devmgr"
)

// 自定义设备（RTSP 拉流地址等）加入注册表时，先在任务池中建立一次 TCP 连接确认设备可达。
// 连接结果和超时都回到 HTTP API 的 reactor 中处理，按 session id 匹配，会话已经结束时结果直接丢弃。

type devCheckSession struct {
	deviceId string
	addr     string
	timerId  int
	start    time.Time
}

type devAddReq struct {
	DeviceId string `json:"deviceId"`
	Name     string `json:"name"`
	IpAddr   string `json:"ipAddr"`
	Port     int    `json:"port"`
	Url      string `json:"url"`
	User     string `json:"user"`
	Pass     string `json:"pass"`
}

func (h *HttpApiServer) deviceAddHandler(w http.ResponseWriter, req *http.Request) {
	var info devAddReq
	if _, err := readJsonBody(req, &info, "deviceId", "ipAddr"); err != nil || info.DeviceId == "" || info.IpAddr == "" {
		feedback(w, genRsp{Code: 1, Msg: "json error"})
		return
	}
	if _, ok := h.devStore.FindDevice(info.DeviceId); ok {
		feedback(w, genRsp{Code: 1, Msg: "dev already exist"})
		return
	}
	if info.Port <= 0 {
		info.Port = defaultRtspPort
	}
	if info.Name == "" {
		info.Name = info.DeviceId
	}

	h.devStore.AddOrUpdateDevice(devmgr.Device{
		DeviceId: info.DeviceId,
		Name:     info.Name,
		IpAddr:   info.IpAddr,
		Port:     info.Port,
		Url:      info.Url,
		User:     info.User,
		Pass:     info.Pass,
		Type:     devmgr.DeviceTypeFromId(info.DeviceId),
		Protocol: devmgr.ProtocolRtspDev,
		Status:   devmgr.StatusUnknown,
	})
	Log.Infof("[%s] http api add device. device=%s, addr=%s:%d", h.uniqueKey, info.DeviceId, info.IpAddr, info.Port)

	h.call(w, req, base.Message{
		MsgId:   base.MsgProbe,
		DstType: base.ServiceHttpServer,
		DstId:   httpApiInstanceId,
		StrVal:  info.DeviceId,
	}, replyGen(w))
}

// onDevCheck 在 reactor goroutine 中调用
func (h *HttpApiServer) onDevCheck(msg base.Message) {
	dev, ok := h.devStore.FindDevice(msg.StrVal)
	if !ok {
		h.replyDevCheck(msg.SessionId, genRsp{Code: 1, Msg: "dev not exist"})
		return
	}

	sessionId := msg.SessionId
	sess := &devCheckSession{
		deviceId: dev.DeviceId,
		addr:     net.JoinHostPort(dev.IpAddr, strconv.Itoa(dev.Port)),
		start:    time.Now(),
	}
	sess.timerId = h.r.AddTimer(devCheckTimeoutTick, base.Message{MsgId: base.MsgProbeTimeout, SessionId: sessionId}, false)
	h.devChecks[sessionId] = sess

	addr := sess.addr
	deviceId := sess.deviceId
	dial := h.dial
	h.checkPool.Go(func(param ...interface{}) {
		conn, err := dial("tcp", addr, devCheckDialTimeout)
		if err == nil {
			_ = conn.Close()
		}
		h.r.EnqueMsg(base.Message{MsgId: base.MsgProbeFinish, SessionId: sessionId, StrVal: deviceId, Any: err})
	})
	Log.Infof("[%s] device check start. session=%d, device=%s, addr=%s", h.uniqueKey, sessionId, dev.DeviceId, addr)
}

func (h *HttpApiServer) onDevCheckFinish(msg base.Message) {
	sess, ok := h.devChecks[msg.SessionId]
	if !ok {
		Log.Warnf("[%s] device check result of finished session, drop it. session=%d, device=%s",
			h.uniqueKey, msg.SessionId, msg.StrVal)
		return
	}
	delete(h.devChecks, msg.SessionId)
	h.r.DelTimer(sess.timerId)

	if err, _ := msg.Any.(error); err != nil {
		Log.Warnf("[%s] device check failed. device=%s, addr=%s, err=%+v", h.uniqueKey, sess.deviceId, sess.addr, err)
		h.devStore.DeleteDevice([]string{sess.deviceId})
		h.replyDevCheck(msg.SessionId, genRsp{Code: 1, Msg: "dev connect failed"})
		return
	}

	h.devStore.SetStatus(sess.deviceId, devmgr.StatusOn)
	dev, _ := h.devStore.FindDevice(sess.deviceId)
	Log.Infof("[%s] device check succ. device=%s, addr=%s, cost=%dms",
		h.uniqueKey, sess.deviceId, sess.addr, time.Since(sess.start).Milliseconds())
	h.replyDevCheck(msg.SessionId, genRsp{Code: 0, Msg: "success", Result: dev})
}

func (h *HttpApiServer) onDevCheckTimeout(msg base.Message) {
	sess, ok := h.devChecks[msg.SessionId]
	if !ok {
		return
	}
	delete(h.devChecks, msg.SessionId)
	Log.Warnf("[%s] device check timeout. device=%s, addr=%s", h.uniqueKey, sess.deviceId, sess.addr)
	h.devStore.DeleteDevice([]string{sess.deviceId})
	h.replyDevCheck(msg.SessionId, genRsp{Code: 1, Msg: "dev connect timeout"})
}

// replyDevCheck 按信令服务通用应答的格式结束挂起的请求
func (h *HttpApiServer) replyDevCheck(sessionId int, rsp genRsp) {
	b, _ := json.Marshal(rsp)
	msg := base.Message{
		MsgId:     base.MsgGenHttpRsp,
		SessionId: sessionId,
		IntVal:    int(base.MsgProbe),
		StrVal:    string(b),
	}
	if !h.resolve(msg) {
		Log.Warnf("[%s] device check reply without pending request. %s", h.uniqueKey, msg)
	}
}
