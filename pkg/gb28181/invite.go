// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package gb28181

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/q191201771/lalgb/pkg/base"
	"github.com/q191201771/lalgb/pkg/sip"
)

func (s *Server) initInvite(msg base.Message) {
	var ctx base.GbContext
	switch v := msg.Any.(type) {
	case base.GbContext:
		ctx = v
	case *base.GbContext:
		ctx = *v
	default:
		Log.Errorf("[%s] init invite without gb context. %s", s.uniqueKey, msg)
		return
	}

	reject := func(str string) {
		s.post(base.Message{
			MsgId:     base.MsgInviteCallRsp,
			DstType:   msg.SrcType,
			DstId:     msg.SrcId,
			SessionId: msg.SessionId,
			IntVal:    InviteCodeFailed,
			StrVal:    str,
		})
	}

	dev, ok := s.devReg.FindDevice(ctx.GbId)
	if !ok {
		Log.Warnf("[%s] invite device not exist. device=%s", s.uniqueKey, ctx.GbId)
		reject("device not exist")
		return
	}
	d, ok := s.domains[dev.DomainId]
	if !ok {
		Log.Warnf("[%s] invite device domain not exist. device=%s, domain=%s", s.uniqueKey, ctx.GbId, dev.DomainId)
		reject("device domain not exist")
		return
	}

	callId := ctx.CallId
	if callId == "" {
		callId = sip.GenRandStr(16)
	}
	if _, exist := s.inviteSessions[callId]; exist {
		Log.Warnf("[%s] invite call id duplicate. callId=%s", s.uniqueKey, callId)
		reject("call id duplicate")
		return
	}

	if ctx.RtpIp == "" {
		ctx.RtpIp = s.config.RtpIp
	}
	if mapIp := s.devReg.GetMapIp(ctx.RtpIp); mapIp != "" {
		ctx.RtpIp = mapIp
	}
	if ctx.RtpPort == 0 {
		ctx.RtpPort = s.config.RtpPort
	}

	live := ctx.IsLive()
	ssrcPrefix := "0"
	if !live {
		ssrcPrefix = "1"
	}
	subject := fmt.Sprintf("%s:%s%s,%s:%s", ctx.GbId, ssrcPrefix, sip.GenRandDigits(15), s.config.ServerId, sip.GenRandStr(16))

	b := s.newRequest(sip.MethodInvite, d, ctx.GbId, d.contactIp, d.contactPort, callId).
		SetSubject(subject).
		SetBody(sip.ContentTypeSdp, packInviteSdp(ctx))
	if err := s.sendRequest(b, sip.MethodInvite, d, d.contactIp, d.contactPort); err != nil {
		reject("send invite failed")
		return
	}

	sess := &inviteSession{
		callId:    callId,
		deviceId:  ctx.GbId,
		domainId:  d.id,
		dstIp:     d.contactIp,
		dstPort:   d.contactPort,
		srcType:   msg.SrcType,
		srcId:     msg.SrcId,
		sessionId: msg.SessionId,
	}
	sess.timerGen = s.timerGen.next(nil)
	sess.timerId = s.r.AddTimer(base.GbInviteTimeoutTick,
		base.Message{MsgId: base.MsgInviteTimeout, StrVal: callId, IntVal: sess.timerGen}, false)
	s.inviteSessions[callId] = sess
	s.updateSessionMetrics()

	Log.Infof("[%s] init invite. device=%s, callId=%s, rtp=%s:%d, transport=%s, live=%t",
		s.uniqueKey, ctx.GbId, callId, ctx.RtpIp, ctx.RtpPort, ctx.Transport, live)
	s.postInviteRsp(sess, InviteCodeTrying, callId)
}

// packInviteSdp 媒体格式固定为 PS/90000
func packInviteSdp(ctx base.GbContext) []byte {
	var sb strings.Builder
	sb.WriteString("v=0\r\n")
	sb.WriteString(fmt.Sprintf("o=%s 0 0 IN IP4 %s\r\n", ctx.GbId, ctx.RtpIp))
	if ctx.IsLive() {
		sb.WriteString("s=Play\r\n")
	} else {
		sb.WriteString("s=Playback\r\n")
		sb.WriteString(fmt.Sprintf("u=%s:0\r\n", ctx.GbId))
	}
	sb.WriteString(fmt.Sprintf("c=IN IP4 %s\r\n", ctx.RtpIp))
	if ctx.IsLive() {
		sb.WriteString("t=0 0\r\n")
	} else {
		sb.WriteString(fmt.Sprintf("t=%s %s\r\n", ctx.StartTime, ctx.EndTime))
	}

	switch ctx.Transport {
	case base.TransportTcpActive, base.TransportTcpPassive:
		sb.WriteString(fmt.Sprintf("m=video %d TCP/RTP/AVP 96\r\n", ctx.RtpPort))
		sb.WriteString("a=rtpmap:96 PS/90000\r\n")
		if ctx.Transport == base.TransportTcpActive {
			sb.WriteString("a=setup:active\r\n")
		} else {
			sb.WriteString("a=setup:passive\r\n")
		}
		sb.WriteString("a=connection:new\r\n")
	default:
		sb.WriteString(fmt.Sprintf("m=video %d RTP/AVP 96\r\n", ctx.RtpPort))
		sb.WriteString("a=rtpmap:96 PS/90000\r\n")
	}
	sb.WriteString("a=recvonly\r\n")
	return []byte(sb.String())
}

func (s *Server) onInviteRsp(msg *sip.Message, t ITransport, addr *net.UDPAddr) {
	callId := msg.CallId()
	sess, ok := s.inviteSessions[callId]
	if !ok {
		Log.Warnf("[%s] invite response but session not exist. callId=%s, code=%d", s.uniqueKey, callId, msg.StatusCode)
		return
	}
	d, ok := s.domains[sess.domainId]
	if !ok {
		return
	}

	// 重传的 200 只需要再回一次 ACK
	if sess.established {
		s.sendAck(sess, d)
		return
	}

	s.r.DelTimer(sess.timerId)
	sess.timerId = 0

	ip, port := sip.HostPortOf(msg.Contact())
	if port == 0 || ip != sess.dstIp {
		ip, port = sess.dstIp, sess.dstPort
	}
	sess.dstIp, sess.dstPort = ip, port
	sess.rsp = msg

	if msg.StatusCode >= 200 && msg.StatusCode < 300 {
		sess.established = true
		Log.Infof("[%s] invite ok. device=%s, callId=%s", s.uniqueKey, sess.deviceId, callId)
		s.postInviteRsp(sess, InviteCodeOk, string(msg.Body))
		s.sendAck(sess, d)
		return
	}

	descb := "Invite failed:" + strconv.Itoa(msg.StatusCode)
	if msg.IsManscdp() {
		if ec := errorCodeOf(msg.Body); ec != "" {
			descb += "-" + ec
		}
	}
	Log.Warnf("[%s] invite failed. device=%s, callId=%s, code=%d, descb=%s", s.uniqueKey, sess.deviceId, callId, msg.StatusCode, descb)
	s.post(base.Message{
		MsgId:     base.MsgInviteCallRsp,
		DstType:   sess.srcType,
		DstId:     sess.srcId,
		SessionId: sess.sessionId,
		IntVal:    msg.StatusCode,
		StrVal:    descb,
	})
	s.sendAck(sess, d)
	delete(s.inviteSessions, callId)
	s.updateSessionMetrics()
}

// errorCodeOf 失败应答中 MANSCDP 包体的 ErrorCode
func errorCodeOf(body []byte) string {
	var v struct {
		ErrorCode string `xml:"ErrorCode"`
	}
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&v); err != nil {
		return ""
	}
	return strings.TrimSpace(v.ErrorCode)
}

func (s *Server) sendAck(sess *inviteSession, d *domain) {
	rsp := sess.rsp
	contactId := sip.IdOf(rsp.Contact())
	if contactId == "" {
		contactId = sess.deviceId
	}
	b := sip.NewRequest(sip.MethodAck, sip.BuildUri(contactId, sess.dstIp, sess.dstPort)).
		AddVia(sip.BuildVia(s.viaTransport(d), s.sipIp(), s.config.ServerPort)).
		SetFrom(rsp.From()).
		SetTo(rsp.To()).
		SetCallId(sess.callId).
		SetCSeq(rsp.CSeq().Num, sip.MethodAck).
		SetContact(s.localAddr())
	_ = s.sendRequest(b, sip.MethodAck, d, sess.dstIp, sess.dstPort)
}

// sendBye 只对收到过最终应答的会话发送
func (s *Server) sendBye(sess *inviteSession, d *domain) {
	if sess.rsp == nil {
		Log.Debugf("[%s] no final response yet, skip bye. callId=%s", s.uniqueKey, sess.callId)
		return
	}
	b := sip.NewRequest(sip.MethodBye, sip.BuildUri(sess.deviceId, sess.dstIp, sess.dstPort)).
		AddVia(sip.BuildVia(s.viaTransport(d), s.sipIp(), s.config.ServerPort)).
		SetFrom(sess.rsp.From()).
		SetTo(sess.rsp.To()).
		SetCallId(sess.callId).
		SetCSeq(s.nextCSeq(), sip.MethodBye).
		SetContact(s.localAddr())
	_ = s.sendRequest(b, sip.MethodBye, d, sess.dstIp, sess.dstPort)
}

// onBye 设备主动挂断，会话不存在时同样回 200
func (s *Server) onBye(msg *sip.Message, t ITransport, addr *net.UDPAddr) {
	s.reply(msg, t, addr, 200, false)

	callId := msg.CallId()
	sess, ok := s.inviteSessions[callId]
	if !ok {
		Log.Warnf("[%s] bye but session not exist. callId=%s", s.uniqueKey, callId)
		return
	}
	Log.Infof("[%s] bye by device. device=%s, callId=%s", s.uniqueKey, sess.deviceId, callId)
	s.r.DelTimer(sess.timerId)
	s.postInviteRsp(sess, InviteCodeClientBye, "client bye")
	delete(s.inviteSessions, callId)
	s.updateSessionMetrics()
}

// onMediaStatus 录像回放结束，设备用 MESSAGE 在点播的会话中通知
func (s *Server) onMediaStatus(msg *sip.Message, m *Manscdp) {
	if m.NotifyType != mediaStatusNotifyTypeEnd {
		return
	}
	callId := msg.CallId()
	sess, ok := s.inviteSessions[callId]
	if !ok {
		return
	}
	Log.Infof("[%s] media status end. device=%s, callId=%s", s.uniqueKey, sess.deviceId, callId)
	s.r.DelTimer(sess.timerId)
	if d, ok := s.domains[sess.domainId]; ok {
		s.sendBye(sess, d)
	}
	s.postInviteRsp(sess, InviteCodeDeviceClosed, "call closed by device")
	delete(s.inviteSessions, callId)
	s.updateSessionMetrics()
}

func (s *Server) onInviteTimeout(msg base.Message) {
	sess, ok := s.inviteSessions[msg.StrVal]
	if !ok {
		return
	}
	// 最终应答先于超时消息被处理，或者是同一个 callId 上一个会话的定时器
	if sess.rsp != nil || msg.IntVal != sess.timerGen {
		Log.Debugf("[%s] stale invite timeout, drop it. callId=%s, established=%t", s.uniqueKey, sess.callId, sess.established)
		return
	}
	Log.Warnf("[%s] invite timeout. device=%s, callId=%s", s.uniqueKey, sess.deviceId, sess.callId)
	s.metrics.incTimeout(sessionKindInvite)
	s.postInviteRsp(sess, InviteCodeFailed, "invite time out")
	delete(s.inviteSessions, sess.callId)
	s.updateSessionMetrics()
}

// stopInviteCall StrVal 为 callId，为空时按请求方和 SessionId 查找
func (s *Server) stopInviteCall(msg base.Message) {
	var sess *inviteSession
	if msg.StrVal != "" {
		sess = s.inviteSessions[msg.StrVal]
	} else {
		for _, v := range s.inviteSessions {
			if v.srcType == msg.SrcType && v.srcId == msg.SrcId && v.sessionId == msg.SessionId {
				sess = v
				break
			}
		}
	}
	if sess == nil {
		Log.Warnf("[%s] stop invite but session not exist. %s", s.uniqueKey, msg)
		return
	}

	Log.Infof("[%s] stop invite. device=%s, callId=%s", s.uniqueKey, sess.deviceId, sess.callId)
	s.r.DelTimer(sess.timerId)
	if d, ok := s.domains[sess.domainId]; ok {
		s.sendBye(sess, d)
	}
	s.postInviteRsp(sess, InviteCodeClosed, "closed")
	delete(s.inviteSessions, sess.callId)
	s.updateSessionMetrics()
}
