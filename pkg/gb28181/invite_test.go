// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package gb28181

import (
	"strings"
	"testing"

	"github.com/q191201771/lalgb/pkg/base"
	"github.com/q191201771/lalgb/pkg/devmgr"
	"github.com/q191201771/lalgb/pkg/sip"
	"github.com/q191201771/naza/pkg/assert"
)

var testSdpAnswer = "v=0\r\no=" + testCameraA + " 0 0 IN IP4 192.168.1.100\r\ns=Play\r\nc=IN IP4 192.168.1.100\r\nt=0 0\r\n" +
	"m=video 15060 RTP/AVP 96\r\na=rtpmap:96 PS/90000\r\na=sendonly\r\ny=0100000001\r\n"

func (e *testEnv) invite(t *testing.T, sessionId int, ctx base.GbContext) *sip.Message {
	e.s.HandleMsg(base.Message{
		MsgId:     base.MsgInitInvite,
		SrcType:   base.ServiceHttpServer,
		SrcId:     1,
		SessionId: sessionId,
		Any:       ctx,
	})
	inv := e.tr.takeOne(t)
	assert.Equal(t, sip.MethodInvite, inv.Method)

	rsps := e.caller.take(base.MsgInviteCallRsp)
	assert.Equal(t, 1, len(rsps))
	assert.Equal(t, InviteCodeTrying, rsps[0].IntVal)
	assert.Equal(t, inv.CallId(), rsps[0].StrVal)
	assert.Equal(t, sessionId, rsps[0].SessionId)
	return inv
}

// answer 设备对 INVITE 的最终应答
func (e *testEnv) answer(t *testing.T, inv *sip.Message, code int, body []byte, contentType string) {
	b := sip.NewResponse(inv, code, "").
		SetToTag("devtag").
		SetContact(sip.BuildAddr(testCameraA, testDevIp, testDevPort))
	if len(body) != 0 {
		b.SetBody(contentType, body)
	}
	e.feed(t, b)
}

func newInviteEnv(t *testing.T) *testEnv {
	e := newTestEnv(t)
	e.devMgr.AddOrUpdateDevice(devmgr.Device{DeviceId: testCameraA, DomainId: testDomainId, Status: devmgr.StatusOn})
	assert.Equal(t, 200, e.register(t, 3600).StatusCode)
	return e
}

func TestInviteNotExist(t *testing.T) {
	e := newTestEnv(t)

	e.s.HandleMsg(base.Message{MsgId: base.MsgInitInvite, SrcType: base.ServiceHttpServer, SrcId: 1, Any: base.GbContext{GbId: testCameraA}})
	rsps := e.caller.take(base.MsgInviteCallRsp)
	assert.Equal(t, 1, len(rsps))
	assert.Equal(t, InviteCodeFailed, rsps[0].IntVal)
	assert.Equal(t, "device not exist", rsps[0].StrVal)

	e.devMgr.AddOrUpdateDevice(devmgr.Device{DeviceId: testCameraA, DomainId: testDomainId})
	e.s.HandleMsg(base.Message{MsgId: base.MsgInitInvite, SrcType: base.ServiceHttpServer, SrcId: 1, Any: &base.GbContext{GbId: testCameraA}})
	rsps = e.caller.take(base.MsgInviteCallRsp)
	assert.Equal(t, "device domain not exist", rsps[0].StrVal)
	assert.Equal(t, 0, len(e.tr.take(t)))
}

func TestInviteLifecycle(t *testing.T) {
	e := newInviteEnv(t)

	inv := e.invite(t, 11, base.GbContext{GbId: testCameraA})
	assert.Equal(t, sip.BuildUri(testCameraA, testDevIp, testDevPort), inv.Uri)
	assert.Equal(t, sip.ContentTypeSdp, inv.ContentType())
	assert.Equal(t, true, strings.HasPrefix(inv.Header.Get(sip.HeaderSubject), testCameraA+":0"))
	sdp := string(inv.Body)
	assert.Equal(t, true, strings.Contains(sdp, "s=Play\r\n"))
	assert.Equal(t, true, strings.Contains(sdp, "c=IN IP4 "+testServerIp+"\r\n"))
	assert.Equal(t, true, strings.Contains(sdp, "m=video 30000 RTP/AVP 96\r\n"))
	assert.Equal(t, true, strings.Contains(sdp, "a=recvonly\r\n"))

	// 100 忽略
	e.feed(t, sip.NewResponse(inv, 100, ""))
	assert.Equal(t, 0, len(e.tr.take(t)))
	assert.Equal(t, 0, len(e.caller.take(base.MsgInviteCallRsp)))

	e.answer(t, inv, 200, []byte(testSdpAnswer), sip.ContentTypeSdp)
	rsps := e.caller.take(base.MsgInviteCallRsp)
	assert.Equal(t, 1, len(rsps))
	assert.Equal(t, InviteCodeOk, rsps[0].IntVal)
	assert.Equal(t, testSdpAnswer, rsps[0].StrVal)
	assert.Equal(t, 11, rsps[0].SessionId)

	ack := e.tr.takeOne(t)
	assert.Equal(t, sip.MethodAck, ack.Method)
	assert.Equal(t, inv.CSeq().Num, ack.CSeq().Num)
	assert.Equal(t, sip.MethodAck, ack.CSeq().Method)
	assert.Equal(t, "devtag", sip.TagOf(ack.To()))
	assert.Equal(t, inv.CallId(), ack.CallId())

	// 重传的 200 只回 ACK
	e.answer(t, inv, 200, []byte(testSdpAnswer), sip.ContentTypeSdp)
	assert.Equal(t, sip.MethodAck, e.tr.takeOne(t).Method)
	assert.Equal(t, 0, len(e.caller.take(base.MsgInviteCallRsp)))

	// 会话建立后不受 INVITE 超时影响
	e.sweep(base.GbInviteTimeoutTick)
	_ = e.tr.take(t)
	assert.Equal(t, 0, len(e.caller.take(base.MsgInviteCallRsp)))
	assert.Equal(t, 1, len(e.s.inviteSessions))

	// 设备挂断
	bye := devRequest(sip.MethodBye, inv.CallId(), 2)
	e.feed(t, bye)
	assert.Equal(t, 200, e.tr.takeOne(t).StatusCode)
	rsps = e.caller.take(base.MsgInviteCallRsp)
	assert.Equal(t, 1, len(rsps))
	assert.Equal(t, InviteCodeClientBye, rsps[0].IntVal)
	assert.Equal(t, "client bye", rsps[0].StrVal)
	assert.Equal(t, 0, len(e.s.inviteSessions))

	// 未知会话的 BYE 同样回 200
	e.feed(t, devRequest(sip.MethodBye, inv.CallId(), 3))
	assert.Equal(t, 200, e.tr.takeOne(t).StatusCode)
	assert.Equal(t, 0, len(e.caller.take(base.MsgInviteCallRsp)))
}

func TestInviteTimeout(t *testing.T) {
	e := newInviteEnv(t)
	inv := e.invite(t, 1, base.GbContext{GbId: testCameraA})

	e.sweep(base.GbInviteTimeoutTick - 1)
	_ = e.tr.take(t)
	assert.Equal(t, 0, len(e.caller.take(base.MsgInviteCallRsp)))

	e.sweep(1)
	rsps := e.caller.take(base.MsgInviteCallRsp)
	assert.Equal(t, 1, len(rsps))
	assert.Equal(t, InviteCodeFailed, rsps[0].IntVal)
	assert.Equal(t, "invite time out", rsps[0].StrVal)
	assert.Equal(t, 0, len(e.s.inviteSessions))

	// 超时之后到达的应答被忽略
	e.answer(t, inv, 200, []byte(testSdpAnswer), sip.ContentTypeSdp)
	assert.Equal(t, 0, len(e.tr.take(t)))
	assert.Equal(t, 0, len(e.caller.take(base.MsgInviteCallRsp)))
}

func TestInviteFailed(t *testing.T) {
	e := newInviteEnv(t)
	inv := e.invite(t, 1, base.GbContext{GbId: testCameraA})

	body := `<?xml version="1.0"?><Response><CmdType>DeviceControl</CmdType><SN>1</SN><ErrorCode>0x1001</ErrorCode></Response>`
	e.answer(t, inv, 486, []byte(body), sip.ContentTypeManscdp)
	rsps := e.caller.take(base.MsgInviteCallRsp)
	assert.Equal(t, 1, len(rsps))
	assert.Equal(t, 486, rsps[0].IntVal)
	assert.Equal(t, "Invite failed:486-0x1001", rsps[0].StrVal)
	assert.Equal(t, sip.MethodAck, e.tr.takeOne(t).Method)
	assert.Equal(t, 0, len(e.s.inviteSessions))

	inv = e.invite(t, 2, base.GbContext{GbId: testCameraA})
	e.answer(t, inv, 404, nil, "")
	rsps = e.caller.take(base.MsgInviteCallRsp)
	assert.Equal(t, "Invite failed:404", rsps[0].StrVal)
}

func TestInvitePlaybackTcp(t *testing.T) {
	e := newInviteEnv(t)
	inv := e.invite(t, 1, base.GbContext{
		GbId:      testCameraA,
		RtpIp:     "10.0.0.1",
		RtpPort:   40000,
		Transport: base.TransportTcpPassive,
		Type:      1,
		StartTime: "1700000000",
		EndTime:   "1700003600",
	})
	assert.Equal(t, true, strings.HasPrefix(inv.Header.Get(sip.HeaderSubject), testCameraA+":1"))
	sdp := string(inv.Body)
	assert.Equal(t, true, strings.Contains(sdp, "s=Playback\r\nu="+testCameraA+":0\r\n"))
	assert.Equal(t, true, strings.Contains(sdp, "c=IN IP4 10.0.0.1\r\n"))
	assert.Equal(t, true, strings.Contains(sdp, "t=1700000000 1700003600\r\n"))
	assert.Equal(t, true, strings.Contains(sdp, "m=video 40000 TCP/RTP/AVP 96\r\n"))
	assert.Equal(t, true, strings.Contains(sdp, "a=setup:passive\r\na=connection:new\r\n"))
}

func TestInviteNatMap(t *testing.T) {
	e := newInviteEnv(t)
	e.devMgr.AddMapIp(testServerIp, "1.2.3.4")
	inv := e.invite(t, 1, base.GbContext{GbId: testCameraA})
	assert.Equal(t, true, strings.Contains(string(inv.Body), "c=IN IP4 1.2.3.4\r\n"))
}

func TestInviteOkBeforeStaleTimeout(t *testing.T) {
	e := newInviteEnv(t)
	inv := e.invite(t, 31, base.GbContext{GbId: testCameraA})

	// 超时消息已经进入队列，200 在同一轮中先被处理
	for i := 0; i < base.GbInviteTimeoutTick; i++ {
		e.timer.Sweep()
	}
	e.answer(t, inv, 200, []byte(testSdpAnswer), sip.ContentTypeSdp)
	e.s.r.Poll()

	rsps := e.caller.take(base.MsgInviteCallRsp)
	assert.Equal(t, 1, len(rsps))
	assert.Equal(t, InviteCodeOk, rsps[0].IntVal)
	assert.Equal(t, 1, len(e.s.inviteSessions))
	_ = e.tr.take(t)

	// 会话照常由调用方结束
	e.s.HandleMsg(base.Message{MsgId: base.MsgStopInviteCall, SrcType: base.ServiceHttpServer, SrcId: 1, SessionId: 31})
	assert.Equal(t, sip.MethodBye, e.tr.takeOne(t).Method)
	rsps = e.caller.take(base.MsgInviteCallRsp)
	assert.Equal(t, 1, len(rsps))
	assert.Equal(t, InviteCodeClosed, rsps[0].IntVal)
	assert.Equal(t, 0, len(e.s.inviteSessions))
}

func TestInviteAccepted(t *testing.T) {
	e := newInviteEnv(t)
	inv := e.invite(t, 41, base.GbContext{GbId: testCameraA})

	// 2xx 都按成功处理
	e.answer(t, inv, 202, []byte(testSdpAnswer), sip.ContentTypeSdp)
	assert.Equal(t, sip.MethodAck, e.tr.takeOne(t).Method)
	rsps := e.caller.take(base.MsgInviteCallRsp)
	assert.Equal(t, 1, len(rsps))
	assert.Equal(t, InviteCodeOk, rsps[0].IntVal)
	assert.Equal(t, testSdpAnswer, rsps[0].StrVal)
	assert.Equal(t, true, e.s.inviteSessions[inv.CallId()].established)
}

func TestInviteMediaStatus(t *testing.T) {
	e := newInviteEnv(t)
	inv := e.invite(t, 1, base.GbContext{GbId: testCameraA, Type: 1, StartTime: "1", EndTime: "2"})
	e.answer(t, inv, 200, []byte(testSdpAnswer), sip.ContentTypeSdp)
	_ = e.tr.take(t)
	_ = e.caller.take(base.MsgInviteCallRsp)

	body := `<?xml version="1.0"?><Notify><CmdType>MediaStatus</CmdType><SN>5</SN><DeviceID>` + testCameraA +
		`</DeviceID><NotifyType>121</NotifyType></Notify>`
	e.feed(t, devRequest(sip.MethodMessage, inv.CallId(), 4).SetBody(sip.ContentTypeManscdp, []byte(body)))
	msgs := e.tr.take(t)
	assert.Equal(t, 2, len(msgs))
	assert.Equal(t, 200, msgs[0].StatusCode)
	assert.Equal(t, sip.MethodBye, msgs[1].Method)
	assert.Equal(t, "devtag", sip.TagOf(msgs[1].To()))

	rsps := e.caller.take(base.MsgInviteCallRsp)
	assert.Equal(t, 1, len(rsps))
	assert.Equal(t, InviteCodeDeviceClosed, rsps[0].IntVal)
	assert.Equal(t, "call closed by device", rsps[0].StrVal)
	assert.Equal(t, 0, len(e.s.inviteSessions))
}

func TestStopInviteCall(t *testing.T) {
	e := newInviteEnv(t)
	inv := e.invite(t, 21, base.GbContext{GbId: testCameraA})
	e.answer(t, inv, 200, []byte(testSdpAnswer), sip.ContentTypeSdp)
	_ = e.tr.take(t)
	_ = e.caller.take(base.MsgInviteCallRsp)

	// 按请求方和 SessionId 匹配
	e.s.HandleMsg(base.Message{MsgId: base.MsgStopInviteCall, SrcType: base.ServiceHttpServer, SrcId: 1, SessionId: 21})
	assert.Equal(t, sip.MethodBye, e.tr.takeOne(t).Method)
	rsps := e.caller.take(base.MsgInviteCallRsp)
	assert.Equal(t, 1, len(rsps))
	assert.Equal(t, InviteCodeClosed, rsps[0].IntVal)
	assert.Equal(t, 0, len(e.s.inviteSessions))
}

func TestDomainUnregisterClearsInvite(t *testing.T) {
	e := newInviteEnv(t)
	inv := e.invite(t, 1, base.GbContext{GbId: testCameraA})
	e.answer(t, inv, 200, []byte(testSdpAnswer), sip.ContentTypeSdp)
	_ = e.tr.take(t)
	_ = e.caller.take(base.MsgInviteCallRsp)

	msgs := e.registerAll(t, 0)
	assert.Equal(t, 2, len(msgs))
	assert.Equal(t, 200, msgs[0].StatusCode)
	assert.Equal(t, sip.MethodBye, msgs[1].Method)

	assert.Equal(t, 0, len(e.s.domains))
	assert.Equal(t, 0, len(e.s.inviteSessions))
	rsps := e.caller.take(base.MsgInviteCallRsp)
	assert.Equal(t, 1, len(rsps))
	assert.Equal(t, InviteCodeDomainCleared, rsps[0].IntVal)
	assert.Equal(t, "domain unregistered", rsps[0].StrVal)

	dev, _ := e.devMgr.FindDevice(testCameraA)
	assert.Equal(t, devmgr.StatusOff, dev.Status)
}
