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
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/q191201771/lalgb/pkg/base"
	"github.com/q191201771/lalgb/pkg/devmgr"
	"github.com/q191201771/lalgb/pkg/gb28181"
	"github.com/q191201771/lalgb/pkg/reactor"
	"github.com/q191201771/naza/pkg/assert"
	"github.com/q191201771/naza/pkg/nazaatomic"
)

const (
	testCamera    = "34020000001320000001"
	testRtspDev   = "34020000001320000009"
	testNewDev    = "34020000001320000010"
	testDomain    = "34020000002000000002"
	testSdpAnswer = "v=0\r\no=34020000001320000001 0 0 IN IP4 192.168.1.100\r\n"
)

// fakeGbServer 代替信令服务挂在总线上，记录收到的消息并按 onMsg 应答
type fakeGbServer struct {
	registry *reactor.Registry
	onMsg    func(msg base.Message) []base.Message

	mutex sync.Mutex
	msgs  []base.Message
}

func (f *fakeGbServer) ServiceType() base.ServiceType {
	return base.ServiceGbServer
}

func (f *fakeGbServer) InstanceId() int {
	return gbServerInstanceId
}

func (f *fakeGbServer) EnqueMsg(msg base.Message) {
	f.mutex.Lock()
	f.msgs = append(f.msgs, msg)
	f.mutex.Unlock()

	if f.onMsg == nil {
		return
	}
	for _, rsp := range f.onMsg(msg) {
		rsp.SrcType = base.ServiceGbServer
		rsp.SrcId = gbServerInstanceId
		rsp.DstType = msg.SrcType
		rsp.DstId = msg.SrcId
		rsp.SessionId = msg.SessionId
		_ = f.registry.PostMsg(rsp)
	}
}

func (f *fakeGbServer) received() []base.Message {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]base.Message(nil), f.msgs...)
}

type httpTestEnv struct {
	registry *reactor.Registry
	timer    *reactor.TimerService
	devMgr   *devmgr.Manager
	h        *HttpApiServer
	gb       *fakeGbServer
	ts       *httptest.Server
}

func newHttpTestEnv(t *testing.T, withGb bool, modConfig ...func(c *HttpApiConfig)) *httpTestEnv {
	config := HttpApiConfig{
		Enable:         true,
		ReplyTimeoutMs: 2000,
		WsEventPath:    defaultWsEventPath,
	}
	for _, fn := range modConfig {
		fn(&config)
	}

	e := &httpTestEnv{
		registry: reactor.NewRegistry(),
		devMgr:   devmgr.NewManager(nil),
	}
	e.timer = reactor.NewTimerService(e.registry)
	e.devMgr.AddOrUpdateDevice(devmgr.Device{
		DeviceId: testCamera,
		DomainId: testDomain,
		Name:     "cam",
		Status:   devmgr.StatusOn,
		Protocol: devmgr.ProtocolGbDev,
		Type:     devmgr.DeviceTypeCamera,
	})
	e.devMgr.AddOrUpdateDevice(devmgr.Device{
		DeviceId: testRtspDev,
		Name:     "rtsp",
		Protocol: devmgr.ProtocolRtspDev,
	})

	gbConfig := gb28181.ServerConfig{
		ServerId:   "34020000002000000001",
		ServerPort: 5060,
		Transport:  base.TransportUdp,
	}
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "lalgb_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	e.h = NewHttpApiServer(config, gbConfig, e.registry, e.timer, e.devMgr, reg, "/metrics")
	assert.Equal(t, nil, e.h.Reactor().Start())
	go e.h.Reactor().Wait()

	if withGb {
		e.gb = &fakeGbServer{registry: e.registry}
		assert.Equal(t, nil, e.registry.Regist(e.gb))
	}

	e.ts = httptest.NewServer(e.h.Handler())
	t.Cleanup(func() {
		e.ts.Close()
		e.h.Dispose()
	})
	return e
}

func (e *httpTestEnv) do(t *testing.T, method string, path string, body string) genRspRaw {
	req, err := http.NewRequest(method, e.ts.URL+path, strings.NewReader(body))
	assert.Equal(t, nil, err)
	resp, err := http.DefaultClient.Do(req)
	assert.Equal(t, nil, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	assert.Equal(t, nil, err)

	var ret genRspRaw
	assert.Equal(t, nil, json.Unmarshal(b, &ret))
	ret.body = string(b)
	return ret
}

type genRspRaw struct {
	Code   int             `json:"code"`
	Msg    string          `json:"msg"`
	Result json.RawMessage `json:"result"`
	body   string
}

// ---------------------------------------------------------------------------------------------------------------------

func TestHttpApiDomain(t *testing.T) {
	e := newHttpTestEnv(t, true)
	body := `{"code":0,"msg":"success","result":[{"id":"34020000002000000002","devNum":1,"ip":"192.168.1.100","port":5060}]}`
	e.gb.onMsg = func(msg base.Message) []base.Message {
		return []base.Message{{MsgId: base.MsgGenHttpRsp, IntVal: int(msg.MsgId), StrVal: body}}
	}

	rsp := e.do(t, http.MethodGet, "/api/gb/domain", "")
	assert.Equal(t, body, rsp.body)

	msgs := e.gb.received()
	assert.Equal(t, 1, len(msgs))
	assert.Equal(t, base.MsgGetRegistDomain, msgs[0].MsgId)
	assert.Equal(t, base.ServiceHttpServer, msgs[0].SrcType)
	assert.Equal(t, httpApiInstanceId, msgs[0].SrcId)
	assert.Equal(t, true, msgs[0].SessionId > 0)
}

func TestHttpApiGbServerNotAvailable(t *testing.T) {
	e := newHttpTestEnv(t, false)
	rsp := e.do(t, http.MethodGet, "/api/gb/domain", "")
	assert.Equal(t, 1, rsp.Code)
	assert.Equal(t, "gb server not available", rsp.Msg)

	rsp = e.do(t, http.MethodPost, "/api/gb/catalog", "")
	assert.Equal(t, 1, rsp.Code)
}

func TestHttpApiReplyTimeout(t *testing.T) {
	e := newHttpTestEnv(t, true, func(c *HttpApiConfig) {
		c.ReplyTimeoutMs = 50
	})
	rsp := e.do(t, http.MethodPost, "/api/device/preset", `{"deviceId":"`+testCamera+`"}`)
	assert.Equal(t, 1, rsp.Code)
	assert.Equal(t, "timeout", rsp.Msg)

	msgs := e.gb.received()
	assert.Equal(t, 1, len(msgs))
	assert.Equal(t, base.MsgQueryPreset, msgs[0].MsgId)
	assert.Equal(t, testCamera, msgs[0].StrVal)
}

func TestHttpApiCatalog(t *testing.T) {
	e := newHttpTestEnv(t, true)
	rsp := e.do(t, http.MethodPost, "/api/gb/catalog", "")
	assert.Equal(t, 0, rsp.Code)
	assert.Equal(t, "success", rsp.Msg)

	msgs := e.gb.received()
	assert.Equal(t, 1, len(msgs))
	assert.Equal(t, base.MsgHttpInitCatalog, msgs[0].MsgId)
}

func TestHttpApiRecord(t *testing.T) {
	e := newHttpTestEnv(t, true)
	e.gb.onMsg = func(msg base.Message) []base.Message {
		return []base.Message{{MsgId: base.MsgGenHttpRsp, IntVal: int(msg.MsgId), StrVal: `{"code":0,"msg":"success","result":[]}`}}
	}

	rsp := e.do(t, http.MethodPost, "/api/gb/record", `{"deviceId":`)
	assert.Equal(t, "json error", rsp.Msg)
	rsp = e.do(t, http.MethodPost, "/api/gb/record", `{"deviceId":"34020000001320000099"}`)
	assert.Equal(t, "dev not exist", rsp.Msg)
	rsp = e.do(t, http.MethodPost, "/api/gb/record", `{"deviceId":"`+testRtspDev+`"}`)
	assert.Equal(t, "dev not gb device", rsp.Msg)
	assert.Equal(t, 0, len(e.gb.received()))

	req := `{"deviceId":"` + testCamera + `","startTime":"2024-01-01T00:00:00","endTime":"2024-01-01T01:00:00"}`
	rsp = e.do(t, http.MethodPost, "/api/gb/record", req)
	assert.Equal(t, 0, rsp.Code)
	assert.Equal(t, "[]", string(rsp.Result))

	msgs := e.gb.received()
	assert.Equal(t, 1, len(msgs))
	assert.Equal(t, base.MsgInitRecord, msgs[0].MsgId)
	assert.Equal(t, req, msgs[0].StrVal)
}

func TestHttpApiInvite(t *testing.T) {
	e := newHttpTestEnv(t, true)
	e.gb.onMsg = func(msg base.Message) []base.Message {
		if msg.MsgId != base.MsgInitInvite {
			return nil
		}
		return []base.Message{
			{MsgId: base.MsgInviteCallRsp, IntVal: gb28181.InviteCodeTrying, StrVal: "callid0001"},
			{MsgId: base.MsgInviteCallRsp, IntVal: gb28181.InviteCodeOk, StrVal: testSdpAnswer},
		}
	}

	rsp := e.do(t, http.MethodPost, "/api/gb/invite", `{"deviceId":"`+testCamera+`","rtpIp":"10.0.0.1","rtpPort":30000,"transport":"tcp_passive"}`)
	assert.Equal(t, 0, rsp.Code)
	var result inviteResult
	assert.Equal(t, nil, json.Unmarshal(rsp.Result, &result))
	assert.Equal(t, "callid0001", result.CallId)
	assert.Equal(t, testSdpAnswer, result.Sdp)

	msgs := e.gb.received()
	assert.Equal(t, 1, len(msgs))
	ctx, ok := msgs[0].Any.(base.GbContext)
	assert.Equal(t, true, ok)
	assert.Equal(t, testCamera, ctx.GbId)
	assert.Equal(t, "10.0.0.1", ctx.RtpIp)
	assert.Equal(t, 30000, ctx.RtpPort)
	assert.Equal(t, base.TransportTcpPassive, ctx.Transport)
	assert.Equal(t, true, ctx.IsLive())

	rsp = e.do(t, http.MethodPost, "/api/gb/invite/stop", `{"callId":"callid0001"}`)
	assert.Equal(t, 0, rsp.Code)
	msgs = e.gb.received()
	assert.Equal(t, 2, len(msgs))
	assert.Equal(t, base.MsgStopInviteCall, msgs[1].MsgId)
	assert.Equal(t, "callid0001", msgs[1].StrVal)

	rsp = e.do(t, http.MethodPost, "/api/gb/invite/stop", `{}`)
	assert.Equal(t, "json error", rsp.Msg)
}

func TestHttpApiInviteFailed(t *testing.T) {
	e := newHttpTestEnv(t, true)
	e.gb.onMsg = func(msg base.Message) []base.Message {
		return []base.Message{
			{MsgId: base.MsgInviteCallRsp, IntVal: gb28181.InviteCodeTrying, StrVal: "callid0002"},
			{MsgId: base.MsgInviteCallRsp, IntVal: 486, StrVal: "Invite failed:486"},
		}
	}

	rsp := e.do(t, http.MethodPost, "/api/gb/invite", `{"deviceId":"`+testCamera+`"}`)
	assert.Equal(t, 486, rsp.Code)
	assert.Equal(t, "Invite failed:486", rsp.Msg)

	ctx := e.gb.received()[0].Any.(base.GbContext)
	assert.Equal(t, base.TransportUdp, ctx.Transport)
}

func TestHttpApiPtz(t *testing.T) {
	e := newHttpTestEnv(t, true)

	rsp := e.do(t, http.MethodPost, "/api/device/ptz", `{"deviceId":"`+testCamera+`"}`)
	assert.Equal(t, "json error", rsp.Msg)
	rsp = e.do(t, http.MethodPost, "/api/device/ptz", `{"deviceId":"34020000001320000099","ptzCmd":1}`)
	assert.Equal(t, "dev not exist", rsp.Msg)
	rsp = e.do(t, http.MethodPost, "/api/device/ptz", `{"deviceId":"`+testRtspDev+`","ptzCmd":1}`)
	assert.Equal(t, "dev not support ptz", rsp.Msg)
	rsp = e.do(t, http.MethodPost, "/api/device/ptz", `{"deviceId":"`+testCamera+`","ptzCmd":10}`)
	assert.Equal(t, "param error", rsp.Msg)
	assert.Equal(t, 0, len(e.gb.received()))

	rsp = e.do(t, http.MethodPost, "/api/device/ptz", `{"deviceId":"`+testCamera+`","ptzCmd":2,"timeout":20000}`)
	assert.Equal(t, 0, rsp.Code)
	assert.Equal(t, "ok", rsp.Msg)
	rsp = e.do(t, http.MethodPost, "/api/device/ptz", `{"deviceId":"`+testCamera+`","ptzCmd":7,"presetID":"3","timeout":800}`)
	assert.Equal(t, 0, rsp.Code)

	msgs := e.gb.received()
	assert.Equal(t, 2, len(msgs))
	cmd := msgs[0].Any.(base.PtzCmd)
	assert.Equal(t, testCamera, cmd.DevId)
	assert.Equal(t, gb28181.PtzRight, cmd.PtzCmd)
	assert.Equal(t, ptzDefaultTimeoutMs, cmd.TimeoutMs)
	cmd = msgs[1].Any.(base.PtzCmd)
	assert.Equal(t, gb28181.PtzPresetGoto, cmd.PtzCmd)
	assert.Equal(t, "3", cmd.PresetId)
	assert.Equal(t, 800, cmd.TimeoutMs)
}

func TestHttpApiDevice(t *testing.T) {
	e := newHttpTestEnv(t, false)

	rsp := e.do(t, http.MethodGet, "/api/device/?deviceId="+testCamera, "")
	assert.Equal(t, 0, rsp.Code)
	var dev devmgr.Device
	assert.Equal(t, nil, json.Unmarshal(rsp.Result, &dev))
	assert.Equal(t, "cam", dev.Name)

	rsp = e.do(t, http.MethodGet, "/api/device/?deviceId=34020000001320000099", "")
	assert.Equal(t, "dev not exist", rsp.Msg)

	rsp = e.do(t, http.MethodGet, "/api/device/?page=1&size=1", "")
	var list deviceList
	assert.Equal(t, nil, json.Unmarshal(rsp.Result, &list))
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, 1, len(list.List))

	rsp = e.do(t, http.MethodDelete, "/api/device/", `{"device":["`+testRtspDev+`"]}`)
	assert.Equal(t, 0, rsp.Code)
	_, ok := e.devMgr.FindDevice(testRtspDev)
	assert.Equal(t, false, ok)
	assert.Equal(t, 1, e.devMgr.Len())
}

func TestHttpApiDeviceAdd(t *testing.T) {
	e := newHttpTestEnv(t, false)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Equal(t, nil, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	body := fmt.Sprintf(`{"deviceId":"%s","name":"door","ipAddr":"127.0.0.1","port":%d,"url":"rtsp://127.0.0.1/live"}`, testNewDev, port)
	rsp := e.do(t, http.MethodPost, "/api/device/", body)
	assert.Equal(t, 0, rsp.Code)
	var dev devmgr.Device
	assert.Equal(t, nil, json.Unmarshal(rsp.Result, &dev))
	assert.Equal(t, testNewDev, dev.DeviceId)
	assert.Equal(t, devmgr.StatusOn, dev.Status)
	assert.Equal(t, devmgr.ProtocolRtspDev, dev.Protocol)
	assert.Equal(t, "rtsp://127.0.0.1/live", dev.Url)

	dev, ok := e.devMgr.FindDevice(testNewDev)
	assert.Equal(t, true, ok)
	assert.Equal(t, devmgr.StatusOn, dev.Status)

	rsp = e.do(t, http.MethodPost, "/api/device/", body)
	assert.Equal(t, 1, rsp.Code)
	assert.Equal(t, "dev already exist", rsp.Msg)

	rsp = e.do(t, http.MethodPost, "/api/device/", `{"deviceId":"34020000001320000011"}`)
	assert.Equal(t, "json error", rsp.Msg)
	assert.Equal(t, 3, e.devMgr.Len())
}

func TestHttpApiDeviceAddUnreachable(t *testing.T) {
	e := newHttpTestEnv(t, false)
	e.h.dial = func(network, address string, timeout time.Duration) (net.Conn, error) {
		assert.Equal(t, "10.0.0.8:554", address)
		return nil, errors.New("connection refused")
	}

	rsp := e.do(t, http.MethodPost, "/api/device/", `{"deviceId":"`+testNewDev+`","ipAddr":"10.0.0.8"}`)
	assert.Equal(t, 1, rsp.Code)
	assert.Equal(t, "dev connect failed", rsp.Msg)
	_, ok := e.devMgr.FindDevice(testNewDev)
	assert.Equal(t, false, ok)
}

func TestHttpApiDeviceCheckTimeout(t *testing.T) {
	e := newHttpTestEnv(t, false)

	// 第一次建连卡住直到超时之后才失败，之后的建连都成功
	var calls nazaatomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	e.h.dial = func(network, address string, timeout time.Duration) (net.Conn, error) {
		if calls.Increment() == 1 {
			started <- struct{}{}
			<-release
			return nil, errors.New("i/o timeout")
		}
		c1, c2 := net.Pipe()
		_ = c2.Close()
		return c1, nil
	}

	body := `{"deviceId":"` + testNewDev + `","ipAddr":"10.0.0.8","port":8554}`
	done := make(chan genRspRaw, 1)
	go func() {
		done <- e.do(t, http.MethodPost, "/api/device/", body)
	}()

	<-started
	for i := 0; i < devCheckTimeoutTick; i++ {
		e.timer.Sweep()
	}
	rsp := <-done
	assert.Equal(t, 1, rsp.Code)
	assert.Equal(t, "dev connect timeout", rsp.Msg)
	_, ok := e.devMgr.FindDevice(testNewDev)
	assert.Equal(t, false, ok)

	// 重新添加成功
	rsp = e.do(t, http.MethodPost, "/api/device/", body)
	assert.Equal(t, 0, rsp.Code)

	// 第一次建连的失败结果姗姗来迟，它所属的会话已经结束，不能影响新加入的设备
	before := e.h.Reactor().Stat().MsgCount
	close(release)
	deadline := time.Now().Add(3 * time.Second)
	for e.h.Reactor().Stat().MsgCount == before && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	dev, ok := e.devMgr.FindDevice(testNewDev)
	assert.Equal(t, true, ok)
	assert.Equal(t, devmgr.StatusOn, dev.Status)
}

func TestHttpApiNetMap(t *testing.T) {
	e := newHttpTestEnv(t, false)

	rsp := e.do(t, http.MethodPost, "/api/sys/netmap/", `{"fromIP":"192.168.1.100","toIP":"1.2.3.4"}`)
	assert.Equal(t, 0, rsp.Code)
	assert.Equal(t, "1.2.3.4", e.devMgr.GetMapIp("192.168.1.100"))

	rsp = e.do(t, http.MethodGet, "/api/sys/netmap/", "")
	assert.Equal(t, `{"192.168.1.100":"1.2.3.4"}`, string(rsp.Result))

	rsp = e.do(t, http.MethodPost, "/api/sys/netmap/", `{"fromIP":"192.168.1.100"}`)
	assert.Equal(t, "json error", rsp.Msg)

	rsp = e.do(t, http.MethodDelete, "/api/sys/netmap/", `{"fromIP":"192.168.1.100"}`)
	assert.Equal(t, 0, rsp.Code)
	assert.Equal(t, "", e.devMgr.GetMapIp("192.168.1.100"))
}

func TestHttpApiGbServerInfo(t *testing.T) {
	e := newHttpTestEnv(t, false)
	rsp := e.do(t, http.MethodGet, "/api/gb/server", "")
	var info gbServerInfo
	assert.Equal(t, nil, json.Unmarshal(rsp.Result, &info))
	assert.Equal(t, "34020000002000000001", info.Id)
	assert.Equal(t, 5060, info.Port)
	assert.Equal(t, "udp", info.Transport)
}

func TestHttpApiMetrics(t *testing.T) {
	e := newHttpTestEnv(t, false)
	resp, err := http.Get(e.ts.URL + "/metrics")
	assert.Equal(t, nil, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, true, strings.Contains(string(b), "lalgb_test_total 1"))
	assert.Equal(t, base.LalGbHttpApiServer, resp.Header.Get("Server"))
}

func TestHttpApiEvents(t *testing.T) {
	e := newHttpTestEnv(t, false)

	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + defaultWsEventPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Equal(t, nil, err)
	defer conn.Close()

	for i := 0; i < 100 && e.h.wsSubNum() == 0; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 1, e.h.wsSubNum())

	err = e.registry.PostMsg(base.Message{
		MsgId:   base.MsgDeviceEvent,
		DstType: base.ServiceHttpServer,
		DstId:   httpApiInstanceId,
		Any:     base.DeviceEvent{Kind: "device_off", DomainId: testDomain, DeviceId: testCamera},
	})
	assert.Equal(t, nil, err)

	// 没有挂起请求的点播应答作为状态变化推送，100 不推送
	for _, code := range []int{gb28181.InviteCodeTrying, gb28181.InviteCodeClientBye} {
		_ = e.registry.PostMsg(base.Message{
			MsgId:     base.MsgInviteCallRsp,
			DstType:   base.ServiceHttpServer,
			DstId:     httpApiInstanceId,
			SessionId: 77,
			IntVal:    code,
			StrVal:    "client bye",
		})
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	assert.Equal(t, nil, err)
	var ev base.DeviceEvent
	assert.Equal(t, nil, json.Unmarshal(b, &ev))
	assert.Equal(t, "device_off", ev.Kind)
	assert.Equal(t, testCamera, ev.DeviceId)

	_, b, err = conn.ReadMessage()
	assert.Equal(t, nil, err)
	var st inviteStateEvent
	assert.Equal(t, nil, json.Unmarshal(b, &st))
	assert.Equal(t, "invite_state", st.Kind)
	assert.Equal(t, 77, st.SessionId)
	assert.Equal(t, gb28181.InviteCodeClientBye, st.Code)
}
