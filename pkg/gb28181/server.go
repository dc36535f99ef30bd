// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package gb28181

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/q191201771/lalgb/pkg/base"
	"github.com/q191201771/lalgb/pkg/devmgr"
	"github.com/q191201771/lalgb/pkg/reactor"
	"github.com/q191201771/lalgb/pkg/sip"
	"github.com/q191201771/naza/pkg/taskpool"
)

type Option struct {
	// EventDstType EventDstId 设备、下级域状态变化通知 MsgDeviceEvent 的接收方，EventDstType 为0时不通知
	EventDstType base.ServiceType
	EventDstId   int

	// Registerer 为nil时不做统计
	Registerer prometheus.Registerer
}

var defaultOption = Option{}

type ModOption func(option *Option)

// domain 一个已注册的下级域
type domain struct {
	id          string
	contactIp   string
	contactPort int
	transport   ITransport
	regTimerId  int
	regTime     time.Time

	// regGen 写进注册超时消息的 IntVal，刷新注册后旧定时器投递过来的消息和它对不上
	regGen int

	// 域下设备，值为本轮目录同步中是否上报过
	devices map[string]bool
}

type catalogSession struct {
	sn       int
	domainId string
	sum      int
	recvd    int
	timerId  int
}

// querySession 录像、预置位查询，结果以 MsgGenHttpRsp 回给发起方
type querySession struct {
	sn        int
	kind      base.MsgKind
	domainId  string
	deviceId  string
	srcType   base.ServiceType
	srcId     int
	sessionId int
	timerId   int
	sum       int

	records []RecordItem
	presets []PresetItem
}

type inviteSession struct {
	callId    string
	deviceId  string
	domainId  string
	dstIp     string
	dstPort   int
	srcType   base.ServiceType
	srcId     int
	sessionId int
	timerId   int
	timerGen  int

	// rsp 设备的最终应答，BYE 的 From/To 取自它
	rsp         *sip.Message
	established bool
}

type ptzTask struct {
	id       int
	deviceId string
	domainId string
}

// snAllocator 自增，回绕到1，跳过仍在使用中的值
type snAllocator struct {
	last int
}

func (a *snAllocator) next(inUse func(int) bool) int {
	for {
		a.last++
		if a.last <= 0 || a.last >= math.MaxInt32 {
			a.last = 1
		}
		if inUse == nil || !inUse(a.last) {
			return a.last
		}
	}
}

// ---------------------------------------------------------------------------------------------------------------------

type Server struct {
	uniqueKey string
	option    Option
	config    ServerConfig
	r         *reactor.Reactor
	devReg    devmgr.IDeviceRegistry
	ptzPool   taskpool.Pool
	metrics   *Metrics

	// ptzWorkerNum 任务池的协程上限
	ptzWorkerNum int

	udp      *udpTransport
	listener *reactor.Event

	domains         map[string]*domain
	catalogSessions map[int]*catalogSession
	recordSessions  map[int]*querySession
	presetSessions  map[int]*querySession
	inviteSessions  map[string]*inviteSession
	ptzTasks        map[int]*ptzTask
	nonces          map[string]regNonce

	catalogSn snAllocator
	recordSn  snAllocator
	presetSn  snAllocator
	ptzSn     snAllocator
	ptzTaskId snAllocator
	cseq      snAllocator

	// timerGen 区分同一个会话先后挂上的超时定时器
	timerGen snAllocator
}

// NewServer
//
// @param registry 总线，Server 以 (ServiceGbServer, id) 注册在上面
//
// @param timer 超时相关的定时器都挂在它上面
//
// @param devReg 设备注册表，目录同步、点播、云台都依赖它
//
func NewServer(id int, config ServerConfig, registry *reactor.Registry, timer *reactor.TimerService,
	devReg devmgr.IDeviceRegistry, modOption ...ModOption) *Server {

	option := defaultOption
	for _, fn := range modOption {
		fn(&option)
	}

	uk := base.GenUkGbServer()
	s := &Server{
		uniqueKey:       uk,
		option:          option,
		config:          config,
		devReg:          devReg,
		domains:         make(map[string]*domain),
		catalogSessions: make(map[int]*catalogSession),
		recordSessions:  make(map[int]*querySession),
		presetSessions:  make(map[int]*querySession),
		inviteSessions:  make(map[string]*inviteSession),
		ptzTasks:        make(map[int]*ptzTask),
		nonces:          make(map[string]regNonce),
	}
	s.r = reactor.NewReactor(base.ServiceGbServer, id, s, registry, timer)
	if option.Registerer != nil {
		s.metrics = NewMetrics(option.Registerer)
	}

	workerNum := config.PtzWorkerNum
	if workerNum <= 0 {
		workerNum = defaultPtzWorkerNum
	}
	pool, err := taskpool.NewPool(func(option *taskpool.Option) {
		option.InitWorkerNum = workerNum
		option.MaxWorkerNum = workerNum
	})
	if err != nil {
		// 只有参数非法时才会失败，退回到不限制协程数量
		Log.Errorf("[%s] new ptz task pool failed, fallback to unbounded pool. workerNum=%d, err=%+v", uk, workerNum, err)
		pool, _ = taskpool.NewPool()
	}
	s.ptzPool = pool
	s.ptzWorkerNum = workerNum

	Log.Infof("[%s] lifecycle new gb28181 server. id=%d, serverId=%s, port=%d", uk, id, config.ServerId, config.ServerPort)
	return s
}

// Listen 绑定 udp 和 tcp 的信令端口并注册到总线
//
// 任意一个监听失败只影响它自己，两个都失败时返回错误
//
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.LocalBindIp, s.config.ServerPort)

	var udpErr, tcpErr error
	if conn, err := reactor.ListenUdp(addr); err != nil {
		udpErr = err
	} else {
		h := &udpHandler{s: s}
		ev, err := reactor.NewPacketEvent(conn, h)
		if err == nil {
			h.t = &udpTransport{ev: ev}
			err = s.r.AddEvent(ev)
		}
		if err != nil {
			_ = conn.Close()
			udpErr = err
		} else {
			s.udp = h.t
		}
	}
	if udpErr != nil {
		Log.Errorf("[%s] listen udp failed. addr=%s, err=%+v", s.uniqueKey, addr, udpErr)
	}

	if ln, err := reactor.ListenTcp(addr); err != nil {
		tcpErr = err
	} else {
		ev, err := reactor.NewListenerEvent(ln, &listenerHandler{s: s})
		if err == nil {
			err = s.r.AddEvent(ev)
		}
		if err != nil {
			_ = ln.Close()
			tcpErr = err
		} else {
			s.listener = ev
		}
	}
	if tcpErr != nil {
		Log.Errorf("[%s] listen tcp failed. addr=%s, err=%+v", s.uniqueKey, addr, tcpErr)
	}

	if udpErr != nil && tcpErr != nil {
		return fmt.Errorf("%w. addr=%s, udp=%v, tcp=%v", base.ErrListen, addr, udpErr, tcpErr)
	}
	Log.Infof("[%s] start gb28181 listen. addr=%s, udp=%t, tcp=%t", s.uniqueKey, addr, udpErr == nil, tcpErr == nil)
	return s.r.Start()
}

// RunLoop 阻塞直到 Dispose
func (s *Server) RunLoop() error {
	s.r.Wait()
	return nil
}

func (s *Server) Dispose() {
	Log.Infof("[%s] lifecycle dispose gb28181 server.", s.uniqueKey)
	s.r.Exit()
}

func (s *Server) UniqueKey() string {
	return s.uniqueKey
}

func (s *Server) Reactor() *reactor.Reactor {
	return s.r
}

// HandleMsg implement reactor.IMsgHandler
func (s *Server) HandleMsg(msg base.Message) {
	switch msg.MsgId {
	case base.MsgRegTimeout:
		s.onRegTimeout(msg)
	case base.MsgInitCatalog:
		s.initCatalog(msg.StrVal)
	case base.MsgHttpInitCatalog:
		s.httpInitCatalog()
	case base.MsgCatalogTimeout:
		s.onCatalogTimeout(msg)
	case base.MsgInitRecord:
		s.initRecordInfo(msg)
	case base.MsgRecordTimeout:
		s.onRecordTimeout(msg)
	case base.MsgQueryPreset:
		s.queryPreset(msg)
	case base.MsgQueryPresetTimeout:
		s.onPresetTimeout(msg)
	case base.MsgInitInvite:
		s.initInvite(msg)
	case base.MsgInviteTimeout:
		s.onInviteTimeout(msg)
	case base.MsgStopInviteCall:
		s.stopInviteCall(msg)
	case base.MsgPtzControl:
		s.ptzControl(msg)
	case base.MsgPtzStop:
		s.onPtzStop(msg)
	case base.MsgGetRegistDomain:
		s.getRegistDomain(msg)
	case base.MsgGbServerHandlerClose:
		s.onTransportClose(msg.IntVal)
	default:
		Log.Warnf("[%s] unknown msg. %s", s.uniqueKey, msg)
	}
}

// ----- 收包 -----------------------------------------------------------------------------------------------------------

func (s *Server) onSipData(raw []byte, t ITransport, addr *net.UDPAddr) {
	msg, err := sip.Parse(raw)
	if err != nil {
		s.metrics.incDropped()
		Log.Warnf("[%s] parse sip failed, drop it. transport=%s, raddr=%s, err=%+v", s.uniqueKey, t, addr, err)
		return
	}

	if msg.IsResponse() {
		s.metrics.incIn(msg.CSeq().Method.String())
		s.onResponse(msg, t, addr)
		return
	}

	s.metrics.incIn(msg.Method.String())
	if !t.IsTcp() && addr != nil {
		if via := msg.Via(); via != "" {
			msg.Header.SetFirst(sip.HeaderVia, sip.RewriteViaReceived(via, addr.IP.String(), addr.Port))
		}
	}

	switch msg.Method {
	case sip.MethodRegister:
		s.onRegister(msg, t, addr)
	case sip.MethodMessage:
		s.onMessage(msg, t, addr)
	case sip.MethodNotify:
		s.onNotify(msg, t, addr)
	case sip.MethodBye:
		s.onBye(msg, t, addr)
	case sip.MethodAck:
		Log.Debugf("[%s] recv ack. callId=%s", s.uniqueKey, msg.CallId())
	case sip.MethodInvite, sip.MethodCancel:
		s.reply(msg, t, addr, 501, true)
	default:
		Log.Warnf("[%s] unsupported sip method. method=%s, raddr=%s", s.uniqueKey, msg.MethodStr, addr)
		s.reply(msg, t, addr, 501, true)
	}
}

func (s *Server) onResponse(msg *sip.Message, t ITransport, addr *net.UDPAddr) {
	if msg.StatusCode < 200 {
		return
	}
	cseq := msg.CSeq()
	if cseq.Method == sip.MethodInvite {
		s.onInviteRsp(msg, t, addr)
		return
	}
	if msg.StatusCode >= 300 {
		Log.Warnf("[%s] recv failed response. cseq=%s, code=%d, reason=%s, callId=%s",
			s.uniqueKey, cseq.MethodStr, msg.StatusCode, msg.Reason, msg.CallId())
	}
}

// ----- 发包 -----------------------------------------------------------------------------------------------------------

func (s *Server) reply(req *sip.Message, t ITransport, addr *net.UDPAddr, code int, withToTag bool) {
	b := sip.NewResponse(req, code, "")
	if withToTag {
		b.SetToTag(sip.GenRandStr(16))
	}
	s.sendResponse(b, t, addr)
}

func (s *Server) sendResponse(b *sip.Builder, t ITransport, addr *net.UDPAddr) {
	raw, err := b.Build()
	if err != nil {
		Log.Errorf("[%s] build sip response failed. err=%+v", s.uniqueKey, err)
		return
	}
	if err := t.Send(raw, addr); err != nil {
		Log.Warnf("[%s] send sip response failed. transport=%s, raddr=%s, err=%+v", s.uniqueKey, t, addr, err)
		return
	}
	s.metrics.incOut("response")
}

// sendRequest 发往下级域，tcp 时走注册时的连接
func (s *Server) sendRequest(b *sip.Builder, method sip.Method, d *domain, ip string, port int) error {
	raw, err := b.Build()
	if err != nil {
		Log.Errorf("[%s] build sip request failed. method=%s, err=%+v", s.uniqueKey, method, err)
		return err
	}
	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	if err := d.transport.Send(raw, addr); err != nil {
		Log.Warnf("[%s] send sip request failed. method=%s, domain=%s, transport=%s, err=%+v",
			s.uniqueKey, method, d.id, d.transport, err)
		return err
	}
	s.metrics.incOut(method.String())
	return nil
}

// newRequest 填好 Via、From、To、Call-ID、CSeq、Contact
func (s *Server) newRequest(method sip.Method, d *domain, targetId string, ip string, port int, callId string) *sip.Builder {
	uri := sip.BuildUri(targetId, ip, port)
	if callId == "" {
		callId = sip.GenRandStr(16)
	}
	return sip.NewRequest(method, uri).
		AddVia(sip.BuildVia(s.viaTransport(d), s.sipIp(), s.config.ServerPort)).
		SetFrom(sip.BuildFrom(s.localUri())).
		SetTo("<"+uri+">").
		SetCallId(callId).
		SetCSeq(s.nextCSeq(), method).
		SetContact(s.localAddr())
}

// sendManscdp 向下级域发送 MESSAGE
func (s *Server) sendManscdp(d *domain, targetId string, body []byte) error {
	b := s.newRequest(sip.MethodMessage, d, targetId, d.contactIp, d.contactPort, "").
		SetBody(sip.ContentTypeManscdp, body)
	return s.sendRequest(b, sip.MethodMessage, d, d.contactIp, d.contactPort)
}

func (s *Server) viaTransport(d *domain) string {
	if d.transport.IsTcp() {
		return "TCP"
	}
	return "UDP"
}

func (s *Server) localUri() string {
	return sip.BuildUri(s.config.ServerId, s.sipIp(), s.config.ServerPort)
}

func (s *Server) localAddr() string {
	return sip.BuildAddr(s.config.ServerId, s.sipIp(), s.config.ServerPort)
}

// sipIp 写进 Via、Contact 的地址，监听在任意地址上时使用 rtp_ip
func (s *Server) sipIp() string {
	if s.config.LocalBindIp == "" || s.config.LocalBindIp == "0.0.0.0" {
		if s.config.RtpIp != "" {
			return s.config.RtpIp
		}
	}
	return s.config.LocalBindIp
}

func (s *Server) nextCSeq() int {
	return s.cseq.next(nil)
}

// ----- 总线应答 -------------------------------------------------------------------------------------------------------

type genRsp struct {
	Code   int         `json:"code"`
	Msg    string      `json:"msg"`
	Result interface{} `json:"result,omitempty"`
}

// replyGen 以 MsgGenHttpRsp 回给请求方，IntVal 为原请求的消息类型
func (s *Server) replyGen(dstType base.ServiceType, dstId int, sessionId int, kind base.MsgKind, rsp genRsp) {
	body, err := json.Marshal(rsp)
	if err != nil {
		Log.Errorf("[%s] marshal reply failed. err=%+v", s.uniqueKey, err)
		return
	}
	s.post(base.Message{
		MsgId:     base.MsgGenHttpRsp,
		DstType:   dstType,
		DstId:     dstId,
		SessionId: sessionId,
		IntVal:    int(kind),
		StrVal:    string(body),
	})
}

func (s *Server) replyGenTo(req base.Message, rsp genRsp) {
	s.replyGen(req.SrcType, req.SrcId, req.SessionId, req.MsgId, rsp)
}

func (s *Server) postInviteRsp(sess *inviteSession, code int, str string) {
	s.post(base.Message{
		MsgId:     base.MsgInviteCallRsp,
		DstType:   sess.srcType,
		DstId:     sess.srcId,
		SessionId: sess.sessionId,
		IntVal:    code,
		StrVal:    str,
	})
}

func (s *Server) postDeviceEvent(kind string, domainId string, deviceId string) {
	if s.option.EventDstType == 0 {
		return
	}
	s.post(base.Message{
		MsgId:   base.MsgDeviceEvent,
		DstType: s.option.EventDstType,
		DstId:   s.option.EventDstId,
		Any: base.DeviceEvent{
			Kind:     kind,
			DomainId: domainId,
			DeviceId: deviceId,
			Time:     base.ReadableNowTime(),
		},
	})
}

func (s *Server) post(msg base.Message) {
	if err := s.r.PostMsg(msg); err != nil {
		Log.Warnf("[%s] post msg failed. %s, err=%+v", s.uniqueKey, msg, err)
	}
}

func (s *Server) updateSessionMetrics() {
	s.metrics.setDomains(len(s.domains))
	s.metrics.setSessions(sessionKindCatalog, len(s.catalogSessions))
	s.metrics.setSessions(sessionKindRecord, len(s.recordSessions))
	s.metrics.setSessions(sessionKindPreset, len(s.presetSessions))
	s.metrics.setSessions(sessionKindInvite, len(s.inviteSessions))
}
