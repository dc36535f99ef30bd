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
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/q191201771/lalgb/pkg/base"
	"github.com/q191201771/lalgb/pkg/devmgr"
	"github.com/q191201771/lalgb/pkg/gb28181"
	"github.com/q191201771/lalgb/pkg/reactor"
	"github.com/q191201771/naza/pkg/nazaatomic"
	"github.com/q191201771/naza/pkg/taskpool"
)

// IHttpDeviceStore HTTP API 用到的设备管理能力
type IHttpDeviceStore interface {
	devmgr.IDeviceRegistry
	GetAllDevice(page, size int) (total int, out []devmgr.Device)
	NetMap() map[string]string
}

// HttpApiServer
//
// 本身是总线上的一个 reactor（ServiceHttpServer），HTTP 请求在 net/http 的 goroutine 中被转成总线消息，
// 以 session id 为key挂起，等信令服务的 MsgGenHttpRsp 或 MsgInviteCallRsp 回来后再应答。
// 没有挂起请求认领的点播状态变化和设备事件，推送给 websocket 订阅者。
type HttpApiServer struct {
	uniqueKey   string
	config      HttpApiConfig
	gbConfig    gb28181.ServerConfig
	r           *reactor.Reactor
	devStore    IHttpDeviceStore
	gatherer    prometheus.Gatherer
	metricsPath string

	ln  net.Listener
	srv *http.Server

	seq     nazaatomic.Uint32
	mutex   sync.Mutex
	pending map[int]chan base.Message

	upgrader websocket.Upgrader
	wsMutex  sync.Mutex
	wsSubs   map[*wsSubSession]struct{}

	// 自定义设备连通性检查，devChecks 只在 reactor goroutine 中访问
	checkPool taskpool.Pool
	devChecks map[int]*devCheckSession
	dial      func(network, address string, timeout time.Duration) (net.Conn, error)
}

// NewHttpApiServer
//
// @param gatherer 为nil时不提供指标接口
func NewHttpApiServer(config HttpApiConfig, gbConfig gb28181.ServerConfig, registry *reactor.Registry, timer *reactor.TimerService,
	devStore IHttpDeviceStore, gatherer prometheus.Gatherer, metricsPath string) *HttpApiServer {

	uk := base.GenUkHttpApiServer()
	h := &HttpApiServer{
		uniqueKey:   uk,
		config:      config,
		gbConfig:    gbConfig,
		devStore:    devStore,
		gatherer:    gatherer,
		metricsPath: metricsPath,
		pending:     make(map[int]chan base.Message),
		wsSubs:      make(map[*wsSubSession]struct{}),
		devChecks:   make(map[int]*devCheckSession),
		dial:        net.DialTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	pool, err := taskpool.NewPool(func(option *taskpool.Option) {
		option.MaxWorkerNum = devCheckWorkerNum
	})
	if err != nil {
		Log.Errorf("[%s] new device check task pool failed, fallback to unbounded pool. err=%+v", uk, err)
		pool, _ = taskpool.NewPool()
	}
	h.checkPool = pool
	h.r = reactor.NewReactor(base.ServiceHttpServer, httpApiInstanceId, h, registry, timer)
	Log.Infof("[%s] lifecycle new http api server. addr=%s", uk, config.Addr)
	return h
}

func (h *HttpApiServer) Listen() (err error) {
	if h.ln, err = net.Listen("tcp", h.config.Addr); err != nil {
		return
	}
	h.srv = &http.Server{Handler: h.Handler()}
	Log.Infof("[%s] start http api server listen. addr=%s", h.uniqueKey, h.ln.Addr())
	return h.r.Start()
}

// RunLoop 阻塞直到 Dispose
func (h *HttpApiServer) RunLoop() error {
	go h.r.Wait()

	err := h.srv.Serve(h.ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (h *HttpApiServer) Dispose() {
	Log.Infof("[%s] lifecycle dispose http api server.", h.uniqueKey)
	if h.srv != nil {
		_ = h.srv.Close()
	}
	h.r.Exit()

	h.wsMutex.Lock()
	for sub := range h.wsSubs {
		sub.dispose()
	}
	h.wsSubs = make(map[*wsSubSession]struct{})
	h.wsMutex.Unlock()
}

func (h *HttpApiServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.commonHeader)
	r.Use(h.accessLog)

	r.Route("/api/gb", func(r chi.Router) {
		r.Get("/server", h.gbServerHandler)
		r.Post("/catalog", h.initCatalogHandler)
		r.Get("/domain", h.registDomainHandler)
		r.Post("/record", h.queryRecordHandler)
		r.Post("/invite", h.inviteHandler)
		r.Post("/invite/stop", h.stopInviteHandler)
	})
	r.Route("/api/device", func(r chi.Router) {
		r.Get("/", h.deviceListHandler)
		r.Post("/", h.deviceAddHandler)
		r.Delete("/", h.deviceDelHandler)
		r.Post("/preset", h.queryPresetHandler)
		r.Post("/ptz", h.ptzControlHandler)
	})
	r.Route("/api/sys/netmap", func(r chi.Router) {
		r.Get("/", h.netMapGetHandler)
		r.Post("/", h.netMapAddHandler)
		r.Delete("/", h.netMapDelHandler)
	})
	r.Get(h.config.WsEventPath, h.wsEventHandler)

	if h.gatherer != nil && h.metricsPath != "" {
		r.Handle(h.metricsPath, promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *HttpApiServer) Reactor() *reactor.Reactor {
	return h.r
}

// HandleMsg implement reactor.IMsgHandler
func (h *HttpApiServer) HandleMsg(msg base.Message) {
	switch msg.MsgId {
	case base.MsgGenHttpRsp, base.MsgInviteCallRsp:
		if h.resolve(msg) {
			return
		}
		if msg.MsgId == base.MsgInviteCallRsp {
			h.broadcastInviteState(msg)
			return
		}
		Log.Warnf("[%s] reply without pending request, drop it. %s", h.uniqueKey, msg)
	case base.MsgDeviceEvent:
		ev, ok := msg.Any.(base.DeviceEvent)
		if !ok {
			Log.Errorf("[%s] device event without payload. %s", h.uniqueKey, msg)
			return
		}
		h.broadcast(ev)
	case base.MsgProbe:
		h.onDevCheck(msg)
	case base.MsgProbeFinish:
		h.onDevCheckFinish(msg)
	case base.MsgProbeTimeout:
		h.onDevCheckTimeout(msg)
	default:
		Log.Warnf("[%s] unknown msg. %s", h.uniqueKey, msg)
	}
}

// ----- 挂起与应答 -----------------------------------------------------------------------------------------------------

// call 投递请求并等待应答，msg 没有指定 DstType 时投递给信令服务，onRsp 返回false时继续等待
func (h *HttpApiServer) call(w http.ResponseWriter, req *http.Request, msg base.Message, onRsp func(rsp base.Message) bool) {
	sessionId := int(h.seq.Increment())
	ch := make(chan base.Message, 4)

	h.mutex.Lock()
	h.pending[sessionId] = ch
	h.mutex.Unlock()
	defer func() {
		h.mutex.Lock()
		delete(h.pending, sessionId)
		h.mutex.Unlock()
	}()

	msg.SessionId = sessionId
	if msg.DstType == 0 {
		msg.DstType = base.ServiceGbServer
		msg.DstId = gbServerInstanceId
	}
	if err := h.r.PostMsg(msg); err != nil {
		Log.Errorf("[%s] post msg failed. %s, err=%+v", h.uniqueKey, msg, err)
		feedback(w, genRsp{Code: 1, Msg: "gb server not available"})
		return
	}

	timer := time.NewTimer(time.Duration(h.config.ReplyTimeoutMs) * time.Millisecond)
	defer timer.Stop()
	for {
		select {
		case rsp := <-ch:
			if onRsp(rsp) {
				return
			}
		case <-timer.C:
			Log.Warnf("[%s] wait reply timeout. %s, err=%+v", h.uniqueKey, msg, base.ErrHttpReplyTimout)
			feedback(w, genRsp{Code: 1, Msg: "timeout"})
			return
		case <-req.Context().Done():
			Log.Debugf("[%s] http request canceled. %s", h.uniqueKey, msg)
			return
		}
	}
}

// resolve 在 reactor goroutine 中调用，点播的 100 Trying 不结束挂起
func (h *HttpApiServer) resolve(msg base.Message) bool {
	h.mutex.Lock()
	ch, ok := h.pending[msg.SessionId]
	if ok && !(msg.MsgId == base.MsgInviteCallRsp && msg.IntVal == gb28181.InviteCodeTrying) {
		delete(h.pending, msg.SessionId)
	}
	h.mutex.Unlock()
	if !ok {
		return false
	}

	select {
	case ch <- msg:
	default:
		Log.Warnf("[%s] pending chan full, drop reply. %s", h.uniqueKey, msg)
	}
	return true
}

// ---------------------------------------------------------------------------------------------------------------------

type genRsp struct {
	Code   int         `json:"code"`
	Msg    string      `json:"msg"`
	Result interface{} `json:"result,omitempty"`
}

func feedback(w http.ResponseWriter, v interface{}) {
	resp, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}

func feedbackRaw(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func (h *HttpApiServer) commonHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", base.LalGbHttpApiServer)
		if h.config.CorsOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", h.config.CorsOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *HttpApiServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		Log.Debugf("[%s] http api. method=%s, path=%s, raddr=%s, status=%d, cost=%dms",
			h.uniqueKey, r.Method, r.URL.Path, r.RemoteAddr, ww.Status(), time.Since(start).Milliseconds())
	})
}
