// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package gb28181

import (
	"net"
	"sort"
	"time"

	"github.com/q191201771/lalgb/pkg/base"
	"github.com/q191201771/lalgb/pkg/devmgr"
	"github.com/q191201771/lalgb/pkg/sip"
)

// 没有 Expires 头时使用的注册有效期，单位秒
var defaultRegExpires = 3600

// nonceLifetime 未注册的下级域必须在这个时间内用挑战中的 nonce 完成认证
var nonceLifetime = 5 * time.Minute

// maxPendingNonce 超过后清理过期的 nonce
var maxPendingNonce = 1024

// regNonce 认证挑战下发的 nonce，按下级域绑定。注册成功后刷新注册可以继续使用，直到下级域下线或者重新挑战
type regNonce struct {
	nonce  string
	issued time.Time
}

func (s *Server) onRegister(msg *sip.Message, t ITransport, addr *net.UDPAddr) {
	contact := msg.Contact()
	domainId := sip.IdOf(contact)
	if domainId == "" {
		domainId = sip.IdOf(msg.From())
	}
	if domainId == "" {
		Log.Warnf("[%s] register without domain id. raddr=%s", s.uniqueKey, addr)
		s.reply(msg, t, addr, 400, true)
		return
	}

	authV := msg.Header.Get(sip.HeaderAuthorization)
	if authV == "" {
		s.challenge(msg, t, addr, domainId)
		return
	}
	auth, ok := sip.ParseAuthorization(authV)
	if ok && !s.checkNonce(domainId, auth.Nonce) {
		Log.Warnf("[%s] register nonce not issued or expired, challenge again. domain=%s, raddr=%s", s.uniqueKey, domainId, addr)
		s.challenge(msg, t, addr, domainId)
		return
	}
	if !ok || !auth.Valid(sip.MethodRegister.String(), s.config.ServerPass) {
		Log.Warnf("[%s] register auth failed. domain=%s, raddr=%s", s.uniqueKey, domainId, addr)
		s.reply(msg, t, addr, 403, true)
		return
	}

	expires := msg.Expires()
	if expires < 0 {
		expires = defaultRegExpires
	}

	b := sip.NewResponse(msg, 200, "").
		SetToTag(sip.GenRandStr(16)).
		SetContact(contact).
		SetExpires(expires).
		SetDate(base.GbTimeStr(time.Now()))
	s.sendResponse(b, t, addr)

	ip, port := s.resolveContact(contact, t, addr)

	d, exist := s.domains[domainId]
	if expires <= 0 {
		if exist {
			Log.Infof("[%s] domain unregister. domain=%s", s.uniqueKey, domainId)
			s.clearDomain(d)
			delete(s.domains, domainId)
			s.postDeviceEvent("domain_offline", domainId, "")
			s.updateSessionMetrics()
		}
		return
	}

	if exist {
		s.r.DelTimer(d.regTimerId)
		d.contactIp = ip
		d.contactPort = port
		d.transport = t
		d.regTime = time.Now()
		s.addRegTimer(d, expires)
		Log.Infof("[%s] domain refresh register. domain=%s, contact=%s:%d, transport=%s, expires=%d",
			s.uniqueKey, domainId, ip, port, t, expires)
	} else {
		d = &domain{
			id:          domainId,
			contactIp:   ip,
			contactPort: port,
			transport:   t,
			regTime:     time.Now(),
			devices:     make(map[string]bool),
		}
		for _, dev := range s.devReg.GetDomainDevice(domainId) {
			d.devices[dev.DeviceId] = true
		}
		s.addRegTimer(d, expires)
		s.domains[domainId] = d
		Log.Infof("[%s] domain register. domain=%s, contact=%s:%d, transport=%s, expires=%d, devNum=%d",
			s.uniqueKey, domainId, ip, port, t, expires, len(d.devices))
		s.postDeviceEvent("domain_online", domainId, "")
		s.updateSessionMetrics()
	}

	s.r.AddTimer(catalogDelayTick, base.Message{MsgId: base.MsgInitCatalog, StrVal: domainId}, false)
}

// challenge 回 401，给下级域下发新的 nonce
func (s *Server) challenge(msg *sip.Message, t ITransport, addr *net.UDPAddr, domainId string) {
	if len(s.nonces) >= maxPendingNonce {
		s.pruneNonce()
	}
	nonce := sip.GenRandStr(16)
	s.nonces[domainId] = regNonce{nonce: nonce, issued: time.Now()}

	b := sip.NewResponse(msg, 401, "").
		SetToTag(sip.GenRandStr(16)).
		SetWwwAuthenticate(sip.BuildWwwAuthenticate(s.config.ServerId, nonce))
	s.sendResponse(b, t, addr)
}

func (s *Server) checkNonce(domainId string, nonce string) bool {
	n, ok := s.nonces[domainId]
	if !ok || n.nonce != nonce {
		return false
	}
	if _, registered := s.domains[domainId]; registered {
		return true
	}
	return time.Since(n.issued) <= nonceLifetime
}

// pruneNonce 删除没有完成注册并且已经过期的 nonce
func (s *Server) pruneNonce() {
	for id, n := range s.nonces {
		if _, registered := s.domains[id]; registered {
			continue
		}
		if time.Since(n.issued) > nonceLifetime {
			delete(s.nonces, id)
		}
	}
}

func (s *Server) addRegTimer(d *domain, expires int) {
	d.regGen = s.timerGen.next(nil)
	d.regTimerId = s.r.AddTimer(expires+base.GbRegExpireGraceTick,
		base.Message{MsgId: base.MsgRegTimeout, StrVal: d.id, IntVal: d.regGen}, false)
}

// resolveContact 得到后续向下级域发请求使用的地址
//
// udp 下 Contact 端口为0或者配置了 use_raddr 时使用收包地址，之后再按 NAT 映射表替换 ip
//
func (s *Server) resolveContact(contact string, t ITransport, addr *net.UDPAddr) (string, int) {
	ip, port := sip.HostPortOf(contact)
	var fromIp string
	var fromPort int
	if addr != nil {
		fromIp = addr.IP.String()
		fromPort = addr.Port
	}

	if !t.IsTcp() && addr != nil && (port == 0 || s.config.UseRAddr) {
		ip, port = fromIp, fromPort
	}

	if mapIp := s.devReg.GetMapIp(ip); mapIp != "" {
		ip = mapIp
		if fromPort != 0 {
			port = fromPort
		}
	}
	return ip, port
}

func (s *Server) onRegTimeout(msg base.Message) {
	d, ok := s.domains[msg.StrVal]
	if !ok {
		return
	}
	// 定时器到期和刷新注册在同一轮循环中时，超时消息排在后面
	if msg.IntVal != d.regGen {
		Log.Debugf("[%s] stale register timeout, drop it. domain=%s, gen=%d, current=%d", s.uniqueKey, d.id, msg.IntVal, d.regGen)
		return
	}
	Log.Warnf("[%s] domain register expired. domain=%s, regTime=%s", s.uniqueKey, d.id, d.regTime.Format(time.RFC3339))
	s.metrics.incTimeout("register")
	// 定时器已经触发，不需要再删除
	d.regTimerId = 0
	s.clearDomain(d)
	delete(s.domains, d.id)
	s.postDeviceEvent("domain_offline", d.id, "")
	s.updateSessionMetrics()
}

// onTransportClose tcp 连接断开，绑定在它上面的下级域全部下线
func (s *Server) onTransportClose(id int) {
	for domainId, d := range s.domains {
		if !d.transport.IsTcp() || d.transport.Id() != id {
			continue
		}
		Log.Infof("[%s] domain transport closed. domain=%s, fd=%d", s.uniqueKey, domainId, id)
		s.clearDomain(d)
		delete(s.domains, domainId)
		s.postDeviceEvent("domain_offline", domainId, "")
	}
	s.updateSessionMetrics()
}

// clearDomain 下级域下线，释放和它相关的所有会话，调用方负责从 domains 中删除
func (s *Server) clearDomain(d *domain) {
	s.r.DelTimer(d.regTimerId)
	d.regTimerId = 0
	delete(s.nonces, d.id)

	for id := range d.devices {
		s.devReg.SetStatus(id, devmgr.StatusOff)
	}

	for callId, sess := range s.inviteSessions {
		if sess.domainId != d.id {
			continue
		}
		s.sendBye(sess, d)
		s.r.DelTimer(sess.timerId)
		s.postInviteRsp(sess, InviteCodeDomainCleared, "domain unregistered")
		delete(s.inviteSessions, callId)
	}

	for sn, sess := range s.catalogSessions {
		if sess.domainId != d.id {
			continue
		}
		s.r.DelTimer(sess.timerId)
		delete(s.catalogSessions, sn)
	}

	for _, m := range []map[int]*querySession{s.recordSessions, s.presetSessions} {
		for sn, sess := range m {
			if sess.domainId != d.id {
				continue
			}
			s.r.DelTimer(sess.timerId)
			s.replyGen(sess.srcType, sess.srcId, sess.sessionId, sess.kind, genRsp{Code: 1, Msg: "domain unregistered"})
			delete(m, sn)
		}
	}

	for id, task := range s.ptzTasks {
		if task.domainId == d.id {
			delete(s.ptzTasks, id)
		}
	}
}

// ----- 查询 -----------------------------------------------------------------------------------------------------------

type registDomainItem struct {
	Id     string `json:"id"`
	DevNum int    `json:"devNum"`
	Ip     string `json:"ip"`
	Port   int    `json:"port"`
}

func (s *Server) getRegistDomain(msg base.Message) {
	items := make([]registDomainItem, 0, len(s.domains))
	for _, d := range s.domains {
		items = append(items, registDomainItem{
			Id:     d.id,
			DevNum: len(d.devices),
			Ip:     d.contactIp,
			Port:   d.contactPort,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Id < items[j].Id
	})
	s.replyGenTo(msg, genRsp{Code: 0, Msg: "success", Result: items})
}
