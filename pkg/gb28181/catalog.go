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

	"github.com/q191201771/lalgb/pkg/base"
	"github.com/q191201771/lalgb/pkg/devmgr"
)

// initCatalog 向下级域发起一轮目录同步
//
// 同步开始时把域下设备都标记为未上报，同步完成时删除仍未上报的设备。
// 一个域同时只有一轮同步，新一轮开始时结束还在进行中的那一轮，旧 SN 的分页之后按会话不存在丢弃
//
func (s *Server) initCatalog(domainId string) {
	d, ok := s.domains[domainId]
	if !ok {
		Log.Warnf("[%s] init catalog but domain not exist. domain=%s", s.uniqueKey, domainId)
		return
	}

	for sn, sess := range s.catalogSessions {
		if sess.domainId != d.id {
			continue
		}
		Log.Infof("[%s] catalog superseded. domain=%s, sn=%d, sum=%d, recvd=%d", s.uniqueKey, d.id, sn, sess.sum, sess.recvd)
		s.r.DelTimer(sess.timerId)
		delete(s.catalogSessions, sn)
	}

	for id := range d.devices {
		d.devices[id] = false
	}

	sn := s.catalogSn.next(func(sn int) bool {
		_, exist := s.catalogSessions[sn]
		return exist
	})
	if err := s.sendManscdp(d, d.id, packCatalogQuery(sn, d.id)); err != nil {
		return
	}

	sess := &catalogSession{
		sn:       sn,
		domainId: d.id,
	}
	sess.timerId = s.r.AddTimer(base.GbCatalogTimeoutTick, base.Message{MsgId: base.MsgCatalogTimeout, SessionId: sn}, false)
	s.catalogSessions[sn] = sess
	s.updateSessionMetrics()
	Log.Infof("[%s] init catalog. domain=%s, sn=%d", s.uniqueKey, d.id, sn)
}

func (s *Server) httpInitCatalog() {
	for id := range s.domains {
		s.initCatalog(id)
	}
}

func (s *Server) onCatalogResponse(m *Manscdp) {
	sess, ok := s.catalogSessions[m.SN]
	if !ok {
		Log.Warnf("[%s] catalog session not exist. sn=%d, device=%s", s.uniqueKey, m.SN, m.DeviceID)
		return
	}
	d, ok := s.domains[sess.domainId]
	if !ok {
		return
	}

	sess.sum = m.SumNum
	for i := range m.DeviceList {
		sess.recvd++
		s.addDevice(d, &m.DeviceList[i])
	}
	Log.Debugf("[%s] catalog page. domain=%s, sn=%d, sum=%d, recvd=%d", s.uniqueKey, d.id, sess.sn, sess.sum, sess.recvd)

	if sess.recvd < sess.sum {
		s.r.ResetTimer(sess.timerId)
		return
	}

	Log.Infof("[%s] catalog finish. domain=%s, sn=%d, sum=%d", s.uniqueKey, d.id, sess.sn, sess.sum)
	s.reconcile(d)
	s.r.DelTimer(sess.timerId)
	delete(s.catalogSessions, sess.sn)
	s.updateSessionMetrics()
}

func (s *Server) onCatalogTimeout(msg base.Message) {
	sess, ok := s.catalogSessions[msg.SessionId]
	if !ok {
		return
	}
	Log.Warnf("[%s] catalog timeout. domain=%s, sn=%d, sum=%d, recvd=%d",
		s.uniqueKey, sess.domainId, sess.sn, sess.sum, sess.recvd)
	s.metrics.incTimeout(sessionKindCatalog)

	// 一页都没收到时不能判断哪些设备消失了
	if d, ok := s.domains[sess.domainId]; ok && sess.sum > 0 && sess.recvd > 0 {
		s.reconcile(d)
	}
	delete(s.catalogSessions, sess.sn)
	s.updateSessionMetrics()
}

// reconcile 删除本轮同步中没有上报的设备
func (s *Server) reconcile(d *domain) {
	var ids []string
	for id, refreshed := range d.devices {
		if !refreshed {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return
	}
	for _, id := range ids {
		delete(d.devices, id)
		s.postDeviceEvent("device_del", d.id, id)
	}
	s.devReg.DeleteDevice(ids)
	Log.Infof("[%s] catalog reconcile, delete devices. domain=%s, num=%d", s.uniqueKey, d.id, len(ids))
}

// addDevice 目录项写入域和设备注册表
func (s *Server) addDevice(d *domain, item *CatalogItem) {
	id := strings.TrimSpace(item.DeviceID)
	if id == "" {
		return
	}

	dev := devmgr.Device{
		DeviceId:     id,
		ParentId:     s.parentIdOf(d.id, id, item),
		DomainId:     d.id,
		Name:         strings.TrimSpace(item.Name),
		Status:       strings.ToUpper(strings.TrimSpace(item.Status)),
		Manufacturer: item.Manufacturer,
		Model:        item.Model,
		Owner:        item.Owner,
		CivilCode:    item.CivilCode,
		Address:      item.Address,
		IpAddr:       item.IPAddress,
		Port:         item.Port,
		Longitude:    item.Longitude,
		Latitude:     item.Latitude,
		PtzType:      item.PTZType,
		Type:         devmgr.DeviceTypeFromId(id),
		Protocol:     devmgr.ProtocolGbDev,
		Refreshed:    true,
	}
	if dev.Name == "" {
		dev.Name = id
	}
	switch dev.Status {
	case "":
		dev.Status = devmgr.StatusUnknown
	case "ONLINE":
		dev.Status = devmgr.StatusOn
	case "OFFLINE":
		dev.Status = devmgr.StatusOff
	}

	_, known := s.devReg.FindDevice(id)
	s.devReg.AddOrUpdateDevice(dev)
	d.devices[id] = true
	if known {
		s.postDeviceEvent("device_update", d.id, id)
	} else {
		s.postDeviceEvent("device_add", d.id, id)
	}
}

// parentIdOf
//
// 优先级：ParentID 节点，行政区划编码截短，BusinessGroupID，所属域，本级平台
//
func (s *Server) parentIdOf(domainId string, id string, item *CatalogItem) string {
	if item.ParentID != nil {
		if p := strings.TrimSpace(*item.ParentID); p != "" {
			return p
		}
	}
	switch len(id) {
	case 4, 6, 8:
		return id[:len(id)-2]
	}
	if item.BusinessGroupID != nil {
		if p := strings.TrimSpace(*item.BusinessGroupID); p != "" {
			return p
		}
	}
	if id != domainId {
		return domainId
	}
	return s.config.ServerId
}
