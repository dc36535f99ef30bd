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
	"strings"

	"github.com/q191201771/lalgb/pkg/devmgr"
	"github.com/q191201771/lalgb/pkg/sip"
)

// onMessage 设备发来的 MESSAGE，包体为 MANSCDP
func (s *Server) onMessage(msg *sip.Message, t ITransport, addr *net.UDPAddr) {
	if len(msg.Body) == 0 || !msg.IsManscdp() {
		s.reply(msg, t, addr, 200, true)
		return
	}

	m, err := ParseManscdp(msg.Body)
	if err != nil {
		Log.Warnf("[%s] parse manscdp failed. raddr=%s, err=%+v", s.uniqueKey, addr, err)
		s.reply(msg, t, addr, 400, true)
		return
	}

	switch m.CmdType {
	case cmdTypeKeepalive:
		domainId := sip.IdOf(msg.From())
		if _, ok := s.domains[domainId]; !ok {
			Log.Warnf("[%s] keepalive from unregistered domain. domain=%s, raddr=%s", s.uniqueKey, domainId, addr)
			s.reply(msg, t, addr, 403, true)
			return
		}
		s.reply(msg, t, addr, 200, true)
	case cmdTypeCatalog:
		s.reply(msg, t, addr, 200, true)
		s.onCatalogResponse(m)
	case cmdTypeRecordInfo:
		s.reply(msg, t, addr, 200, true)
		s.onRecordResponse(m)
	case cmdTypePresetQuery:
		s.reply(msg, t, addr, 200, true)
		s.onPresetResponse(m)
	case cmdTypeMediaStatus:
		s.reply(msg, t, addr, 200, true)
		s.onMediaStatus(msg, m)
	default:
		Log.Warnf("[%s] unknown manscdp cmd type. cmd=%s, root=%s, device=%s", s.uniqueKey, m.CmdType, m.XMLName.Local, m.DeviceID)
		s.reply(msg, t, addr, 200, true)
	}
}

// onNotify 目录订阅的事件通知
func (s *Server) onNotify(msg *sip.Message, t ITransport, addr *net.UDPAddr) {
	s.reply(msg, t, addr, 200, true)
	if len(msg.Body) == 0 {
		return
	}

	m, err := ParseManscdp(msg.Body)
	if err != nil {
		Log.Warnf("[%s] parse notify body failed. raddr=%s, err=%+v", s.uniqueKey, addr, err)
		return
	}

	domainId := sip.IdOf(msg.From())
	d, ok := s.domains[domainId]
	if !ok {
		Log.Warnf("[%s] notify from unregistered domain. domain=%s", s.uniqueKey, domainId)
		return
	}

	for i := range m.DeviceList {
		item := &m.DeviceList[i]
		event := strings.ToUpper(strings.TrimSpace(item.Event))
		if event == "" {
			continue
		}
		id := strings.TrimSpace(item.DeviceID)

		if event == catalogEventAdd {
			s.addDevice(d, item)
			continue
		}
		if _, ok := s.devReg.FindDevice(id); !ok {
			Log.Warnf("[%s] notify for unknown device. domain=%s, device=%s, event=%s", s.uniqueKey, d.id, id, event)
			continue
		}

		switch event {
		case catalogEventUpdate:
			s.addDevice(d, item)
		case catalogEventOff, catalogEventVlost, catalogEventDefect:
			s.devReg.SetStatus(id, devmgr.StatusOff)
			s.postDeviceEvent("device_off", d.id, id)
		case catalogEventOn:
			s.devReg.SetStatus(id, devmgr.StatusOn)
			s.postDeviceEvent("device_on", d.id, id)
		case catalogEventDel:
			delete(d.devices, id)
			s.devReg.DeleteDevice([]string{id})
			s.postDeviceEvent("device_del", d.id, id)
		default:
			Log.Warnf("[%s] unknown catalog event. domain=%s, device=%s, event=%s", s.uniqueKey, d.id, id, event)
		}
	}
}
