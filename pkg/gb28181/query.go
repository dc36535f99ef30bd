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

	"github.com/q191201771/lalgb/pkg/base"
)

// RecordQuery MsgInitRecord 的 StrVal
type RecordQuery struct {
	DeviceId  string `json:"deviceId"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Type      string `json:"type"`
}

func (s *Server) initRecordInfo(msg base.Message) {
	var q RecordQuery
	if err := json.Unmarshal([]byte(msg.StrVal), &q); err != nil || q.DeviceId == "" {
		Log.Warnf("[%s] init record with invalid param. param=%s, err=%+v", s.uniqueKey, msg.StrVal, err)
		s.replyGenTo(msg, genRsp{Code: 1, Msg: "json error"})
		return
	}
	if q.Type == "" {
		q.Type = s.config.QueryRecordType
	}

	d, ok := s.deviceDomain(msg, q.DeviceId)
	if !ok {
		return
	}

	sn := s.recordSn.next(func(sn int) bool {
		_, exist := s.recordSessions[sn]
		return exist
	})
	if err := s.sendManscdp(d, q.DeviceId, packRecordInfoQuery(sn, q.DeviceId, q.StartTime, q.EndTime, q.Type)); err != nil {
		s.replyGenTo(msg, genRsp{Code: 1, Msg: "send query failed"})
		return
	}

	sess := s.newQuerySession(msg, sn, d.id, q.DeviceId)
	sess.records = make([]RecordItem, 0)
	sess.timerId = s.r.AddTimer(base.GbQueryTimeoutTick, base.Message{MsgId: base.MsgRecordTimeout, SessionId: sn}, false)
	s.recordSessions[sn] = sess
	s.updateSessionMetrics()
	Log.Infof("[%s] init record. device=%s, sn=%d, start=%s, end=%s, type=%s",
		s.uniqueKey, q.DeviceId, sn, q.StartTime, q.EndTime, q.Type)
}

func (s *Server) onRecordResponse(m *Manscdp) {
	sess, ok := s.recordSessions[m.SN]
	if !ok {
		Log.Warnf("[%s] record session not exist. sn=%d, device=%s", s.uniqueKey, m.SN, m.DeviceID)
		return
	}
	sess.sum = m.SumNum
	sess.records = append(sess.records, m.RecordList...)

	if len(sess.records) < sess.sum {
		s.r.ResetTimer(sess.timerId)
		return
	}

	Log.Infof("[%s] record finish. device=%s, sn=%d, sum=%d", s.uniqueKey, sess.deviceId, sess.sn, sess.sum)
	s.r.DelTimer(sess.timerId)
	s.replyGen(sess.srcType, sess.srcId, sess.sessionId, sess.kind, genRsp{Code: 0, Msg: "success", Result: sess.records})
	delete(s.recordSessions, sess.sn)
	s.updateSessionMetrics()
}

func (s *Server) onRecordTimeout(msg base.Message) {
	sess, ok := s.recordSessions[msg.SessionId]
	if !ok {
		return
	}
	Log.Warnf("[%s] record timeout. device=%s, sn=%d, sum=%d, recvd=%d",
		s.uniqueKey, sess.deviceId, sess.sn, sess.sum, len(sess.records))
	s.metrics.incTimeout(sessionKindRecord)
	s.replyGen(sess.srcType, sess.srcId, sess.sessionId, sess.kind, genRsp{Code: 1, Msg: "init record time out"})
	delete(s.recordSessions, sess.sn)
	s.updateSessionMetrics()
}

// ---------------------------------------------------------------------------------------------------------------------

// queryPreset StrVal 为设备id
func (s *Server) queryPreset(msg base.Message) {
	deviceId := msg.StrVal
	d, ok := s.deviceDomain(msg, deviceId)
	if !ok {
		return
	}

	sn := s.presetSn.next(func(sn int) bool {
		_, exist := s.presetSessions[sn]
		return exist
	})
	if err := s.sendManscdp(d, deviceId, packPresetQuery(sn, deviceId)); err != nil {
		s.replyGenTo(msg, genRsp{Code: 1, Msg: "send query failed"})
		return
	}

	sess := s.newQuerySession(msg, sn, d.id, deviceId)
	sess.presets = make([]PresetItem, 0)
	sess.timerId = s.r.AddTimer(base.GbQueryTimeoutTick, base.Message{MsgId: base.MsgQueryPresetTimeout, SessionId: sn}, false)
	s.presetSessions[sn] = sess
	s.updateSessionMetrics()
	Log.Infof("[%s] query preset. device=%s, sn=%d", s.uniqueKey, deviceId, sn)
}

func (s *Server) onPresetResponse(m *Manscdp) {
	sess, ok := s.presetSessions[m.SN]
	if !ok {
		Log.Warnf("[%s] preset session not exist. sn=%d, device=%s", s.uniqueKey, m.SN, m.DeviceID)
		return
	}
	sess.sum = m.SumNum
	sess.presets = append(sess.presets, m.PresetList...)

	if len(sess.presets) < sess.sum {
		s.r.ResetTimer(sess.timerId)
		return
	}

	Log.Infof("[%s] preset finish. device=%s, sn=%d, sum=%d", s.uniqueKey, sess.deviceId, sess.sn, sess.sum)
	s.r.DelTimer(sess.timerId)
	s.replyGen(sess.srcType, sess.srcId, sess.sessionId, sess.kind, genRsp{Code: 0, Msg: "ok", Result: sess.presets})
	delete(s.presetSessions, sess.sn)
	s.updateSessionMetrics()
}

func (s *Server) onPresetTimeout(msg base.Message) {
	sess, ok := s.presetSessions[msg.SessionId]
	if !ok {
		return
	}
	Log.Warnf("[%s] preset timeout. device=%s, sn=%d", s.uniqueKey, sess.deviceId, sess.sn)
	s.metrics.incTimeout(sessionKindPreset)
	s.replyGen(sess.srcType, sess.srcId, sess.sessionId, sess.kind, genRsp{Code: 1, Msg: "querypreset time out"})
	delete(s.presetSessions, sess.sn)
	s.updateSessionMetrics()
}

// ---------------------------------------------------------------------------------------------------------------------

// deviceDomain 找到设备所在的已注册下级域，找不到时直接应答请求方
func (s *Server) deviceDomain(msg base.Message, deviceId string) (*domain, bool) {
	dev, ok := s.devReg.FindDevice(deviceId)
	if !ok {
		s.replyGenTo(msg, genRsp{Code: 1, Msg: "dev not exist"})
		return nil, false
	}
	d, ok := s.domains[dev.DomainId]
	if !ok {
		s.replyGenTo(msg, genRsp{Code: 1, Msg: "dev domain not exist"})
		return nil, false
	}
	return d, true
}

func (s *Server) newQuerySession(msg base.Message, sn int, domainId string, deviceId string) *querySession {
	return &querySession{
		sn:        sn,
		kind:      msg.MsgId,
		domainId:  domainId,
		deviceId:  deviceId,
		srcType:   msg.SrcType,
		srcId:     msg.SrcId,
		sessionId: msg.SessionId,
	}
}
