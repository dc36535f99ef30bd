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
	"io"
	"net/http"
	"strconv"

	"github.com/q191201771/lalgb/pkg/base"
	"github.com/q191201771/lalgb/pkg/devmgr"
	"github.com/q191201771/lalgb/pkg/gb28181"
	"github.com/q191201771/naza/pkg/nazajson"
)

var errParamMissing = errors.New("lalgb.logic: param missing")

// readJsonBody 解析请求体，必填字段缺失时返回错误，返回的 nazajson.Json 用于判断选填字段是否出现
func readJsonBody(req *http.Request, info interface{}, keyFieldList ...string) (nazajson.Json, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nazajson.Json{}, err
	}
	if err = json.Unmarshal(body, info); err != nil {
		return nazajson.Json{}, err
	}
	j, err := nazajson.New(body)
	if err != nil {
		return nazajson.Json{}, err
	}
	for _, kf := range keyFieldList {
		if !j.Exist(kf) {
			return j, errParamMissing
		}
	}
	return j, nil
}

// gbDevice 设备存在并且是国标设备时返回true，否则已经应答过请求方
func (h *HttpApiServer) gbDevice(w http.ResponseWriter, deviceId string, notGbMsg string) bool {
	dev, ok := h.devStore.FindDevice(deviceId)
	if !ok {
		feedback(w, genRsp{Code: 1, Msg: "dev not exist"})
		return false
	}
	if dev.Protocol != devmgr.ProtocolGbDev {
		feedback(w, genRsp{Code: 1, Msg: notGbMsg})
		return false
	}
	return true
}

// replyGen MsgGenHttpRsp 的 StrVal 已经是完整的 json 应答
func replyGen(w http.ResponseWriter) func(rsp base.Message) bool {
	return func(rsp base.Message) bool {
		if rsp.MsgId != base.MsgGenHttpRsp {
			return false
		}
		feedbackRaw(w, rsp.StrVal)
		return true
	}
}

// ----- /api/gb -------------------------------------------------------------------------------------------------------

type gbServerInfo struct {
	Id        string `json:"id"`
	Ip        string `json:"ip"`
	Port      int    `json:"port"`
	Pass      string `json:"pass"`
	Transport string `json:"rtpTransport"`
}

func (h *HttpApiServer) gbServerHandler(w http.ResponseWriter, req *http.Request) {
	feedback(w, genRsp{Code: 0, Msg: "success", Result: gbServerInfo{
		Id:        h.gbConfig.ServerId,
		Ip:        h.gbConfig.LocalBindIp,
		Port:      h.gbConfig.ServerPort,
		Pass:      h.gbConfig.ServerPass,
		Transport: h.gbConfig.Transport.String(),
	}})
}

// initCatalogHandler 对所有已注册的下级域重新发起目录同步，不等待结果
func (h *HttpApiServer) initCatalogHandler(w http.ResponseWriter, req *http.Request) {
	msg := base.Message{
		MsgId:   base.MsgHttpInitCatalog,
		DstType: base.ServiceGbServer,
		DstId:   gbServerInstanceId,
	}
	if err := h.r.PostMsg(msg); err != nil {
		Log.Errorf("[%s] post init catalog failed. err=%+v", h.uniqueKey, err)
		feedback(w, genRsp{Code: 1, Msg: "gb server not available"})
		return
	}
	feedback(w, genRsp{Code: 0, Msg: "success"})
}

func (h *HttpApiServer) registDomainHandler(w http.ResponseWriter, req *http.Request) {
	h.call(w, req, base.Message{MsgId: base.MsgGetRegistDomain}, replyGen(w))
}

func (h *HttpApiServer) queryRecordHandler(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	var q gb28181.RecordQuery
	if err == nil {
		err = json.Unmarshal(body, &q)
	}
	if err != nil || q.DeviceId == "" {
		Log.Warnf("[%s] http api query record with invalid param. err=%+v", h.uniqueKey, err)
		feedback(w, genRsp{Code: 1, Msg: "json error"})
		return
	}
	if !h.gbDevice(w, q.DeviceId, "dev not gb device") {
		return
	}
	Log.Infof("[%s] http api query record. req=%+v", h.uniqueKey, q)
	h.call(w, req, base.Message{MsgId: base.MsgInitRecord, StrVal: string(body)}, replyGen(w))
}

type inviteReq struct {
	DeviceId  string `json:"deviceId"`
	CallId    string `json:"callId"`
	RtpIp     string `json:"rtpIp"`
	RtpPort   int    `json:"rtpPort"`
	Transport string `json:"transport"`
	Type      int    `json:"type"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type inviteResult struct {
	CallId string `json:"callId"`
	Sdp    string `json:"sdp"`
}

// inviteHandler 等到设备的最终应答再返回，之后的状态变化走 websocket 推送
func (h *HttpApiServer) inviteHandler(w http.ResponseWriter, req *http.Request) {
	var info inviteReq
	j, err := readJsonBody(req, &info, "deviceId")
	if err != nil {
		Log.Warnf("[%s] http api invite with invalid param. err=%+v", h.uniqueKey, err)
		feedback(w, genRsp{Code: 1, Msg: "json error"})
		return
	}
	if !h.gbDevice(w, info.DeviceId, "dev not gb device") {
		return
	}

	ctx := base.GbContext{
		GbId:      info.DeviceId,
		CallId:    info.CallId,
		RtpIp:     info.RtpIp,
		RtpPort:   info.RtpPort,
		Transport: h.gbConfig.Transport,
		Type:      info.Type,
		StartTime: info.StartTime,
		EndTime:   info.EndTime,
	}
	if j.Exist("transport") {
		ctx.Transport = base.ParseTransport(info.Transport)
	}
	Log.Infof("[%s] http api invite. req=%+v", h.uniqueKey, info)

	callId := info.CallId
	h.call(w, req, base.Message{MsgId: base.MsgInitInvite, Any: ctx}, func(rsp base.Message) bool {
		if rsp.MsgId != base.MsgInviteCallRsp {
			return false
		}
		switch rsp.IntVal {
		case gb28181.InviteCodeTrying:
			callId = rsp.StrVal
			return false
		case gb28181.InviteCodeOk:
			feedback(w, genRsp{Code: 0, Msg: "success", Result: inviteResult{CallId: callId, Sdp: rsp.StrVal}})
		default:
			feedback(w, genRsp{Code: rsp.IntVal, Msg: rsp.StrVal})
		}
		return true
	})
}

func (h *HttpApiServer) stopInviteHandler(w http.ResponseWriter, req *http.Request) {
	var info struct {
		CallId string `json:"callId"`
	}
	if _, err := readJsonBody(req, &info, "callId"); err != nil {
		feedback(w, genRsp{Code: 1, Msg: "json error"})
		return
	}
	msg := base.Message{
		MsgId:   base.MsgStopInviteCall,
		DstType: base.ServiceGbServer,
		DstId:   gbServerInstanceId,
		StrVal:  info.CallId,
	}
	if err := h.r.PostMsg(msg); err != nil {
		feedback(w, genRsp{Code: 1, Msg: "gb server not available"})
		return
	}
	Log.Infof("[%s] http api stop invite. callId=%s", h.uniqueKey, info.CallId)
	feedback(w, genRsp{Code: 0, Msg: "success"})
}

// ----- /api/device ---------------------------------------------------------------------------------------------------

type deviceList struct {
	Total int             `json:"total"`
	List  []devmgr.Device `json:"list"`
}

func (h *HttpApiServer) deviceListHandler(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	if id := q.Get("deviceId"); id != "" {
		dev, ok := h.devStore.FindDevice(id)
		if !ok {
			feedback(w, genRsp{Code: 1, Msg: "dev not exist"})
			return
		}
		feedback(w, genRsp{Code: 0, Msg: "success", Result: dev})
		return
	}

	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("size"))
	total, list := h.devStore.GetAllDevice(page, size)
	if list == nil {
		list = make([]devmgr.Device, 0)
	}
	feedback(w, genRsp{Code: 0, Msg: "success", Result: deviceList{Total: total, List: list}})
}

func (h *HttpApiServer) deviceDelHandler(w http.ResponseWriter, req *http.Request) {
	var info struct {
		Device []string `json:"device"`
	}
	if _, err := readJsonBody(req, &info, "device"); err != nil {
		feedback(w, genRsp{Code: 1, Msg: "json error"})
		return
	}
	Log.Infof("[%s] http api delete device. device=%v", h.uniqueKey, info.Device)
	h.devStore.DeleteDevice(info.Device)
	feedback(w, genRsp{Code: 0, Msg: "success"})
}

func (h *HttpApiServer) queryPresetHandler(w http.ResponseWriter, req *http.Request) {
	var info struct {
		DeviceId string `json:"deviceId"`
	}
	if _, err := readJsonBody(req, &info, "deviceId"); err != nil {
		feedback(w, genRsp{Code: 1, Msg: "json error"})
		return
	}
	if !h.gbDevice(w, info.DeviceId, "dev not support preset query") {
		return
	}
	h.call(w, req, base.Message{MsgId: base.MsgQueryPreset, StrVal: info.DeviceId}, replyGen(w))
}

type ptzReq struct {
	DeviceId string `json:"deviceId"`
	PresetId string `json:"presetID"`
	PtzCmd   int    `json:"ptzCmd"`
	Timeout  int    `json:"timeout"`
}

// ptzControlHandler 校验后直接应答，不等待设备
func (h *HttpApiServer) ptzControlHandler(w http.ResponseWriter, req *http.Request) {
	var info ptzReq
	j, err := readJsonBody(req, &info, "deviceId", "ptzCmd")
	if err != nil {
		feedback(w, genRsp{Code: 1, Msg: "json error"})
		return
	}
	if !j.Exist("timeout") || info.Timeout < 1 || info.Timeout > ptzMaxTimeoutMs {
		info.Timeout = ptzDefaultTimeoutMs
	}
	if !h.gbDevice(w, info.DeviceId, "dev not support ptz") {
		return
	}
	if !gb28181.IsValidPtzCmd(info.PtzCmd) {
		feedback(w, genRsp{Code: 1, Msg: "param error"})
		return
	}

	msg := base.Message{
		MsgId:   base.MsgPtzControl,
		DstType: base.ServiceGbServer,
		DstId:   gbServerInstanceId,
		Any: base.PtzCmd{
			DevId:     info.DeviceId,
			PresetId:  info.PresetId,
			PtzCmd:    info.PtzCmd,
			TimeoutMs: info.Timeout,
		},
	}
	if err := h.r.PostMsg(msg); err != nil {
		feedback(w, genRsp{Code: 1, Msg: "gb server not available"})
		return
	}
	feedback(w, genRsp{Code: 0, Msg: "ok"})
}

// ----- /api/sys/netmap -----------------------------------------------------------------------------------------------

type netMapReq struct {
	FromIp string `json:"fromIP"`
	ToIp   string `json:"toIP"`
}

func (h *HttpApiServer) netMapGetHandler(w http.ResponseWriter, req *http.Request) {
	feedback(w, genRsp{Code: 0, Msg: "success", Result: h.devStore.NetMap()})
}

func (h *HttpApiServer) netMapAddHandler(w http.ResponseWriter, req *http.Request) {
	var info netMapReq
	if _, err := readJsonBody(req, &info, "fromIP", "toIP"); err != nil {
		feedback(w, genRsp{Code: 1, Msg: "json error"})
		return
	}
	Log.Infof("[%s] http api add net map. from=%s, to=%s", h.uniqueKey, info.FromIp, info.ToIp)
	h.devStore.AddMapIp(info.FromIp, info.ToIp)
	feedback(w, genRsp{Code: 0, Msg: "success"})
}

func (h *HttpApiServer) netMapDelHandler(w http.ResponseWriter, req *http.Request) {
	var info netMapReq
	if _, err := readJsonBody(req, &info, "fromIP"); err != nil {
		feedback(w, genRsp{Code: 1, Msg: "json error"})
		return
	}
	Log.Infof("[%s] http api del net map. from=%s", h.uniqueKey, info.FromIp)
	h.devStore.DelMapIp(info.FromIp)
	feedback(w, genRsp{Code: 0, Msg: "success"})
}
