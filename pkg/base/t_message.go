// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

import "fmt"

// ServiceType 总线上的服务类型，和 instance id 一起唯一确定一个 reactor
type ServiceType int

const (
	ServiceHttpServer ServiceType = iota + 1
	ServiceCommonReactor
	ServiceGbServer
	ServiceGbSource
	ServiceHttpStream
	ServiceRtspServer
	ServiceRtcServer
	ServiceJtServer
	ServiceJtSource
	ServiceRtmpServer
)

func (t ServiceType) String() string {
	switch t {
	case ServiceHttpServer:
		return "HTTPSERVER"
	case ServiceCommonReactor:
		return "COMMON"
	case ServiceGbServer:
		return "GBSERVER"
	case ServiceGbSource:
		return "GBSOURCE"
	case ServiceHttpStream:
		return "HTTPSTREAM"
	case ServiceRtspServer:
		return "RTSPSERVER"
	case ServiceRtcServer:
		return "RTCSERVER"
	case ServiceJtServer:
		return "JTSERVER"
	case ServiceJtSource:
		return "JTSOURCE"
	case ServiceRtmpServer:
		return "RTMPSERVER"
	}
	return fmt.Sprintf("SERVICE(%d)", int(t))
}

// MsgKind 总线消息类型
type MsgKind int

const (
	MsgExit MsgKind = 1
)

const (
	MsgRegTimeout MsgKind = iota + 0x100
	MsgInitCatalog
	MsgHttpInitCatalog
	MsgCatalogTimeout
	MsgInitRecord
	MsgRecordTimeout
	MsgInitInvite
	MsgInviteCallRsp
	MsgInviteTimeout
	MsgPtzControl
	MsgProbe
	MsgProbeTimeout
	MsgProbeFinish
	MsgQueryPreset
	MsgQueryPresetTimeout
	MsgGbServerHandlerClose
	MsgGetRegistDomain
	MsgStopInviteCall

	// MsgGenHttpRsp 通用应答，StrVal 为 json 结果，IntVal 为原请求的 MsgKind
	MsgGenHttpRsp

	// MsgDeviceEvent 设备或下级域状态变化，Any 为 DeviceEvent
	MsgDeviceEvent

	// MsgPtzStop 云台自动停止任务到期后回投给信令引擎
	MsgPtzStop

	// MsgEventReady reactor 内部使用，socket 就绪通知
	MsgEventReady
)

var msgKindNames = map[MsgKind]string{
	MsgExit:                 "EXIT",
	MsgRegTimeout:           "REG_TIME_OUT",
	MsgInitCatalog:          "INIT_CATALOG",
	MsgHttpInitCatalog:      "HTTP_INIT_CATALOG",
	MsgCatalogTimeout:       "CATALOG_TIME_OUT",
	MsgInitRecord:           "INIT_RECORD",
	MsgRecordTimeout:        "RECORD_TIME_OUT",
	MsgInitInvite:           "INIT_INVITE",
	MsgInviteCallRsp:        "INVITE_CALL_RSP",
	MsgInviteTimeout:        "INVITE_TIME_OUT",
	MsgPtzControl:           "PTZ_CONTROL",
	MsgProbe:                "PROBE",
	MsgProbeTimeout:         "PROBE_TIMEOUT",
	MsgProbeFinish:          "PROBE_FINISH",
	MsgQueryPreset:          "QUERY_PRESET",
	MsgQueryPresetTimeout:   "QUERY_PRESET_TIMEOUT",
	MsgGbServerHandlerClose: "GB_SERVER_HANDLER_CLOSE",
	MsgGetRegistDomain:      "GET_REGIST_DOMAIN",
	MsgStopInviteCall:       "STOP_INVITE_CALL",
	MsgGenHttpRsp:           "GEN_HTTP_RSP",
	MsgDeviceEvent:          "DEVICE_EVENT",
	MsgPtzStop:              "PTZ_STOP",
	MsgEventReady:           "EVENT_READY",
}

func (k MsgKind) String() string {
	if s, ok := msgKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("MSG(0x%x)", int(k))
}

// Message 总线消息，值类型，由目标 reactor 的处理函数消费一次
type Message struct {
	MsgId     MsgKind
	SrcType   ServiceType
	SrcId     int
	DstType   ServiceType
	DstId     int
	SessionId int

	IntVal int
	StrVal string
	Any    interface{}
}

func (m Message) String() string {
	return fmt.Sprintf("msg=%s, src=%s:%d, dst=%s:%d, session=%d, int=%d, str=%s",
		m.MsgId, m.SrcType, m.SrcId, m.DstType, m.DstId, m.SessionId, m.IntVal, m.StrVal)
}

// ---------------------------------------------------------------------------------------------------------------------

// Transport 国标媒体流传输方式
type Transport int

const (
	TransportUdp Transport = iota
	TransportTcpActive
	TransportTcpPassive
)

func ParseTransport(s string) Transport {
	switch s {
	case "tcp_active", "tcpactive", "active":
		return TransportTcpActive
	case "tcp_passive", "tcppassive", "passive":
		return TransportTcpPassive
	}
	return TransportUdp
}

func (t Transport) String() string {
	switch t {
	case TransportTcpActive:
		return "tcp_active"
	case TransportTcpPassive:
		return "tcp_passive"
	}
	return "udp"
}

// GbContext 发起 INVITE 时调用方携带的参数
type GbContext struct {
	GbId      string
	CallId    string
	RtpIp     string
	RtpPort   int
	Transport Transport

	// Type 0 实时流 1 录像回放
	Type      int
	StartTime string
	EndTime   string
}

// IsLive 起止时间都为空或0时为实时流
func (c GbContext) IsLive() bool {
	return c.Type == 0 && (c.StartTime == "" || c.StartTime == "0") && (c.EndTime == "" || c.EndTime == "0")
}

// PtzCmd 云台控制参数
type PtzCmd struct {
	DevId     string
	PresetId  string
	PtzCmd    int
	TimeoutMs int
}

// DeviceEvent 设备或下级域状态变化的通知内容
type DeviceEvent struct {
	Kind     string `json:"kind"` // "domain_online" | "domain_offline" | "device_add" | "device_update" | "device_del" | "device_on" | "device_off"
	DomainId string `json:"domain_id"`
	DeviceId string `json:"device_id,omitempty"`
	Time     string `json:"time"`
}
