// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

// Package gb28181 GB28181 信令服务
//
// 接收下级域（NVR、平台、摄像头）的注册，同步目录，发起点播、录像查询、预置位查询和云台控制。
// Server 是一个 reactor，所有状态只在它自己的 goroutine 中修改，对外只通过总线消息交互。
//
package gb28181

import (
	"github.com/q191201771/naza/pkg/nazalog"
)

var Log = nazalog.GetGlobalLogger()

// 注册成功后延迟多少个 tick 发起目录同步，超时相关的 tick 见 base.GbXxxTick
var catalogDelayTick = 1

// 发给调用方的点播结果码，除此之外的值为设备回复的 SIP 状态码
const (
	InviteCodeClosed        = 0
	InviteCodeFailed        = 1
	InviteCodeTrying        = 100
	InviteCodeOk            = 200
	InviteCodeDeviceClosed  = 121
	InviteCodeDomainCleared = 998
	InviteCodeClientBye     = 999
)

const (
	cmdTypeKeepalive     = "Keepalive"
	cmdTypeCatalog       = "Catalog"
	cmdTypeRecordInfo    = "RecordInfo"
	cmdTypeMediaStatus   = "MediaStatus"
	cmdTypePresetQuery   = "PresetQuery"
	cmdTypeDeviceControl = "DeviceControl"

	mediaStatusNotifyTypeEnd = 121
)

// NOTIFY 目录事件
const (
	catalogEventAdd    = "ADD"
	catalogEventUpdate = "UPDATE"
	catalogEventDel    = "DEL"
	catalogEventOn     = "ON"
	catalogEventOff    = "OFF"
	catalogEventVlost  = "VLOST"
	catalogEventDefect = "DEFECT"
)
