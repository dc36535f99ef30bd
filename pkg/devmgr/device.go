// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

// Package devmgr 设备与 NAT 映射表的管理
//
// 信令引擎通过 IDeviceRegistry 读写设备，本包提供内存实现 Manager，可选地写穿到 sqlite。
//
package devmgr

import (
	"strings"

	"github.com/q191201771/naza/pkg/nazalog"
)

var Log = nazalog.GetGlobalLogger()

const (
	StatusOn  = "ON"
	StatusOff = "OFF"

	// StatusUnknown 目录中没有携带 Status 的节点，比如行政区划、业务分组
	StatusUnknown = "unknown"
)

type DeviceType int

const (
	DeviceTypeUnknown DeviceType = iota
	DeviceTypeCamera
	DeviceTypeCivil
	DeviceTypeBizGroup
	DeviceTypeDomain
	DeviceTypeVirtualGroup
	DeviceTypeNvr
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeCamera:
		return "camera"
	case DeviceTypeCivil:
		return "civil"
	case DeviceTypeBizGroup:
		return "bizGroup"
	case DeviceTypeDomain:
		return "domain"
	case DeviceTypeVirtualGroup:
		return "virtualGroup"
	case DeviceTypeNvr:
		return "nvr"
	}
	return "unknown"
}

type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolGbDev
	ProtocolRtspDev
	ProtocolRtmpDev
	ProtocolOnvifDev
)

// Device 国标目录中的一个节点，摄像头、NVR、行政区划、业务分组都用它表示
type Device struct {
	DeviceId     string     `json:"deviceId"`
	ParentId     string     `json:"parentId"` // 多个父节点以 / 分隔
	DomainId     string     `json:"domainId"`
	Name         string     `json:"name"`
	Status       string     `json:"status"`
	Manufacturer string     `json:"manufacturer"`
	Model        string     `json:"model"`
	Owner        string     `json:"owner"`
	CivilCode    string     `json:"civilCode"`
	Address      string     `json:"address"`
	IpAddr       string     `json:"ipAddr"`
	User         string     `json:"user"`
	Pass         string     `json:"pass"`
	Longitude    string     `json:"longitude"`
	Latitude     string     `json:"latitude"`
	Port         int        `json:"port"`
	Url          string     `json:"url"`
	PtzType      int        `json:"ptzType"`
	Type         DeviceType `json:"type"`
	Protocol     Protocol   `json:"protocol"`
	BindIp       string     `json:"bindIP"`
	Remark       string     `json:"remark"`

	// Refreshed 目录同步中是否在本轮被设备上报过，同步结束时据此删除消失的设备
	Refreshed bool `json:"-"`
}

// DeviceTypeFromId 按国标编码规则（第11到13位为类型码）推导设备类型
func DeviceTypeFromId(id string) DeviceType {
	if len(id) < 9 {
		return DeviceTypeCivil
	}
	if len(id) != 20 {
		return DeviceTypeUnknown
	}
	switch id[10:13] {
	case "131", "132", "601", "121":
		return DeviceTypeCamera
	case "111":
		return DeviceTypeNvr
	case "215":
		return DeviceTypeBizGroup
	case "216":
		return DeviceTypeVirtualGroup
	case "200":
		return DeviceTypeDomain
	}
	return DeviceTypeUnknown
}

func (d *Device) ParentIds() []string {
	if d.ParentId == "" {
		return nil
	}
	return strings.Split(d.ParentId, "/")
}

func (d *Device) IsOnline() bool {
	return d.Status == StatusOn
}
