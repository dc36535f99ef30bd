// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package gb28181

import "github.com/q191201771/lalgb/pkg/base"

// IConfigSource 引擎读取配置的接口，key 使用点号分隔的路径，比如 "gb28181.server_id"
type IConfigSource interface {
	GetConfigStr(key string) string
	GetConfigInt(key string) int
}

const (
	ConfKeyLocalBindIp     = "gb28181.local_bind_ip"
	ConfKeyServerPort      = "gb28181.server_port"
	ConfKeyServerId        = "gb28181.server_id"
	ConfKeyServerPass      = "gb28181.server_pass"
	ConfKeyUseRAddr        = "gb28181.use_raddr"
	ConfKeyQueryRecordType = "gb28181.query_record_type"
	ConfKeyTransport       = "gb28181.transport"
	ConfKeyRtpIp           = "gb28181.rtp_ip"
	ConfKeyRtpPort         = "gb28181.rtp_port"
	ConfKeyPtzWorkerNum    = "gb28181.ptz_worker_num"
)

type ServerConfig struct {
	LocalBindIp string
	ServerPort  int
	ServerId    string
	ServerPass  string

	// UseRAddr udp 注册时总是用收包地址改写 Contact
	UseRAddr bool

	QueryRecordType string

	// 以下为调用方未指定时 INVITE 的默认值
	Transport base.Transport
	RtpIp     string
	RtpPort   int

	PtzWorkerNum int
}

var defaultPtzWorkerNum = 4

// LoadServerConfig 从配置源读取，缺省值在配置源一侧处理
func LoadServerConfig(src IConfigSource) ServerConfig {
	c := ServerConfig{
		LocalBindIp:     src.GetConfigStr(ConfKeyLocalBindIp),
		ServerPort:      src.GetConfigInt(ConfKeyServerPort),
		ServerId:        src.GetConfigStr(ConfKeyServerId),
		ServerPass:      src.GetConfigStr(ConfKeyServerPass),
		UseRAddr:        src.GetConfigInt(ConfKeyUseRAddr) != 0,
		QueryRecordType: src.GetConfigStr(ConfKeyQueryRecordType),
		Transport:       base.ParseTransport(src.GetConfigStr(ConfKeyTransport)),
		RtpIp:           src.GetConfigStr(ConfKeyRtpIp),
		RtpPort:         src.GetConfigInt(ConfKeyRtpPort),
		PtzWorkerNum:    src.GetConfigInt(ConfKeyPtzWorkerNum),
	}
	if c.PtzWorkerNum <= 0 {
		c.PtzWorkerNum = defaultPtzWorkerNum
	}
	if c.QueryRecordType == "" {
		c.QueryRecordType = "all"
	}
	return c
}
