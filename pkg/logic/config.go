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
	"fmt"
	"os"
	"strings"

	"github.com/q191201771/lalgb/pkg/base"
	"github.com/q191201771/lalgb/pkg/gb28181"
	"github.com/q191201771/naza/pkg/nazajson"
	"github.com/q191201771/naza/pkg/nazalog"
)

const (
	defaultGbServerPort      = 5060
	defaultGbServerId        = "34020000002000000001"
	defaultQueryRecordType   = "all"
	defaultPtzWorkerNum      = 4
	defaultHttpApiAddr       = ":8083"
	defaultHttpReplyTimeout  = 30000
	defaultMetricsPath       = "/metrics"
	defaultPprofAddr         = ":8084"
	defaultTimerTickMs       = 1000
	defaultDbFilename        = "./gbserver.db"
	defaultLogFilename       = "./logs/gbserver.log"
	defaultTransport         = "udp"
	defaultWsEventPath       = "/api/gb/events"
	defaultHttpApiCorsOrigin = "*"
)

type Config struct {
	ConfVersion   string            `json:"conf_version"`
	Gb28181Config Gb28181Config     `json:"gb28181"`
	NetMap        map[string]string `json:"net_map"`
	DbConfig      DbConfig          `json:"db"`
	TimerConfig   TimerConfig       `json:"timer"`
	HttpApiConfig HttpApiConfig     `json:"http_api"`
	MetricsConfig MetricsConfig     `json:"metrics"`
	PprofConfig   PprofConfig       `json:"pprof"`
	LogConfig     nazalog.Option    `json:"log"`
}

type Gb28181Config struct {
	LocalBindIp     string `json:"local_bind_ip"`
	ServerPort      int    `json:"server_port"`
	ServerId        string `json:"server_id"`
	ServerPass      string `json:"server_pass"`
	UseRAddr        bool   `json:"use_raddr"`
	QueryRecordType string `json:"query_record_type"`
	Transport       string `json:"transport"`
	RtpIp           string `json:"rtp_ip"`
	RtpPort         int    `json:"rtp_port"`
	PtzWorkerNum    int    `json:"ptz_worker_num"`
}

type DbConfig struct {
	// Filename 为空时设备只保存在内存中
	Filename string `json:"filename"`
}

type TimerConfig struct {
	TickMs int `json:"tick_ms"`
}

type HttpApiConfig struct {
	Enable         bool   `json:"enable"`
	Addr           string `json:"addr"`
	ReplyTimeoutMs int    `json:"reply_timeout_ms"`
	CorsOrigin     string `json:"cors_origin"`
	WsEventPath    string `json:"ws_event_path"`
}

// MetricsConfig 指标挂在 http api 的路由上
type MetricsConfig struct {
	Enable bool   `json:"enable"`
	Path   string `json:"path"`
}

type PprofConfig struct {
	Enable bool   `json:"enable"`
	Addr   string `json:"addr"`
}

// LoadConfAndInitLog 解析配置并初始化日志，任何失败都直接退出进程
func LoadConfAndInitLog(rawContent []byte) *Config {
	config, err := LoadConf(rawContent)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load conf failed. err=%+v\n", err)
		base.OsExitAndWaitPressIfWindows(1)
	}

	if err = nazalog.Init(func(option *nazalog.Option) {
		*option = config.LogConfig
	}); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "initial log failed. err=%+v\n", err)
		base.OsExitAndWaitPressIfWindows(1)
	}
	Log.Info("initial log succ.")

	if config.ConfVersion != base.ConfVersion {
		Log.Warnf("config version invalid. conf version of gbserver=%s, conf version of config file=%s",
			base.ConfVersion, config.ConfVersion)
	}

	Log.Infof("load conf succ. content=%+v", config)
	return config
}

// LoadConf 解析配置，配置中没有出现的字段使用默认值
func LoadConf(rawContent []byte) (*Config, error) {
	var config Config
	if err := json.Unmarshal(rawContent, &config); err != nil {
		return nil, fmt.Errorf("%w. err=%v", base.ErrConfig, err)
	}

	j, err := nazajson.New(rawContent)
	if err != nil {
		return nil, fmt.Errorf("%w. err=%v", base.ErrConfig, err)
	}

	if !j.Exist("gb28181.server_port") {
		config.Gb28181Config.ServerPort = defaultGbServerPort
	}
	if !j.Exist("gb28181.server_id") {
		config.Gb28181Config.ServerId = defaultGbServerId
	}
	if !j.Exist("gb28181.query_record_type") {
		config.Gb28181Config.QueryRecordType = defaultQueryRecordType
	}
	if !j.Exist("gb28181.transport") {
		config.Gb28181Config.Transport = defaultTransport
	}
	if !j.Exist("gb28181.ptz_worker_num") || config.Gb28181Config.PtzWorkerNum <= 0 {
		config.Gb28181Config.PtzWorkerNum = defaultPtzWorkerNum
	}
	if !j.Exist("db.filename") {
		config.DbConfig.Filename = defaultDbFilename
	}
	if !j.Exist("timer.tick_ms") || config.TimerConfig.TickMs <= 0 {
		config.TimerConfig.TickMs = defaultTimerTickMs
	}
	if !j.Exist("http_api.enable") {
		config.HttpApiConfig.Enable = true
	}
	if !j.Exist("http_api.addr") {
		config.HttpApiConfig.Addr = defaultHttpApiAddr
	}
	// 0 和负数会让挂起的请求立即超时，按未配置处理
	if !j.Exist("http_api.reply_timeout_ms") || config.HttpApiConfig.ReplyTimeoutMs <= 0 {
		config.HttpApiConfig.ReplyTimeoutMs = defaultHttpReplyTimeout
	}
	if !j.Exist("http_api.cors_origin") {
		config.HttpApiConfig.CorsOrigin = defaultHttpApiCorsOrigin
	}
	if !j.Exist("http_api.ws_event_path") {
		config.HttpApiConfig.WsEventPath = defaultWsEventPath
	}
	if !j.Exist("metrics.enable") {
		config.MetricsConfig.Enable = true
	}
	if !j.Exist("metrics.path") {
		config.MetricsConfig.Path = defaultMetricsPath
	}
	if !j.Exist("pprof.addr") {
		config.PprofConfig.Addr = defaultPprofAddr
	}
	if !j.Exist("log.level") {
		config.LogConfig.Level = nazalog.LevelDebug
	}
	if !j.Exist("log.filename") {
		config.LogConfig.Filename = defaultLogFilename
	}
	if !j.Exist("log.is_to_stdout") {
		config.LogConfig.IsToStdout = true
	}
	if !j.Exist("log.is_rotate_daily") {
		config.LogConfig.IsRotateDaily = true
	}
	if !j.Exist("log.short_file_flag") {
		config.LogConfig.ShortFileFlag = true
	}
	if !j.Exist("log.timestamp_flag") {
		config.LogConfig.TimestampFlag = true
	}
	if !j.Exist("log.timestamp_with_ms_flag") {
		config.LogConfig.TimestampWithMsFlag = true
	}
	if !j.Exist("log.level_flag") {
		config.LogConfig.LevelFlag = true
	}
	if !j.Exist("log.assert_behavior") {
		config.LogConfig.AssertBehavior = nazalog.AssertError
	}

	if len(config.Gb28181Config.ServerId) != 20 {
		return nil, fmt.Errorf("%w. gb28181.server_id should be 20 digits, got %s", base.ErrConfig, config.Gb28181Config.ServerId)
	}
	if config.Gb28181Config.ServerPort <= 0 || config.Gb28181Config.ServerPort > 65535 {
		return nil, fmt.Errorf("%w. gb28181.server_port=%d", base.ErrConfig, config.Gb28181Config.ServerPort)
	}
	return &config, nil
}

// ----- implement gb28181.IConfigSource interface ---------------------------------------------------------------------

var _ gb28181.IConfigSource = &Config{}

func (c *Config) GetConfigStr(key string) string {
	g := &c.Gb28181Config
	switch key {
	case gb28181.ConfKeyLocalBindIp:
		return g.LocalBindIp
	case gb28181.ConfKeyServerId:
		return g.ServerId
	case gb28181.ConfKeyServerPass:
		return g.ServerPass
	case gb28181.ConfKeyQueryRecordType:
		return g.QueryRecordType
	case gb28181.ConfKeyTransport:
		return strings.ToLower(g.Transport)
	case gb28181.ConfKeyRtpIp:
		return g.RtpIp
	}
	Log.Warnf("unknown string config key. key=%s", key)
	return ""
}

func (c *Config) GetConfigInt(key string) int {
	g := &c.Gb28181Config
	switch key {
	case gb28181.ConfKeyServerPort:
		return g.ServerPort
	case gb28181.ConfKeyUseRAddr:
		if g.UseRAddr {
			return 1
		}
		return 0
	case gb28181.ConfKeyRtpPort:
		return g.RtpPort
	case gb28181.ConfKeyPtzWorkerNum:
		return g.PtzWorkerNum
	}
	Log.Warnf("unknown int config key. key=%s", key)
	return 0
}
