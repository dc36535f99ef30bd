// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

// Package logic 把总线、定时器、设备管理、国标信令服务和 HTTP API 组装成一个完整的 gbserver 进程
package logic

import (
	"path/filepath"

	"github.com/q191201771/naza/pkg/nazalog"
)

var Log = nazalog.GetGlobalLogger()

// ILalGbServer gbserver 对外暴露的接口，业务方可以在自己的进程中集成
type ILalGbServer interface {
	RunLoop() error
	Dispose()
}

// NewLalGbServer 创建一个 gbserver
//
// @param modOption: 定制化配置。可变参数，如果不关心，可以不填，具体字段见 Option
func NewLalGbServer(modOption ...ModOption) ILalGbServer {
	return NewServerManager(modOption...)
}

type Option struct {
	// ConfFilename 配置文件。
	//
	// 注意，如果为空，内部会尝试从 DefaultConfFilenameList 读取默认配置文件
	ConfFilename string

	// ConfRawContent 配置内容，json格式。
	//
	// 注意，读取加载配置的优先级是 ConfRawContent > ConfFilename > DefaultConfFilenameList
	ConfRawContent []byte
}

var defaultOption = Option{}

type ModOption func(option *Option)

// DefaultConfFilenameList 没有指定配置文件时，按顺序作为优先级，找到第一个存在的并使用
var DefaultConfFilenameList = []string{
	filepath.FromSlash("gbserver.conf.json"),
	filepath.FromSlash("./conf/gbserver.conf.json"),
	filepath.FromSlash("../gbserver.conf.json"),
	filepath.FromSlash("../conf/gbserver.conf.json"),
	filepath.FromSlash("../../gbserver.conf.json"),
	filepath.FromSlash("../../conf/gbserver.conf.json"),
	filepath.FromSlash("lalgb/conf/gbserver.conf.json"),
}
