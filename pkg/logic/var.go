// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package logic

import "time"

// HTTP API 在总线上的实例id，信令服务的应答和事件都投递到这里
var httpApiInstanceId = 1

// 信令服务在总线上的实例id
var gbServerInstanceId = 1

// ptz 自动停止的默认等待时间，以及允许的范围
var (
	ptzDefaultTimeoutMs = 500
	ptzMaxTimeoutMs     = 10000
)

// 自定义设备连通性检查：任务池大小、整体超时的 tick 数、单次建连超时
var (
	devCheckWorkerNum   = 4
	devCheckTimeoutTick = 5
	devCheckDialTimeout = 3 * time.Second
)

var defaultRtspPort = 554

// websocket 事件推送每个订阅者的缓冲条数，写不过来时丢弃
var wsSubQueueSize = 128
