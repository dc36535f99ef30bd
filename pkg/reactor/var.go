// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

// Package reactor 事件循环、跨reactor消息总线以及全局定时器
//
// 每个服务实例拥有一个 Reactor，运行在独立的 goroutine 中。
// 该 Reactor 的所有状态只在自己的 goroutine 中读写，其他 goroutine 只能通过 PostMsg 投递消息。
//
package reactor

import (
	"math"

	"github.com/q191201771/naza/pkg/nazalog"
)

var Log = nazalog.GetGlobalLogger()

// maxTimerId 定时器id到达该值后回绕到1
var maxTimerId = math.MaxInt32

var defaultStreamReadBufSize = 16384
